package format

import (
	"fmt"
	"time"
)

const microsPerSecond = 1_000_000

// Timestamp is a (seconds, microseconds) pair as stored in capture packet
// headers and temporal index records.
type Timestamp struct {
	Sec  uint32
	Usec uint32
}

// TimestampFromTime converts t to a Timestamp, truncating to microseconds.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{
		Sec:  uint32(t.Unix()),               //nolint:gosec // capture timestamps are 32-bit
		Usec: uint32(t.Nanosecond() / 1_000), //nolint:gosec // always < 1e6
	}
}

// TimestampFromMicros builds a normalized Timestamp from a microsecond count.
func TimestampFromMicros(us int64) Timestamp {
	if us < 0 {
		return Timestamp{}
	}
	return Timestamp{
		Sec:  uint32(us / microsPerSecond), //nolint:gosec // callers bound us to 32-bit seconds
		Usec: uint32(us % microsPerSecond), //nolint:gosec // always < 1e6
	}
}

// Micros returns the timestamp as microseconds since the epoch.
func (t Timestamp) Micros() int64 {
	return int64(t.Sec)*microsPerSecond + int64(t.Usec)
}

// IsZero reports whether both fields are zero.
func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Usec == 0
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to, or
// after u.
func (t Timestamp) Compare(u Timestamp) int {
	a, b := t.Micros(), u.Micros()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool { return t.Compare(u) < 0 }

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t.Compare(u) > 0 }

// Sub returns t-u in microseconds. The result is negative when t precedes u.
func (t Timestamp) Sub(u Timestamp) int64 {
	return t.Micros() - u.Micros()
}

// Time converts t to a time.Time in loc.
func (t Timestamp) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(int64(t.Sec), int64(t.Usec)*1_000).In(loc)
}

// Format renders t as "YYYY-MM-DD HH:MM:SS.ffffff" in loc.
func (t Timestamp) Format(loc *time.Location) string {
	return fmt.Sprintf("%s.%06d", t.Time(loc).Format(time.DateTime), t.Usec)
}

// String renders t in UTC.
func (t Timestamp) String() string {
	return t.Format(time.UTC)
}

// Span is a Timestamp read as an elapsed interval, broken into calendar-free
// components.
type Span struct {
	Days    uint32
	Hours   uint32
	Minutes uint32
	Seconds uint32
	Micros  uint32
}

// Span decomposes t, read as an interval, into days, hours, minutes, seconds
// and microseconds.
func (t Timestamp) Span() Span {
	s := t.Sec
	days := s / 86400
	s -= days * 86400
	hours := s / 3600
	s -= hours * 3600
	minutes := s / 60
	s -= minutes * 60
	return Span{
		Days:    days,
		Hours:   hours,
		Minutes: minutes,
		Seconds: s,
		Micros:  t.Usec,
	}
}

// String renders the span as d:h:m:s.
func (s Span) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", s.Days, s.Hours, s.Minutes, s.Seconds)
}
