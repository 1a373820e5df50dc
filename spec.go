package pcapidx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseIndexSpec parses "mode:level" index specs, several of which may be
// joined with ','. Ordinal levels are a positive packet count
// ("pkt-num:1000"). Temporal levels are a positive count with a unit suffix
// of d, h, m, s or u for days, hours, minutes, seconds or microseconds
// ("timestamp:100s").
func ParseIndexSpec(spec string) ([]IndexSpec, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("%w: empty index string", ErrInvalidSpec)
	}
	var specs []IndexSpec
	var seen Mode
	for _, part := range strings.Split(spec, ",") {
		is, err := parseOneIndexSpec(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if seen.Has(is.Mode) {
			return nil, fmt.Errorf("%w: %s given twice in %q", ErrInvalidSpec, is.Mode, spec)
		}
		seen |= is.Mode
		specs = append(specs, is)
	}
	return specs, nil
}

func parseOneIndexSpec(spec string) (IndexSpec, error) {
	mode, level, err := splitSpec(spec)
	if err != nil {
		return IndexSpec{}, err
	}
	switch mode {
	case ModeOrdinal:
		n, err := parseCount(level)
		if err != nil {
			return IndexSpec{}, fmt.Errorf("%w: invalid index string %q", ErrInvalidSpec, spec)
		}
		return OrdinalIndex(n), nil
	default:
		if len(level) < 2 {
			return IndexSpec{}, fmt.Errorf("%w: invalid index string %q", ErrInvalidSpec, spec)
		}
		unit := level[len(level)-1]
		n, err := parseCount(level[:len(level)-1])
		if err != nil {
			return IndexSpec{}, fmt.Errorf("%w: invalid index string %q", ErrInvalidSpec, spec)
		}
		var interval Timestamp
		switch unit {
		case 'd':
			interval, err = secondsInterval(n, 86400)
		case 'h':
			interval, err = secondsInterval(n, 3600)
		case 'm':
			interval, err = secondsInterval(n, 60)
		case 's':
			interval, err = secondsInterval(n, 1)
		case 'u':
			interval = TimestampFromMicros(int64(n))
		default:
			return IndexSpec{}, fmt.Errorf("%w: invalid index specifier %q", ErrInvalidSpec, unit)
		}
		if err != nil {
			return IndexSpec{}, err
		}
		return IndexSpec{Mode: ModeTemporal, Interval: interval}, nil
	}
}

func secondsInterval(n, unit uint32) (Timestamp, error) {
	secs := uint64(n) * uint64(unit)
	if secs > 1<<32-1 {
		return Timestamp{}, fmt.Errorf("%w: %w: interval of %d seconds", ErrInvalidSpec, ErrSizeOverflow, secs)
	}
	return Timestamp{Sec: uint32(secs)}, nil
}

// splitSpec splits "mode:rest" and resolves the mode name.
func splitSpec(spec string) (Mode, string, error) {
	name, rest, ok := strings.Cut(spec, ":")
	if !ok || rest == "" {
		return 0, "", fmt.Errorf("%w: expected mode:value, got %q", ErrInvalidSpec, spec)
	}
	mode, ok := ModeByName(name)
	if !ok {
		return 0, "", fmt.Errorf("%w: unknown mode %q", ErrInvalidSpec, name)
	}
	return mode, rest, nil
}

// parseCount parses a positive decimal count made of digits only.
func parseCount(s string) (uint32, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q is not a count", ErrInvalidSpec, s)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSpec, s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidSpec, s)
	}
	return uint32(n), nil
}

const stampPattern = `\d{4}-\d{1,2}-\d{1,2}:\d{1,2}:\d{1,2}:\d{1,2}(?:\.\d{1,6})?`

var stampRange = regexp.MustCompile(`^(` + stampPattern + `)(?:-(` + stampPattern + `))?$`)

// ParseRange parses an extraction spec. Ordinal ranges are "pkt-num:n" or
// "pkt-num:n-m". Temporal ranges are "timestamp:START" or
// "timestamp:START-STOP" where each side is YYYY-MM-DD:HH:MM:SS with an
// optional .ffffff fraction, read in loc. A single value selects a range
// that starts and stops at it.
func ParseRange(spec string, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.Local
	}
	mode, rest, err := splitSpec(strings.TrimSpace(spec))
	if err != nil {
		return Range{}, err
	}
	var r Range
	switch mode {
	case ModeOrdinal:
		startS, stopS, isRange := strings.Cut(rest, "-")
		start, err := parseCount(startS)
		if err != nil {
			return Range{}, err
		}
		stop := start
		if isRange {
			if stop, err = parseCount(stopS); err != nil {
				return Range{}, err
			}
		}
		r = OrdinalRange(start, stop)
	default:
		m := stampRange.FindStringSubmatch(rest)
		if m == nil {
			return Range{}, fmt.Errorf("%w: invalid timestamp range %q", ErrInvalidSpec, rest)
		}
		from, err := ParseTimestamp(m[1], loc)
		if err != nil {
			return Range{}, err
		}
		to := from
		if m[2] != "" {
			if to, err = ParseTimestamp(m[2], loc); err != nil {
				return Range{}, err
			}
		}
		r = TemporalRange(from, to)
	}
	if err := r.validate(); err != nil {
		return Range{}, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return r, nil
}

// ParseTimestamp parses YYYY-MM-DD:HH:MM:SS[.ffffff] in loc.
func ParseTimestamp(s string, loc *time.Location) (Timestamp, error) {
	if loc == nil {
		loc = time.Local
	}
	base, frac, _ := strings.Cut(s, ".")
	t, err := time.ParseInLocation("2006-1-2:15:4:5", base, loc)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q: %w", ErrInvalidSpec, s, err)
	}
	if t.Unix() < 0 || t.Unix() > 1<<32-1 {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q out of range", ErrInvalidSpec, s)
	}
	var usec uint64
	if frac != "" {
		if len(frac) > 6 || strings.TrimLeft(frac, "0123456789") != "" {
			return Timestamp{}, fmt.Errorf("%w: timestamp %q: bad fraction", ErrInvalidSpec, s)
		}
		frac += strings.Repeat("0", 6-len(frac))
		if usec, err = strconv.ParseUint(frac, 10, 32); err != nil {
			return Timestamp{}, fmt.Errorf("%w: timestamp %q: %w", ErrInvalidSpec, s, err)
		}
	}
	return Timestamp{Sec: uint32(t.Unix()), Usec: uint32(usec)}, nil //nolint:gosec // range checked above
}

// ModeHelp describes the supported index and extraction modes.
func ModeHelp() string {
	return `pkt-num:
  index:   pkt-num:N indexes packet 1 and every Nth packet,
           N from 1 to the number of packets - 1.
           To index every 1000 packets:      pkt-num:1000
  extract: pkt-num:n or pkt-num:n-m, 1 <= n <= m <= number of packets.
           To extract packets 9500 to 9999:   pkt-num:9500-9999

timestamp:
  index:   timestamp:N<unit> indexes a packet whenever more than N units
           passed since the last indexed packet. Units:
             d - days
             h - hours
             m - minutes
             s - seconds
             u - microseconds
           To index every 100 seconds:        timestamp:100s
  extract: timestamp:START-STOP, each YYYY-MM-DD:HH:MM:SS[.ffffff].
           Timestamps must match packets exactly unless fuzzy
           matching is enabled.
           timestamp:2024-03-01:12:00:00-2024-03-01:12:05:00.250000

Several index specs may be joined with ',' to build both sub-headers in
one pass: pkt-num:1000,timestamp:100s
`
}
