package pcapidx

import (
	"io"
	"log/slog"
	"time"
)

// Option configures a Session.
type Option func(*Session)

// WithCapture sets the capture container read by Build and Extract. The
// caller keeps ownership of the container.
func WithCapture(c Container) Option {
	return func(s *Session) {
		s.capture = c
	}
}

// WithOutput sets where Extract writes the output capture.
func WithOutput(w io.Writer) Option {
	return func(s *Session) {
		s.output = w
	}
}

// WithFuzzyMatching lets temporal extraction accept the nearest packet when a
// start or stop timestamp is not present in the capture. A fuzzy match is
// logged as a warning and reported on the result.
func WithFuzzyMatching(enabled bool) Option {
	return func(s *Session) {
		s.fuzzy = enabled
	}
}

// WithLogger sets the logger for debug traces and fuzzy-match warnings.
// A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithProgress sets a callback for progress updates during long scans.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) {
		s.progress = fn
	}
}

// WithLocation sets the time zone used to render timestamps in details and
// dumps. The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Session) {
		s.location = loc
	}
}

// WithClock sets the clock used for the index creation time.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}
