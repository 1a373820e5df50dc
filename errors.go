package pcapidx

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is returned when a read, write or seek on the index, capture or
	// output fails. The underlying cause is wrapped alongside it.
	ErrIO = errors.New("pcapidx: i/o failure")

	// ErrMalformedIndex is returned when an index file fails structural
	// validation: bad magic, size mismatch, unknown sub-header tag or
	// truncation.
	ErrMalformedIndex = errors.New("pcapidx: malformed index")

	// ErrRange is returned when a requested range is invalid or cannot be
	// reached through the index.
	ErrRange = errors.New("pcapidx: range error")

	// ErrNotFound is returned when an exact timestamp is absent from the
	// capture and fuzzy matching is disabled.
	ErrNotFound = errors.New("pcapidx: timestamp not found")

	// ErrExhausted is returned when the capture ends before a request is
	// satisfied.
	ErrExhausted = errors.New("pcapidx: capture exhausted")

	// ErrNoRecords is returned when building an index produces no records,
	// usually because the index level is too coarse for the capture.
	ErrNoRecords = errors.New("pcapidx: no records written")

	// ErrModeMismatch is returned when an extraction range names a mode the
	// index was not built with.
	ErrModeMismatch = errors.New("pcapidx: index mode mismatch")

	// ErrInvalidSpec is returned when an index or extraction spec string
	// cannot be parsed.
	ErrInvalidSpec = errors.New("pcapidx: invalid spec")

	// ErrNotContainer is returned when a capture is not BGZF-compressed.
	ErrNotContainer = errors.New("pcapidx: not a bgzf container")

	// ErrSizeOverflow is returned when a count exceeds the 32-bit fields of
	// the index format.
	ErrSizeOverflow = errors.New("pcapidx: size overflow")

	// ErrNotVerified is returned when an operation needs header state that
	// only Verify populates.
	ErrNotVerified = errors.New("pcapidx: index not verified")

	// ErrNoCapture is returned when an operation needs a capture and the
	// session has none.
	ErrNoCapture = errors.New("pcapidx: no capture")
)

// ioError wraps an I/O failure as ErrIO while keeping cause matchable.
func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// malformed builds an ErrMalformedIndex with a reason.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedIndex, fmt.Sprintf(format, args...))
}
