// Package file holds small I/O helpers shared by the index writer and the
// extraction engine.
package file

import (
	"errors"
	"io"
)

// ErrOverflow indicates a counter exceeded its maximum value.
var ErrOverflow = errors.New("counter overflow")

// CountingWriter wraps a writer and counts bytes and packet records written
// through it.
type CountingWriter struct {
	W io.Writer
	// N is the number of bytes written.
	N uint64
	// Records is incremented by MarkRecord.
	Records uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Writer contract
		if cw.N > ^uint64(0)-uint64(n) {
			return n, ErrOverflow
		}
		cw.N += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}

// MarkRecord counts one complete record.
func (cw *CountingWriter) MarkRecord() {
	cw.Records++
}

// WriteRecord writes the parts of one record in order and counts it once
// every part has been written in full.
func (cw *CountingWriter) WriteRecord(parts ...[]byte) error {
	for _, p := range parts {
		n, err := cw.Write(p)
		if err != nil {
			return err
		}
		if n < len(p) {
			return io.ErrShortWrite
		}
	}
	cw.MarkRecord()
	return nil
}
