package file

import (
	"context"
	"errors"
	"io"
)

// CopyContext copies src to dst through buf, checking ctx between reads.
// It returns the number of bytes written to dst.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (uint64, error) {
	cw := &CountingWriter{W: dst}
	for {
		if err := ctx.Err(); err != nil {
			return cw.N, err
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			if err := cw.WriteRecord(buf[:nr]); err != nil {
				return cw.N, err
			}
		}
		if errors.Is(er, io.EOF) {
			return cw.N, nil
		}
		if er != nil {
			return cw.N, er
		}
	}
}
