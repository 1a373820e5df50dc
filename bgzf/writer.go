package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the deflate level used for each block.
// The default is flate.DefaultCompression.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithBlockSize sets the uncompressed data per block. Values outside
// (0, DefaultBlockDataSize] fall back to DefaultBlockDataSize.
func WithBlockSize(n int) WriterOption {
	return func(w *Writer) {
		if n <= 0 || n > DefaultBlockDataSize {
			n = DefaultBlockDataSize
		}
		w.blockSize = n
	}
}

// Writer compresses a stream into BGZF blocks.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	w         io.Writer
	level     int
	blockSize int

	buf    []byte
	addr   int64
	cbuf   bytes.Buffer
	fw     *flate.Writer
	stored *flate.Writer
	closed bool
}

// NewWriter returns a Writer that emits blocks to w.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	bw := &Writer{
		w:         w,
		level:     flate.DefaultCompression,
		blockSize: DefaultBlockDataSize,
	}
	for _, opt := range opts {
		opt(bw)
	}
	fw, err := flate.NewWriter(&bw.cbuf, bw.level)
	if err != nil {
		return nil, fmt.Errorf("bgzf: %w", err)
	}
	bw.fw = fw
	bw.buf = make([]byte, 0, bw.blockSize)
	return bw, nil
}

// Write implements io.Writer. Data is buffered until a full block is
// available.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	var n int
	for len(p) > 0 {
		c := min(len(p), w.blockSize-len(w.buf))
		w.buf = append(w.buf, p[:c]...)
		p = p[c:]
		n += c
		if len(w.buf) == w.blockSize {
			if err := w.flushBlock(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Tell returns the virtual offset the next written byte will have.
func (w *Writer) Tell() Offset {
	return MakeOffset(w.addr, uint16(len(w.buf))) //nolint:gosec // buf < blockSize
}

// Flush compresses any buffered data into a block, starting a new block for
// subsequent writes.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	return w.flushBlock()
}

// Close flushes buffered data and writes the end-of-file marker. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	w.closed = true
	if _, err := w.w.Write(eofMarker); err != nil {
		return fmt.Errorf("bgzf: write eof marker: %w", err)
	}
	w.addr += int64(len(eofMarker))
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.deflate(w.fw); err != nil {
		return err
	}
	if headerSize+w.cbuf.Len()+trailerSize > MaxBlockSize {
		// Incompressible input; stored blocks always fit.
		if w.stored == nil {
			fw, err := flate.NewWriter(&w.cbuf, flate.NoCompression)
			if err != nil {
				return fmt.Errorf("bgzf: %w", err)
			}
			w.stored = fw
		}
		if err := w.deflate(w.stored); err != nil {
			return err
		}
	}

	total := headerSize + w.cbuf.Len() + trailerSize
	var hdr [headerSize]byte
	copy(hdr[:16], eofMarker[:16])
	binary.LittleEndian.PutUint16(hdr[16:18], uint16(total-1)) //nolint:gosec // total <= MaxBlockSize
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(w.buf))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(w.buf))) //nolint:gosec // buf < MaxBlockSize

	for _, part := range [][]byte{hdr[:], w.cbuf.Bytes(), trailer[:]} {
		if _, err := w.w.Write(part); err != nil {
			return fmt.Errorf("bgzf: write block: %w", err)
		}
	}
	w.addr += int64(total)
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) deflate(fw *flate.Writer) error {
	w.cbuf.Reset()
	fw.Reset(&w.cbuf)
	if _, err := fw.Write(w.buf); err != nil {
		return fmt.Errorf("bgzf: deflate: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("bgzf: deflate: %w", err)
	}
	return nil
}
