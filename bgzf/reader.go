package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// DefaultReadAhead is the number of compressed bytes fetched per source
// read.
const DefaultReadAhead = 4 * MaxBlockSize

// Source provides random access to a compressed stream.
type Source interface {
	io.ReaderAt
	Size() int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReadAhead sets how many compressed bytes are fetched from the source
// at once. Values below MaxBlockSize are raised to MaxBlockSize.
func WithReadAhead(n int) ReaderOption {
	return func(r *Reader) {
		r.readAhead = max(n, MaxBlockSize)
	}
}

// Reader decompresses a BGZF stream and tracks its virtual offset.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	src       Source
	size      int64
	readAhead int

	win    []byte
	winOff int64

	block     []byte
	pos       int
	blockAddr int64
	nextAddr  int64

	inflate io.ReadCloser
	cdata   bytes.Reader
}

// NewReader returns a Reader positioned at the start of src.
func NewReader(src Source, opts ...ReaderOption) *Reader {
	r := &Reader{
		src:       src,
		size:      src.Size(),
		readAhead: DefaultReadAhead,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read implements io.Reader. It returns io.EOF at the end of the stream.
func (r *Reader) Read(p []byte) (int, error) {
	var n int
	for n < len(p) {
		if r.pos >= len(r.block) {
			if err := r.next(); err != nil {
				if n > 0 && errors.Is(err, io.EOF) {
					return n, nil
				}
				return n, err
			}
			continue
		}
		c := copy(p[n:], r.block[r.pos:])
		r.pos += c
		n += c
	}
	return n, nil
}

// Tell returns the virtual offset of the next byte Read would return. Once
// a block is fully consumed the offset names the start of the following
// block.
func (r *Reader) Tell() Offset {
	if r.pos >= len(r.block) {
		return MakeOffset(r.nextAddr, 0)
	}
	return MakeOffset(r.blockAddr, uint16(r.pos)) //nolint:gosec // pos < MaxBlockSize
}

// Seek positions the reader at a virtual offset previously returned by Tell.
func (r *Reader) Seek(off Offset) error {
	addr := off.Block()
	if addr < 0 || addr > r.size {
		return fmt.Errorf("%w: %s", ErrOffset, off)
	}
	if addr == r.size {
		if off.Within() != 0 {
			return fmt.Errorf("%w: %s", ErrOffset, off)
		}
		r.block, r.pos = r.block[:0], 0
		r.blockAddr, r.nextAddr = addr, addr
		return nil
	}
	if err := r.load(addr); err != nil {
		return err
	}
	if int(off.Within()) > len(r.block) {
		return fmt.Errorf("%w: %s", ErrOffset, off)
	}
	r.pos = int(off.Within())
	return nil
}

// Skip discards n decompressed bytes. It returns io.ErrUnexpectedEOF if the
// stream ends first.
func (r *Reader) Skip(n int64) error {
	for n > 0 {
		if r.pos >= len(r.block) {
			if err := r.next(); err != nil {
				if errors.Is(err, io.EOF) {
					return io.ErrUnexpectedEOF
				}
				return err
			}
			continue
		}
		avail := int64(len(r.block) - r.pos)
		step := min(avail, n)
		r.pos += int(step)
		n -= step
	}
	return nil
}

// next loads the block following the current one.
func (r *Reader) next() error {
	if r.nextAddr >= r.size {
		return io.EOF
	}
	return r.load(r.nextAddr)
}

// load decompresses the block at addr and makes it current.
func (r *Reader) load(addr int64) error {
	fixed, err := r.fetch(addr, fixedSize)
	if err != nil {
		return err
	}
	xlen, err := parseFixedHeader(fixed)
	if err != nil {
		return fmt.Errorf("block at %d: %w", addr, err)
	}
	hdr, err := r.fetch(addr, fixedSize+xlen)
	if err != nil {
		return err
	}
	total, err := blockSize(hdr[fixedSize:])
	if err != nil {
		return fmt.Errorf("block at %d: %w", addr, err)
	}
	if total < fixedSize+xlen+trailerSize || total > MaxBlockSize {
		return fmt.Errorf("block at %d: %w: size %d", addr, ErrHeader, total)
	}
	raw, err := r.fetch(addr, total)
	if err != nil {
		return err
	}

	trailer := raw[total-trailerSize:]
	wantCRC := binary.LittleEndian.Uint32(trailer[0:4])
	isize := int(binary.LittleEndian.Uint32(trailer[4:8]))
	if isize > MaxBlockSize {
		return fmt.Errorf("block at %d: %w: isize %d", addr, ErrHeader, isize)
	}

	r.cdata.Reset(raw[fixedSize+xlen : total-trailerSize])
	if r.inflate == nil {
		r.inflate = flate.NewReader(&r.cdata)
	} else if err := r.inflate.(flate.Resetter).Reset(&r.cdata, nil); err != nil {
		return fmt.Errorf("block at %d: %w", addr, err)
	}
	if cap(r.block) < isize {
		r.block = make([]byte, isize, MaxBlockSize)
	}
	r.block = r.block[:isize]
	if _, err := io.ReadFull(r.inflate, r.block); err != nil {
		return fmt.Errorf("block at %d: inflate: %w", addr, err)
	}
	if crc32.ChecksumIEEE(r.block) != wantCRC {
		return fmt.Errorf("block at %d: %w", addr, ErrChecksum)
	}

	r.pos = 0
	r.blockAddr = addr
	r.nextAddr = addr + int64(total)
	return nil
}

// fetch returns n bytes at off, served from the read-ahead window when
// possible. The slice is valid until the next fetch.
func (r *Reader) fetch(off int64, n int) ([]byte, error) {
	if off >= r.winOff && off+int64(n) <= r.winOff+int64(len(r.win)) {
		start := off - r.winOff
		return r.win[start : start+int64(n)], nil
	}
	want := int64(max(n, r.readAhead))
	if rem := r.size - off; want > rem {
		want = rem
	}
	if want < int64(n) {
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, off, io.ErrUnexpectedEOF)
	}
	if int64(cap(r.win)) < want {
		r.win = make([]byte, want)
	}
	r.win = r.win[:want]
	got, err := r.src.ReadAt(r.win, off)
	if got < n {
		r.win = r.win[:0]
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read %d bytes at %d: %w", n, off, err)
	}
	r.win = r.win[:got]
	r.winOff = off
	return r.win[:n], nil
}

// IsBGZF reports whether src begins with a BGZF block header.
func IsBGZF(src io.ReaderAt) (bool, error) {
	b := make([]byte, headerSize)
	n, err := src.ReadAt(b, 0)
	if n < len(b) {
		if err == nil || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return isBlockHeader(b), nil
}

// HasEOFMarker reports whether src ends with the BGZF end-of-file block.
func HasEOFMarker(src Source) (bool, error) {
	size := src.Size()
	if size < int64(len(eofMarker)) {
		return false, nil
	}
	b := make([]byte, len(eofMarker))
	n, err := src.ReadAt(b, size-int64(len(eofMarker)))
	if n < len(b) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return false, err
	}
	return bytes.Equal(b, eofMarker), nil
}
