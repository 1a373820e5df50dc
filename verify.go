package pcapidx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/pcapidx/internal/format"
)

// IndexHeader is the decoded header state of a verified index.
type IndexHeader struct {
	File     FileHeader
	Ordinal  *OrdinalHeader
	Temporal *TemporalHeader
	// Size is the index file size in bytes.
	Size int64
}

// Mode returns the index-mode bitmask.
func (h *IndexHeader) Mode() Mode {
	return h.File.Mode
}

// recordOffset returns the file offset of record i (0-based) of mode.
func (h *IndexHeader) recordOffset(mode Mode, i uint32) int64 {
	off := h.File.HeaderBytes()
	switch mode {
	case ModeOrdinal:
		return off + int64(i)*format.OrdinalRecordSize
	default:
		if h.Ordinal != nil {
			off += int64(h.Ordinal.RecordCount) * format.OrdinalRecordSize
		}
		return off + int64(i)*format.TemporalRecordSize
	}
}

// VerifyOption configures Verify.
type VerifyOption func(*verifyConfig)

type verifyConfig struct {
	details io.Writer
	dump    io.Writer
}

// VerifyWithDetails renders the header information to w after a successful
// verification.
func VerifyWithDetails(w io.Writer) VerifyOption {
	return func(c *verifyConfig) {
		c.details = w
	}
}

// VerifyWithDump streams every record to w after a successful verification.
func VerifyWithDump(w io.Writer) VerifyOption {
	return func(c *verifyConfig) {
		c.dump = w
	}
}

// Verify validates the index structure and populates the session's header
// state. Structural problems fail with ErrMalformedIndex.
func (s *Session) Verify(opts ...VerifyOption) (*IndexHeader, error) {
	var cfg verifyConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := s.readHeader()
	if err != nil {
		return nil, err
	}
	s.header = h
	s.log().Debug("verified index",
		slog.String("mode", h.Mode().String()),
		slog.Uint64("packets", uint64(h.File.PacketCount)),
		slog.Int64("size", h.Size))

	if cfg.details != nil {
		if err := s.Describe(cfg.details); err != nil {
			return h, err
		}
	}
	if cfg.dump != nil {
		if _, err := s.Dump(cfg.dump); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (s *Session) readHeader() (*IndexHeader, error) {
	size, err := s.index.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, ioError("seek index end", err)
	}
	if size < format.MinIndexSize {
		return nil, malformed("index too small: %d bytes", size)
	}
	if err := s.seekIndex(0); err != nil {
		return nil, err
	}

	b := make([]byte, format.FileHeaderSize)
	if _, err := io.ReadFull(s.index, b); err != nil {
		return nil, ioError("read index header", err)
	}
	fh, err := format.DecodeFileHeader(b)
	if err != nil {
		return nil, malformed("%v", err)
	}
	if fh.Magic != format.Magic {
		return nil, malformed("bad magic %#08x", fh.Magic)
	}
	if fh.VersionMajor != format.VersionMajor {
		return nil, malformed("unsupported version %d.%d", fh.VersionMajor, fh.VersionMinor)
	}

	h := &IndexHeader{File: fh, Size: size}
	if err := s.readSubHeaders(h); err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// readSubHeaders decodes one sub-header per tag until the header words are
// used up.
func (s *Session) readSubHeaders(h *IndexHeader) error {
	remaining := int(h.File.HeaderWords) - format.FileHeaderSize/4
	if remaining < 0 {
		return malformed("header size mismatch: %d words", h.File.HeaderWords)
	}
	var tag [1]byte
	buf := make([]byte, format.TemporalHeaderSize)
	for remaining > 0 {
		if _, err := io.ReadFull(s.index, tag[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return malformed("truncated header: %d words missing", remaining)
			}
			return ioError("read sub-header tag", err)
		}
		size, err := format.SubHeaderSize(tag[0])
		if err != nil {
			return malformed("%v", err)
		}
		remaining -= size / 4
		if remaining < 0 {
			return malformed("header size mismatch: %d", remaining)
		}
		buf[0] = tag[0]
		if _, err := io.ReadFull(s.index, buf[1:size]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return malformed("truncated %s sub-header", format.Mode(tag[0]).Name())
			}
			return ioError("read sub-header", err)
		}
		sub, err := format.DecodeSubHeader(buf[:size])
		if err != nil {
			return malformed("%v", err)
		}
		switch sh := sub.(type) {
		case *format.OrdinalHeader:
			if h.Ordinal != nil {
				return malformed("duplicate %s sub-header", sh.Mode().Name())
			}
			h.Ordinal = sh
		case *format.TemporalHeader:
			if h.Temporal != nil {
				return malformed("duplicate %s sub-header", sh.Mode().Name())
			}
			h.Temporal = sh
		}
	}
	return nil
}

// validate checks the decoded header against itself and the file size.
func (h *IndexHeader) validate() error {
	var present Mode
	records := h.File.HeaderBytes()
	if o := h.Ordinal; o != nil {
		present |= ModeOrdinal
		if o.Level == 0 {
			return malformed("zero %s index level", ModeOrdinal.Name())
		}
		if o.RecordCount == 0 {
			return malformed("no %s records", ModeOrdinal.Name())
		}
		records += int64(o.RecordCount) * format.OrdinalRecordSize
	}
	if t := h.Temporal; t != nil {
		present |= ModeTemporal
		if t.Level.IsZero() {
			return malformed("zero %s index level", ModeTemporal.Name())
		}
		if t.RecordCount == 0 {
			return malformed("no %s records", ModeTemporal.Name())
		}
		records += int64(t.RecordCount) * format.TemporalRecordSize
	}
	if present != h.File.Mode {
		return malformed("sub-headers %s disagree with index mode %s", present, h.File.Mode)
	}
	if records != h.Size {
		return malformed("record area size mismatch: want %d bytes, have %d", records, h.Size)
	}
	return nil
}

// Describe renders the verified header: version, creation time, packet
// count and, per mode, the index level and record count.
func (s *Session) Describe(w io.Writer) error {
	h := s.header
	if h == nil {
		return ErrNotVerified
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "valid index file\n")
	fmt.Fprintf(bw, "version:\t%d.%d\n", h.File.VersionMajor, h.File.VersionMinor)
	fmt.Fprintf(bw, "created:\t%s\n", h.File.Created.Format(s.location))
	fmt.Fprintf(bw, "packets:\t%d\n", h.File.PacketCount)
	if o := h.Ordinal; o != nil {
		fmt.Fprintf(bw, "indexing mode:\t%s\n", ModeOrdinal.Name())
		fmt.Fprintf(bw, "index level:\t%d\n", o.Level)
		fmt.Fprintf(bw, "record count:\t%d\n", o.RecordCount)
	}
	if t := h.Temporal; t != nil {
		fmt.Fprintf(bw, "indexing mode:\t%s\n", ModeTemporal.Name())
		fmt.Fprintf(bw, "index level:\t%s\n", t.Level.Span())
		fmt.Fprintf(bw, "record count:\t%d\n", t.RecordCount)
	}
	if err := bw.Flush(); err != nil {
		return ioError("write details", err)
	}
	return nil
}

// Dump streams every record of the verified index to w and returns the
// number of records written.
func (s *Session) Dump(w io.Writer) (int, error) {
	h := s.header
	if h == nil {
		return 0, ErrNotVerified
	}
	bw := bufio.NewWriter(w)
	var n int
	err := s.Records(func(rec any) error {
		switch r := rec.(type) {
		case OrdinalRecord:
			fmt.Fprintf(bw, "pkt num:\t%d\n", r.Packet)
			fmt.Fprintf(bw, "locator:\t%s\n", r.Locator)
		case TemporalRecord:
			fmt.Fprintf(bw, "timestamp:\t%s\n", r.Timestamp.Format(s.location))
			fmt.Fprintf(bw, "locator:\t%s\n", r.Locator)
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	if err := bw.Flush(); err != nil {
		return n, ioError("write dump", err)
	}
	return n, nil
}

// Records calls fn for every record of the verified index in file order.
// Records are OrdinalRecord or TemporalRecord values.
func (s *Session) Records(fn func(rec any) error) error {
	h := s.header
	if h == nil {
		return ErrNotVerified
	}
	if err := s.seekIndex(h.File.HeaderBytes()); err != nil {
		return err
	}
	r := bufio.NewReader(s.index)
	b := make([]byte, format.TemporalRecordSize)
	if o := h.Ordinal; o != nil {
		for i := range o.RecordCount {
			if _, err := io.ReadFull(r, b[:format.OrdinalRecordSize]); err != nil {
				return ioError(fmt.Sprintf("read %s record %d", ModeOrdinal.Name(), i), err)
			}
			rec, _ := format.DecodeOrdinalRecord(b)
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	if t := h.Temporal; t != nil {
		for i := range t.RecordCount {
			if _, err := io.ReadFull(r, b); err != nil {
				return ioError(fmt.Sprintf("read %s record %d", ModeTemporal.Name(), i), err)
			}
			rec, _ := format.DecodeTemporalRecord(b)
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
