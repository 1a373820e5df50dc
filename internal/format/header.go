package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Magic identifies an index file.
const Magic uint32 = 0xa1b2c3ff

// Format version written by this package.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 3
)

// Fixed on-disk sizes in bytes.
const (
	FileHeaderSize     = 20
	OrdinalHeaderSize  = 12
	TemporalHeaderSize = 16
	OrdinalRecordSize  = 12
	TemporalRecordSize = 16
)

// MinIndexSize is the smallest plausible index: a base header, one
// sub-header and one record.
const MinIndexSize = FileHeaderSize + OrdinalHeaderSize + OrdinalRecordSize

// ByteOrder is the byte order of every integer in an index file.
var ByteOrder binary.ByteOrder = binary.NativeEndian

var (
	// ErrShortBuffer is returned when a decode is given fewer bytes than the
	// layout requires.
	ErrShortBuffer = errors.New("short buffer")

	// ErrUnknownTag is returned when a sub-header tag names no known mode.
	ErrUnknownTag = errors.New("unknown sub-header tag")
)

// FileHeader is the fixed base header at offset zero.
type FileHeader struct {
	Magic        uint32
	VersionMajor uint8
	VersionMinor uint8
	Mode         Mode
	// HeaderWords is the size of the base header plus every sub-header, in
	// 4-byte words.
	HeaderWords uint8
	PacketCount uint32
	Created     Timestamp
}

// NewFileHeader returns a header for an index of the given modes, with
// HeaderWords covering every implied sub-header.
func NewFileHeader(mode Mode, created time.Time) FileHeader {
	return FileHeader{
		Magic:        Magic,
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		Mode:         mode,
		HeaderWords:  HeaderWords(mode),
		Created:      TimestampFromTime(created),
	}
}

// HeaderWords returns the header size, in words, implied by mode.
func HeaderWords(mode Mode) uint8 {
	words := FileHeaderSize / 4
	if mode.Has(ModeOrdinal) {
		words += OrdinalHeaderSize / 4
	}
	if mode.Has(ModeTemporal) {
		words += TemporalHeaderSize / 4
	}
	return uint8(words)
}

// HeaderBytes returns the header size in bytes, which is also the offset of
// the first record.
func (h FileHeader) HeaderBytes() int64 {
	return int64(h.HeaderWords) * 4
}

// MarshalTo encodes h into b, which must hold FileHeaderSize bytes.
func (h FileHeader) MarshalTo(b []byte) {
	_ = b[FileHeaderSize-1]
	ByteOrder.PutUint32(b[0:4], h.Magic)
	b[4] = h.VersionMajor
	b[5] = h.VersionMinor
	b[6] = byte(h.Mode)
	b[7] = h.HeaderWords
	ByteOrder.PutUint32(b[8:12], h.PacketCount)
	ByteOrder.PutUint32(b[12:16], h.Created.Sec)
	ByteOrder.PutUint32(b[16:20], h.Created.Usec)
}

// Bytes returns the encoded header.
func (h FileHeader) Bytes() []byte {
	b := make([]byte, FileHeaderSize)
	h.MarshalTo(b)
	return b
}

// DecodeFileHeader decodes a base header. It does not validate the magic.
func DecodeFileHeader(b []byte) (FileHeader, error) {
	if len(b) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("file header: %w", ErrShortBuffer)
	}
	return FileHeader{
		Magic:        ByteOrder.Uint32(b[0:4]),
		VersionMajor: b[4],
		VersionMinor: b[5],
		Mode:         Mode(b[6]),
		HeaderWords:  b[7],
		PacketCount:  ByteOrder.Uint32(b[8:12]),
		Created: Timestamp{
			Sec:  ByteOrder.Uint32(b[12:16]),
			Usec: ByteOrder.Uint32(b[16:20]),
		},
	}, nil
}

// SubHeader is one tag-prefixed header extension. The concrete types are
// *OrdinalHeader and *TemporalHeader.
type SubHeader interface {
	// Mode returns the mode named by the sub-header's tag byte.
	Mode() Mode
	// Size returns the encoded size in bytes.
	Size() int
	// Records returns the number of records in this mode's record region.
	Records() uint32
	// RecordSize returns the encoded size of one record of this mode.
	RecordSize() int
	// MarshalTo encodes the sub-header into b.
	MarshalTo(b []byte)
}

// OrdinalHeader describes a packet-number record region.
type OrdinalHeader struct {
	RecordCount uint32
	// Level is the packet stride; packet 1 and every multiple of Level are
	// indexed.
	Level uint32
}

// Mode implements SubHeader.
func (*OrdinalHeader) Mode() Mode { return ModeOrdinal }

// Size implements SubHeader.
func (*OrdinalHeader) Size() int { return OrdinalHeaderSize }

// Records implements SubHeader.
func (h *OrdinalHeader) Records() uint32 { return h.RecordCount }

// RecordSize implements SubHeader.
func (*OrdinalHeader) RecordSize() int { return OrdinalRecordSize }

// MarshalTo implements SubHeader. Reserved bytes are written as zero.
func (h *OrdinalHeader) MarshalTo(b []byte) {
	_ = b[OrdinalHeaderSize-1]
	b[0] = byte(ModeOrdinal)
	b[1] = 0
	ByteOrder.PutUint16(b[2:4], 0)
	ByteOrder.PutUint32(b[4:8], h.RecordCount)
	ByteOrder.PutUint32(b[8:12], h.Level)
}

// TemporalHeader describes a timestamp record region.
type TemporalHeader struct {
	RecordCount uint32
	// Level is the minimum elapsed time between two indexed packets.
	Level Timestamp
}

// Mode implements SubHeader.
func (*TemporalHeader) Mode() Mode { return ModeTemporal }

// Size implements SubHeader.
func (*TemporalHeader) Size() int { return TemporalHeaderSize }

// Records implements SubHeader.
func (h *TemporalHeader) Records() uint32 { return h.RecordCount }

// RecordSize implements SubHeader.
func (*TemporalHeader) RecordSize() int { return TemporalRecordSize }

// MarshalTo implements SubHeader. Reserved bytes are written as zero.
func (h *TemporalHeader) MarshalTo(b []byte) {
	_ = b[TemporalHeaderSize-1]
	b[0] = byte(ModeTemporal)
	b[1] = 0
	ByteOrder.PutUint16(b[2:4], 0)
	ByteOrder.PutUint32(b[4:8], h.RecordCount)
	ByteOrder.PutUint32(b[8:12], h.Level.Sec)
	ByteOrder.PutUint32(b[12:16], h.Level.Usec)
}

// SubHeaderSize maps a tag byte to the encoded size of its sub-header.
func SubHeaderSize(tag byte) (int, error) {
	switch Mode(tag) {
	case ModeOrdinal:
		return OrdinalHeaderSize, nil
	case ModeTemporal:
		return TemporalHeaderSize, nil
	default:
		return 0, fmt.Errorf("%w: %#02x", ErrUnknownTag, tag)
	}
}

// DecodeSubHeader decodes the sub-header whose tag is b[0]. b must hold the
// full encoded sub-header.
func DecodeSubHeader(b []byte) (SubHeader, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("sub-header: %w", ErrShortBuffer)
	}
	size, err := SubHeaderSize(b[0])
	if err != nil {
		return nil, err
	}
	if len(b) < size {
		return nil, fmt.Errorf("%s sub-header: %w", Mode(b[0]).Name(), ErrShortBuffer)
	}
	switch Mode(b[0]) {
	case ModeOrdinal:
		return &OrdinalHeader{
			RecordCount: ByteOrder.Uint32(b[4:8]),
			Level:       ByteOrder.Uint32(b[8:12]),
		}, nil
	default:
		return &TemporalHeader{
			RecordCount: ByteOrder.Uint32(b[4:8]),
			Level: Timestamp{
				Sec:  ByteOrder.Uint32(b[8:12]),
				Usec: ByteOrder.Uint32(b[12:16]),
			},
		}, nil
	}
}
