package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Block layout constants.
const (
	// MaxBlockSize is the largest compressed member BGZF allows.
	MaxBlockSize = 0x10000

	// DefaultBlockDataSize is the amount of uncompressed data the writer puts
	// in one block. It leaves room for incompressible input.
	DefaultBlockDataSize = 0xff00

	headerSize  = 18
	trailerSize = 8
	fixedSize   = 12
)

// eofMarker is the empty block every well-formed BGZF stream ends with.
var eofMarker = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00,
	0x00, 0xff, 0x06, 0x00, 0x42, 0x43, 0x02, 0x00,
	0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var (
	// ErrHeader is returned when a block does not start with a BGZF header.
	ErrHeader = errors.New("bgzf: invalid block header")

	// ErrChecksum is returned when a block's CRC32 or size trailer does not
	// match its decompressed data.
	ErrChecksum = errors.New("bgzf: block checksum mismatch")

	// ErrOffset is returned when a virtual offset does not address data.
	ErrOffset = errors.New("bgzf: invalid virtual offset")

	// ErrClosed is returned when writing to a closed Writer.
	ErrClosed = errors.New("bgzf: writer closed")
)

// parseFixedHeader checks the gzip fixed header and returns XLEN.
func parseFixedHeader(b []byte) (int, error) {
	if len(b) < fixedSize || b[0] != 0x1f || b[1] != 0x8b || b[2] != 0x08 || b[3]&0x04 == 0 {
		return 0, ErrHeader
	}
	return int(binary.LittleEndian.Uint16(b[10:12])), nil
}

// blockSize scans the gzip extra subfields for the BC subfield and returns
// the total member size.
func blockSize(extra []byte) (int, error) {
	for len(extra) >= 4 {
		slen := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < 4+slen {
			break
		}
		if extra[0] == 'B' && extra[1] == 'C' && slen == 2 {
			return int(binary.LittleEndian.Uint16(extra[4:6])) + 1, nil
		}
		extra = extra[4+slen:]
	}
	return 0, fmt.Errorf("%w: missing BC subfield", ErrHeader)
}

// isBlockHeader reports whether b begins with the canonical header the
// Writer emits.
func isBlockHeader(b []byte) bool {
	return len(b) >= headerSize-2 && bytes.Equal(b[:4], eofMarker[:4]) &&
		b[10] == 6 && b[11] == 0 && b[12] == 'B' && b[13] == 'C' && b[14] == 2 && b[15] == 0
}
