// Package pcap decodes the fixed classic-pcap layouts the index tool reads:
// the 24-byte global header and the 16-byte per-packet record header.
//
// Packet headers are always decoded from their fixed on-disk layout using the
// byte order announced by the global header's magic, never through a host
// struct.
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/meigma/pcapidx/internal/format"
)

// Fixed sizes in bytes.
const (
	GlobalHeaderSize = 24
	PacketHeaderSize = 16
)

// MaxCaptureLength bounds a single packet's captured length. Larger values
// indicate a corrupt or misaligned stream.
const MaxCaptureLength = 256 * 1024

// Magic numbers as read in the writer's byte order.
const (
	magicMicros uint32 = 0xa1b2c3d4
	magicNanos  uint32 = 0xa1b23c4d
)

var (
	// ErrBadMagic is returned when the global header magic is not a pcap magic.
	ErrBadMagic = errors.New("pcap: unrecognized magic")

	// ErrShortHeader is returned when fewer bytes than a header layout are given.
	ErrShortHeader = errors.New("pcap: short header")

	// ErrCaptureLength is returned when a packet's captured length is
	// implausible.
	ErrCaptureLength = errors.New("pcap: captured length out of range")
)

// GlobalHeader is the decoded capture file header.
type GlobalHeader struct {
	ByteOrder    binary.ByteOrder
	Nanos        bool
	VersionMajor uint16
	VersionMinor uint16
	Snaplen      uint32
	Network      uint32
}

// LinkType returns the header's link type as a gopacket link type.
func (h GlobalHeader) LinkType() layers.LinkType {
	return layers.LinkType(h.Network) //nolint:gosec // link types fit the gopacket enum
}

// DecodeGlobalHeader decodes the capture global header and detects its byte
// order and timestamp resolution.
func DecodeGlobalHeader(b []byte) (GlobalHeader, error) {
	if len(b) < GlobalHeaderSize {
		return GlobalHeader{}, ErrShortHeader
	}
	var h GlobalHeader
	switch magic := binary.LittleEndian.Uint32(b[0:4]); magic {
	case magicMicros:
		h.ByteOrder = binary.LittleEndian
	case magicNanos:
		h.ByteOrder, h.Nanos = binary.LittleEndian, true
	default:
		switch binary.BigEndian.Uint32(b[0:4]) {
		case magicMicros:
			h.ByteOrder = binary.BigEndian
		case magicNanos:
			h.ByteOrder, h.Nanos = binary.BigEndian, true
		default:
			return GlobalHeader{}, fmt.Errorf("%w: %#08x", ErrBadMagic, magic)
		}
	}
	h.VersionMajor = h.ByteOrder.Uint16(b[4:6])
	h.VersionMinor = h.ByteOrder.Uint16(b[6:8])
	h.Snaplen = h.ByteOrder.Uint32(b[16:20])
	h.Network = h.ByteOrder.Uint32(b[20:24])
	return h, nil
}

// PacketHeader is one decoded packet record header. Raw holds the header
// bytes exactly as read so they can be copied to an output capture verbatim.
type PacketHeader struct {
	Raw [PacketHeaderSize]byte
	// Timestamp is normalized to microseconds regardless of the capture's
	// resolution.
	Timestamp format.Timestamp
	CapLen    uint32
	OrigLen   uint32
}

// DecodePacketHeader decodes a packet header using the global header's byte
// order and resolution.
func (h GlobalHeader) DecodePacketHeader(b []byte) (PacketHeader, error) {
	if len(b) < PacketHeaderSize {
		return PacketHeader{}, ErrShortHeader
	}
	var ph PacketHeader
	copy(ph.Raw[:], b[:PacketHeaderSize])
	frac := h.ByteOrder.Uint32(b[4:8])
	if h.Nanos {
		frac /= 1_000
	}
	ph.Timestamp = format.Timestamp{Sec: h.ByteOrder.Uint32(b[0:4]), Usec: frac}
	ph.CapLen = h.ByteOrder.Uint32(b[8:12])
	ph.OrigLen = h.ByteOrder.Uint32(b[12:16])
	if ph.CapLen > MaxCaptureLength {
		return ph, fmt.Errorf("%w: %d", ErrCaptureLength, ph.CapLen)
	}
	return ph, nil
}
