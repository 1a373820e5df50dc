package pcapidx

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/pcapidx/internal/pcap"
)

// match is the outcome of advancing to a timestamp.
type match uint8

const (
	// matchExact means a packet carries the requested timestamp.
	matchExact match = iota
	// matchFuzzy means the first packet past the requested timestamp was
	// reached without an exact match.
	matchFuzzy
	// matchEOS means the capture ended first.
	matchEOS
)

// scanner walks packet records of a capture. The next read always starts at
// a packet header.
type scanner struct {
	c      Container
	global pcap.GlobalHeader
	raw    [pcap.GlobalHeaderSize]byte
	hdr    [pcap.PacketHeaderSize]byte
	buf    []byte
	// packets counts headers read.
	packets uint64
}

// newScanner rewinds the capture and decodes its global header.
func newScanner(c Container) (*scanner, error) {
	if err := c.Seek(0); err != nil {
		return nil, ioError("rewind capture", err)
	}
	sc := &scanner{c: c}
	if _, err := io.ReadFull(c, sc.raw[:]); err != nil {
		return nil, ioError("read capture global header", err)
	}
	g, err := pcap.DecodeGlobalHeader(sc.raw[:])
	if err != nil {
		return nil, ioError("decode capture global header", err)
	}
	sc.global = g
	return sc, nil
}

// readHeader reads the next packet header. eos is true when the capture
// ends cleanly at a packet boundary; a partial header is an I/O error.
func (sc *scanner) readHeader() (ph pcap.PacketHeader, eos bool, err error) {
	n, err := io.ReadFull(sc.c, sc.hdr[:])
	switch {
	case n == 0 && errors.Is(err, io.EOF):
		return ph, true, nil
	case err != nil:
		return ph, false, ioError(fmt.Sprintf("read packet header %d", sc.packets+1), err)
	}
	ph, err = sc.global.DecodePacketHeader(sc.hdr[:])
	if err != nil {
		return ph, false, ioError(fmt.Sprintf("decode packet header %d", sc.packets+1), err)
	}
	sc.packets++
	return ph, false, nil
}

// skipPayload discards the payload of the packet whose header was just read.
func (sc *scanner) skipPayload(ph pcap.PacketHeader) error {
	if err := sc.c.Skip(int64(ph.CapLen)); err != nil {
		return ioError(fmt.Sprintf("skip payload of packet %d", sc.packets), err)
	}
	return nil
}

// readPayload reads the payload of the packet whose header was just read.
// The slice is valid until the next call.
func (sc *scanner) readPayload(ph pcap.PacketHeader) ([]byte, error) {
	if cap(sc.buf) < int(ph.CapLen) {
		sc.buf = make([]byte, ph.CapLen)
	}
	sc.buf = sc.buf[:ph.CapLen]
	if _, err := io.ReadFull(sc.c, sc.buf); err != nil {
		return nil, ioError(fmt.Sprintf("read payload of packet %d", sc.packets), err)
	}
	return sc.buf, nil
}

// advanceToOrdinal reads and discards packets until the next packet to be
// read is target. current is the ordinal of that next packet now.
func (sc *scanner) advanceToOrdinal(current, target uint32) error {
	for ; current < target; current++ {
		ph, eos, err := sc.readHeader()
		if err != nil {
			return err
		}
		if eos {
			return fmt.Errorf("%w: ended at packet %d before packet %d", ErrExhausted, current-1, target)
		}
		if err := sc.skipPayload(ph); err != nil {
			return err
		}
	}
	return nil
}

// advanceToTimestamp reads and discards packets until one carries a
// timestamp at or past target. That packet's header is returned with its
// payload unread.
func (sc *scanner) advanceToTimestamp(target Timestamp) (pcap.PacketHeader, match, error) {
	for {
		ph, eos, err := sc.readHeader()
		if err != nil {
			return ph, matchEOS, err
		}
		if eos {
			return ph, matchEOS, nil
		}
		switch ph.Timestamp.Compare(target) {
		case 0:
			return ph, matchExact, nil
		case 1:
			return ph, matchFuzzy, nil
		}
		if err := sc.skipPayload(ph); err != nil {
			return ph, matchEOS, err
		}
	}
}
