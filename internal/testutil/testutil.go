// Package testutil builds synthetic packet captures for tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/meigma/pcapidx/bgzf"
)

// Sizes of the classic pcap headers.
const (
	GlobalHeaderSize = 24
	PacketHeaderSize = 16
)

// Epoch is the timestamp of the first packet of captures built with
// NewCapture unless Start is overridden.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Packet is one packet of a synthetic capture.
type Packet struct {
	// Number is the 1-based ordinal of the packet.
	Number    int
	Timestamp time.Time
	// Record holds the 16-byte packet header followed by the payload, exactly
	// as it appears in the capture.
	Record []byte
}

// Capture is a synthetic classic pcap capture.
type Capture struct {
	Header  []byte
	Packets []Packet
}

// Config controls NewCapture.
type Config struct {
	// Packets is the number of packets to generate.
	Packets int
	// Start is the first packet's timestamp. Zero means Epoch.
	Start time.Time
	// Gap returns the time between packet i and packet i+1 (both 1-based).
	// Nil means one millisecond.
	Gap func(i int) time.Duration
}

// NewCapture generates a capture of UDP-over-IPv4 Ethernet frames with
// varying payload sizes, written through pcapgo.
func NewCapture(tb testing.TB, cfg Config) *Capture {
	tb.Helper()

	c, err := Generate(cfg)
	if err != nil {
		tb.Fatalf("generate capture: %v", err)
	}
	return c
}

// Generate is NewCapture for callers without a testing.TB, such as the
// profiler.
func Generate(cfg Config) (*Capture, error) {
	start := cfg.Start
	if start.IsZero() {
		start = Epoch
	}
	gap := cfg.Gap
	if gap == nil {
		gap = func(int) time.Duration { return time.Millisecond }
	}

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write file header: %w", err)
	}

	c := &Capture{Packets: make([]Packet, 0, cfg.Packets)}
	ts := start
	sizes := make([]int, 0, cfg.Packets)
	for i := 1; i <= cfg.Packets; i++ {
		frame, err := buildFrame(i)
		if err != nil {
			return nil, err
		}
		if err := w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(frame),
			Length:        len(frame),
		}, frame); err != nil {
			return nil, fmt.Errorf("write packet %d: %w", i, err)
		}
		c.Packets = append(c.Packets, Packet{Number: i, Timestamp: ts})
		sizes = append(sizes, len(frame))
		ts = ts.Add(gap(i))
	}

	raw := buf.Bytes()
	c.Header = raw[:GlobalHeaderSize]
	off := GlobalHeaderSize
	for i, size := range sizes {
		end := off + PacketHeaderSize + size
		c.Packets[i].Record = raw[off:end]
		off = end
	}
	return c, nil
}

func buildFrame(i int) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, byte(i>>8), byte(i)),
		DstIP:    net.IPv4(10, 1, 0, 1),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(1024 + i%30000),
		DstPort: 53,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}
	payload := bytes.Repeat([]byte{byte(i)}, i%97)

	sb := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize packet %d: %w", i, err)
	}
	return sb.Bytes(), nil
}

// Bytes returns the complete uncompressed capture.
func (c *Capture) Bytes() []byte {
	return c.Range(1, len(c.Packets))
}

// Range returns a capture holding the global header followed by packets
// start through stop inclusive (1-based).
func (c *Capture) Range(start, stop int) []byte {
	var buf bytes.Buffer
	buf.Write(c.Header)
	for _, p := range c.Packets[start-1 : stop] {
		buf.Write(p.Record)
	}
	return buf.Bytes()
}

// Between returns a capture holding every packet whose timestamp lies in
// [from, to].
func (c *Capture) Between(from, to time.Time) []byte {
	var buf bytes.Buffer
	buf.Write(c.Header)
	for _, p := range c.Packets {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			buf.Write(p.Record)
		}
	}
	return buf.Bytes()
}

// BGZF compresses the capture with the given uncompressed block size. Small
// blocks make packets straddle block boundaries.
func (c *Capture) BGZF(tb testing.TB, blockSize int) []byte {
	tb.Helper()

	z, err := c.Compress(blockSize)
	if err != nil {
		tb.Fatalf("compress capture: %v", err)
	}
	return z
}

// Compress is BGZF without a testing.TB.
func (c *Capture) Compress(blockSize int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bgzf.NewWriter(&buf, bgzf.WithBlockSize(blockSize))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(c.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteBGZF writes the compressed capture to name inside a fresh temporary
// directory and returns its path.
func (c *Capture) WriteBGZF(tb testing.TB, name string, blockSize int) string {
	tb.Helper()
	return WriteFile(tb, name, c.BGZF(tb, blockSize))
}

// WriteFile writes data to name inside a fresh temporary directory and
// returns its path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MemSource is an in-memory bgzf.Source.
type MemSource struct {
	data []byte
	// Reads counts ReadAt calls.
	Reads int
}

// NewMemSource returns a source backed by data.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{data: data}
}

// ReadAt implements io.ReaderAt over the backing slice.
func (m *MemSource) ReadAt(p []byte, off int64) (int, error) {
	m.Reads++
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing data.
func (m *MemSource) Size() int64 {
	return int64(len(m.data))
}
