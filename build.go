package pcapidx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/meigma/pcapidx/internal/format"
)

// IndexSpec selects one index mode and its level.
type IndexSpec struct {
	Mode Mode
	// Level is the packet stride of an ordinal index.
	Level uint32
	// Interval is the minimum timestamp spacing of a temporal index.
	Interval Timestamp
}

// OrdinalIndex returns a spec that indexes packet 1 and every level-th
// packet.
func OrdinalIndex(level uint32) IndexSpec {
	return IndexSpec{Mode: ModeOrdinal, Level: level}
}

// TemporalIndex returns a spec that indexes a packet whenever more than
// interval has passed since the last indexed packet.
func TemporalIndex(interval time.Duration) IndexSpec {
	return IndexSpec{Mode: ModeTemporal, Interval: TimestampFromMicros(interval.Microseconds())}
}

// String renders the spec in the form ParseIndexSpec accepts.
func (s IndexSpec) String() string {
	switch s.Mode {
	case ModeOrdinal:
		return fmt.Sprintf("%s:%d", s.Mode.Name(), s.Level)
	case ModeTemporal:
		if s.Interval.Usec != 0 {
			return fmt.Sprintf("%s:%du", s.Mode.Name(), s.Interval.Micros())
		}
		return fmt.Sprintf("%s:%ds", s.Mode.Name(), s.Interval.Sec)
	default:
		return s.Mode.String()
	}
}

// BuildResult summarizes a built index.
type BuildResult struct {
	Mode            Mode
	Packets         uint32
	OrdinalRecords  uint32
	TemporalRecords uint32
	// LinkType is the capture's data link type from its global header.
	LinkType layers.LinkType
}

// Records returns the total number of records written.
func (r BuildResult) Records() uint32 {
	return r.OrdinalRecords + r.TemporalRecords
}

// buildPlan holds the validated sub-headers of an index being built.
type buildPlan struct {
	mode     Mode
	ordinal  *format.OrdinalHeader
	temporal *format.TemporalHeader
}

func newBuildPlan(specs []IndexSpec) (buildPlan, error) {
	var p buildPlan
	if len(specs) == 0 {
		return p, fmt.Errorf("%w: no index mode given", ErrInvalidSpec)
	}
	for _, spec := range specs {
		if p.mode.Has(spec.Mode) {
			return p, fmt.Errorf("%w: %s given twice", ErrInvalidSpec, spec.Mode)
		}
		switch spec.Mode {
		case ModeOrdinal:
			if spec.Level == 0 {
				return p, fmt.Errorf("%w: index level too small: 0", ErrInvalidSpec)
			}
			p.ordinal = &format.OrdinalHeader{Level: spec.Level}
		case ModeTemporal:
			if spec.Interval.IsZero() {
				return p, fmt.Errorf("%w: index interval too small: 0", ErrInvalidSpec)
			}
			p.temporal = &format.TemporalHeader{Level: spec.Interval}
		default:
			return p, fmt.Errorf("%w: unknown index mode %#02x", ErrInvalidSpec, uint8(spec.Mode))
		}
		p.mode |= spec.Mode
	}
	return p, nil
}

func (p buildPlan) subHeaders() []format.SubHeader {
	var subs []format.SubHeader
	if p.ordinal != nil {
		subs = append(subs, p.ordinal)
	}
	if p.temporal != nil {
		subs = append(subs, p.temporal)
	}
	return subs
}

// Build scans the capture once from its start and writes an index with one
// sub-header per spec. Headers are written as placeholders first and
// rewritten with final counts after the scan; this is the only time the
// index is written out of order.
//
// With both modes, the ordinal records precede the temporal records.
// Zero records in any mode fails with ErrNoRecords. On failure the index
// file is truncated so Close removes it.
func (s *Session) Build(ctx context.Context, specs ...IndexSpec) (BuildResult, error) {
	if err := s.requireCapture(); err != nil {
		return BuildResult{}, err
	}
	plan, err := newBuildPlan(specs)
	if err != nil {
		return BuildResult{}, err
	}
	res, err := s.build(ctx, plan)
	if err != nil {
		s.truncateIndex()
		return res, err
	}
	return res, nil
}

func (s *Session) build(ctx context.Context, plan buildPlan) (BuildResult, error) {
	res := BuildResult{Mode: plan.mode}
	hdr := format.NewFileHeader(plan.mode, s.now())
	if err := s.writeHeaders(hdr, plan); err != nil {
		return res, err
	}

	sc, err := newScanner(s.capture)
	if err != nil {
		return res, err
	}
	res.LinkType = sc.global.LinkType()
	s.log().Debug("indexing capture",
		slog.String("mode", plan.mode.String()),
		slog.Uint64("snaplen", uint64(sc.global.Snaplen)),
		slog.String("link_type", res.LinkType.String()))

	w := bufio.NewWriter(s.index)
	var temporal bytes.Buffer
	var rec [format.TemporalRecordSize]byte
	var last Timestamp
	var interval int64
	if plan.temporal != nil {
		interval = plan.temporal.Level.Micros()
	}

	var pkt uint32
	for {
		if pkt%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		loc := s.capture.Tell()
		ph, eos, err := sc.readHeader()
		if err != nil {
			return res, err
		}
		if eos {
			break
		}
		if pkt == math.MaxUint32 {
			return res, fmt.Errorf("%w: more than %d packets", ErrSizeOverflow, uint32(math.MaxUint32))
		}
		pkt++

		if o := plan.ordinal; o != nil && (pkt == 1 || pkt%o.Level == 0) {
			format.OrdinalRecord{Packet: pkt, Locator: loc}.MarshalTo(rec[:format.OrdinalRecordSize])
			if _, err := w.Write(rec[:format.OrdinalRecordSize]); err != nil {
				return res, ioError("write index record", err)
			}
			o.RecordCount++
			s.log().Debug("added index record",
				slog.Uint64("packet", uint64(pkt)),
				slog.String("locator", loc.String()))
		}
		if t := plan.temporal; t != nil && ph.Timestamp.Sub(last) > interval {
			format.TemporalRecord{Timestamp: ph.Timestamp, Locator: loc}.MarshalTo(rec[:])
			temporal.Write(rec[:])
			t.RecordCount++
			last = ph.Timestamp
			s.log().Debug("added index record",
				slog.String("timestamp", ph.Timestamp.Format(s.location)),
				slog.String("locator", loc.String()))
		}

		if err := sc.skipPayload(ph); err != nil {
			return res, err
		}
		if pkt%progressInterval == 0 {
			s.report(ProgressEvent{Stage: StageIndexing, Packets: uint64(pkt), Records: uint64(recordCount(plan))})
		}
	}
	s.report(ProgressEvent{Stage: StageIndexing, Packets: uint64(pkt), Records: uint64(recordCount(plan))})

	res.Packets = pkt
	if plan.ordinal != nil {
		res.OrdinalRecords = plan.ordinal.RecordCount
	}
	if plan.temporal != nil {
		res.TemporalRecords = plan.temporal.RecordCount
	}
	for _, sub := range plan.subHeaders() {
		if sub.Records() == 0 {
			return res, fmt.Errorf("%w: %s index level too coarse for %d packets", ErrNoRecords, sub.Mode(), pkt)
		}
	}

	if _, err := temporal.WriteTo(w); err != nil {
		return res, ioError("write index record", err)
	}
	if err := w.Flush(); err != nil {
		return res, ioError("write index records", err)
	}

	hdr.PacketCount = pkt
	if err := s.writeHeaders(hdr, plan); err != nil {
		return res, err
	}
	s.log().Debug("index complete",
		slog.Uint64("packets", uint64(pkt)),
		slog.Uint64("records", uint64(res.Records())))
	return res, nil
}

func recordCount(plan buildPlan) uint32 {
	var n uint32
	for _, sub := range plan.subHeaders() {
		n += sub.Records()
	}
	return n
}

// writeHeaders writes the base header and sub-headers at offset zero,
// leaving the index positioned at the first record.
func (s *Session) writeHeaders(hdr format.FileHeader, plan buildPlan) error {
	b := make([]byte, hdr.HeaderBytes())
	hdr.MarshalTo(b)
	off := format.FileHeaderSize
	for _, sub := range plan.subHeaders() {
		sub.MarshalTo(b[off:])
		off += sub.Size()
	}
	if err := s.seekIndex(0); err != nil {
		return err
	}
	if _, err := s.index.Write(b); err != nil {
		return ioError("write index header", err)
	}
	return nil
}
