package pcapidx

import (
	"context"
	_ "crypto/sha256" // registers digest.Canonical
	"fmt"
	"io"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pcapidx/internal/file"
	"github.com/meigma/pcapidx/internal/format"
	"github.com/meigma/pcapidx/internal/pcap"
)

// Range is an extraction request. Exactly one pair is used, selected by
// Mode.
type Range struct {
	Mode Mode
	// Start and Stop are 1-based packet ordinals, both inclusive.
	Start, Stop uint32
	// From and To are packet timestamps, both inclusive.
	From, To Timestamp
}

// OrdinalRange requests packets start through stop inclusive.
func OrdinalRange(start, stop uint32) Range {
	return Range{Mode: ModeOrdinal, Start: start, Stop: stop}
}

// TemporalRange requests the packets from the one stamped from through the
// one stamped to.
func TemporalRange(from, to Timestamp) Range {
	return Range{Mode: ModeTemporal, From: from, To: to}
}

func (r Range) String() string {
	switch r.Mode {
	case ModeOrdinal:
		return fmt.Sprintf("%s:%d-%d", r.Mode.Name(), r.Start, r.Stop)
	case ModeTemporal:
		return fmt.Sprintf("%s:%s-%s", r.Mode.Name(), r.From, r.To)
	default:
		return r.Mode.String()
	}
}

func (r Range) validate() error {
	switch r.Mode {
	case ModeOrdinal:
		if r.Start == 0 {
			return fmt.Errorf("%w: packet numbers start at 1", ErrRange)
		}
		if r.Start > r.Stop {
			return fmt.Errorf("%w: start packet %d after stop packet %d", ErrRange, r.Start, r.Stop)
		}
	case ModeTemporal:
		if r.From.After(r.To) {
			return fmt.Errorf("%w: start %s after stop %s", ErrRange, r.From, r.To)
		}
	default:
		return fmt.Errorf("%w: extraction needs exactly one mode, got %s", ErrRange, r.Mode)
	}
	return nil
}

// ExtractResult summarizes an extraction. It is returned alongside errors
// too, describing the partial output.
type ExtractResult struct {
	// Written is the number of packets copied.
	Written uint64
	// Bytes is the size of the output capture, global header included.
	Bytes uint64
	// Digest is the SHA-256 digest of the output capture.
	Digest digest.Digest
	// Entry is the index record the scan started from. It is nil when the
	// scan started at the first packet without consulting a record.
	Entry any
	// FuzzyStart is set when the start timestamp was not present and the
	// next packet was used instead.
	FuzzyStart bool
	// FuzzyStop is set when the output was truncated at the last packet
	// before a missing stop timestamp.
	FuzzyStop bool
}

// Extract verifies the index, then copies the capture's global header and
// the requested packet run to the session output. The range mode must be
// one the index was built with.
//
// Partial output is possible when Extract fails; callers should treat the
// output as unreliable on error.
func (s *Session) Extract(ctx context.Context, r Range) (res ExtractResult, err error) {
	if err := s.requireCapture(); err != nil {
		return res, err
	}
	if s.output == nil {
		return res, fmt.Errorf("%w: no output configured", ErrIO)
	}
	h, err := s.Verify()
	if err != nil {
		return res, err
	}
	if err := r.validate(); err != nil {
		return res, err
	}
	if !h.Mode().Has(r.Mode) {
		return res, fmt.Errorf("%w: index built with %s, range uses %s", ErrModeMismatch, h.Mode(), r.Mode)
	}

	digester := digest.Canonical.Digester()
	out := &file.CountingWriter{W: io.MultiWriter(s.output, digester.Hash())}
	defer func() {
		res.Written = out.Records
		res.Bytes = out.N
		res.Digest = digester.Digest()
	}()

	sc, err := newScanner(s.capture)
	if err != nil {
		return res, err
	}
	if _, err := out.Write(sc.raw[:]); err != nil {
		return res, ioError("write output global header", err)
	}

	x := &extraction{Session: s, ctx: ctx, h: h, sc: sc, out: out, res: &res}
	if r.Mode == ModeOrdinal {
		err = x.ordinal(r.Start, r.Stop)
	} else {
		err = x.temporal(r.From, r.To)
	}
	return res, err
}

// extraction carries the state of one Extract call.
type extraction struct {
	*Session
	ctx context.Context
	h   *IndexHeader
	sc  *scanner
	out *file.CountingWriter
	res *ExtractResult
}

func (x *extraction) ordinal(start, stop uint32) error {
	if stop > x.h.File.PacketCount {
		return fmt.Errorf("%w: stop packet %d exceeds %d packets in capture", ErrRange, stop, x.h.File.PacketCount)
	}

	level := x.h.Ordinal.Level
	current := uint32(1)
	if start < level {
		x.log().Debug("start precedes index level, scanning from packet 1",
			slog.Uint64("start", uint64(start)),
			slog.Uint64("level", uint64(level)))
	} else {
		idx := start / level
		if level == 1 {
			idx = start - 1
		}
		if idx >= x.h.Ordinal.RecordCount {
			return fmt.Errorf("%w: packet %d beyond indexed range", ErrRange, start)
		}
		rec, err := x.ordinalRecord(idx)
		if err != nil {
			return err
		}
		if rec.Packet == 0 || rec.Packet > start {
			return malformed("record %d names packet %d, want at most %d", idx, rec.Packet, start)
		}
		if err := x.capture.Seek(rec.Locator); err != nil {
			return ioError("seek capture to "+rec.Locator.String(), err)
		}
		x.res.Entry = rec
		current = rec.Packet
	}
	x.log().Debug("entered capture",
		slog.Uint64("packet", uint64(current)),
		slog.Uint64("skip", uint64(start-current)))

	if err := x.sc.advanceToOrdinal(current, start); err != nil {
		return err
	}
	x.report(ProgressEvent{Stage: StageSeeking, Packets: x.sc.packets})

	for p := start; ; p++ {
		ph, eos, err := x.sc.readHeader()
		if err != nil {
			return err
		}
		if eos {
			return fmt.Errorf("%w: ended before packet %d", ErrExhausted, p)
		}
		if err := x.copyPacket(ph); err != nil {
			return err
		}
		if p == stop {
			return nil
		}
	}
}

func (x *extraction) temporal(from, to Timestamp) error {
	th := x.h.Temporal
	first, err := x.temporalRecord(0)
	if err != nil {
		return err
	}
	x.log().Debug("temporal extraction",
		slog.String("first", first.Timestamp.Format(x.location)),
		slog.String("start", from.Format(x.location)),
		slog.String("stop", to.Format(x.location)),
		slog.String("level", th.Level.Span().String()))

	if from.Before(first.Timestamp) {
		if !x.fuzzy {
			return fmt.Errorf("%w: start %s precedes first indexed packet %s",
				ErrRange, from.Format(x.location), first.Timestamp.Format(x.location))
		}
		x.log().Warn("start timestamp precedes capture, fuzzy matching from first packet",
			slog.String("start", from.Format(x.location)))
	}

	// The multiplier works at whole-second resolution; levels under one
	// second start at the first record. Records are spaced by more than the
	// level, so they drift later than first+k*level and a multiplier past
	// the last record starts from the last record.
	mul := uint32(1)
	if elapsed := int64(from.Sec) - int64(first.Timestamp.Sec); elapsed > 0 && th.Level.Sec > 0 {
		if m := elapsed / int64(th.Level.Sec); m > 1 {
			mul = uint32(min(m, int64(th.RecordCount))) //nolint:gosec // bounded by RecordCount
		}
	}
	x.log().Debug("index multiplier", slog.Uint64("multiplier", uint64(mul)))

	idx := mul - 1
	rec := first
	if idx > 0 {
		if rec, err = x.temporalRecord(idx); err != nil {
			return err
		}
	}
	for idx > 0 && rec.Timestamp.After(from) {
		idx--
		if rec, err = x.temporalRecord(idx); err != nil {
			return err
		}
	}
	if err := x.capture.Seek(rec.Locator); err != nil {
		return ioError("seek capture to "+rec.Locator.String(), err)
	}
	x.res.Entry = rec
	x.log().Debug("entered capture",
		slog.Uint64("record", uint64(idx)),
		slog.String("timestamp", rec.Timestamp.Format(x.location)))

	ph, m, err := x.sc.advanceToTimestamp(from)
	if err != nil {
		return err
	}
	switch m {
	case matchEOS:
		return fmt.Errorf("%w: start timestamp %s not found before end of capture", ErrExhausted, from.Format(x.location))
	case matchFuzzy:
		if ph.Timestamp.After(to) {
			return fmt.Errorf("%w: no packet between %s and %s, nearest is %s", ErrNotFound,
				from.Format(x.location), to.Format(x.location), ph.Timestamp.Format(x.location))
		}
		if !x.fuzzy {
			return fmt.Errorf("%w: start timestamp %s, nearest is %s (enable fuzzy matching)", ErrNotFound,
				from.Format(x.location), ph.Timestamp.Format(x.location))
		}
		x.res.FuzzyStart = true
		x.log().Warn("start timestamp not found, fuzzy matched",
			slog.String("want", from.Format(x.location)),
			slog.String("got", ph.Timestamp.Format(x.location)))
	}
	x.log().Debug("start matched", slog.Uint64("iteration", x.sc.packets))
	x.report(ProgressEvent{Stage: StageSeeking, Packets: x.sc.packets})

	sawStop := ph.Timestamp.Compare(to) == 0
	if err := x.copyPacket(ph); err != nil {
		return err
	}
	for {
		ph, eos, err := x.sc.readHeader()
		if err != nil {
			return err
		}
		if eos {
			if sawStop {
				return nil
			}
			if !x.fuzzy {
				return fmt.Errorf("%w: stop timestamp %s not found", ErrExhausted, to.Format(x.location))
			}
			x.res.FuzzyStop = true
			x.log().Warn("stop timestamp not found, capture ended",
				slog.String("want", to.Format(x.location)),
				slog.Uint64("written", x.out.Records))
			return nil
		}
		switch ph.Timestamp.Compare(to) {
		case 1:
			if sawStop {
				return nil
			}
			if !x.fuzzy {
				return fmt.Errorf("%w: stop timestamp %s, nearest is %s (enable fuzzy matching)", ErrNotFound,
					to.Format(x.location), ph.Timestamp.Format(x.location))
			}
			x.res.FuzzyStop = true
			x.log().Warn("stop timestamp not found, fuzzy matched",
				slog.String("want", to.Format(x.location)),
				slog.Uint64("written", x.out.Records))
			return nil
		case 0:
			sawStop = true
		}
		if err := x.copyPacket(ph); err != nil {
			return err
		}
	}
}

// copyPacket writes the header just read and its payload to the output.
func (x *extraction) copyPacket(ph pcap.PacketHeader) error {
	payload, err := x.sc.readPayload(ph)
	if err != nil {
		return err
	}
	if err := x.out.WriteRecord(ph.Raw[:], payload); err != nil {
		return ioError("write output packet", err)
	}
	if x.out.Records%progressInterval == 0 {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		x.report(ProgressEvent{Stage: StageExtracting, Packets: x.sc.packets, Written: x.out.Records})
	}
	return nil
}

func (s *Session) ordinalRecord(i uint32) (OrdinalRecord, error) {
	b := make([]byte, format.OrdinalRecordSize)
	if err := s.readRecord(ModeOrdinal, i, b); err != nil {
		return OrdinalRecord{}, err
	}
	return format.DecodeOrdinalRecord(b)
}

func (s *Session) temporalRecord(i uint32) (TemporalRecord, error) {
	b := make([]byte, format.TemporalRecordSize)
	if err := s.readRecord(ModeTemporal, i, b); err != nil {
		return TemporalRecord{}, err
	}
	return format.DecodeTemporalRecord(b)
}

func (s *Session) readRecord(mode Mode, i uint32, b []byte) error {
	if err := s.seekIndex(s.header.recordOffset(mode, i)); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.index, b); err != nil {
		return ioError(fmt.Sprintf("read %s record %d", mode.Name(), i), err)
	}
	return nil
}
