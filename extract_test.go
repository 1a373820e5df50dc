package pcapidx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pcapidx/internal/pcap"
	"github.com/meigma/pcapidx/internal/testutil"
)

func TestExtract_OrdinalScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, time.Millisecond, OrdinalIndex(1000))
	out, res, err := f.extract(t, OrdinalRange(9500, 9999))
	require.NoError(t, err)

	assert.Equal(t, uint64(500), res.Written)
	assert.Equal(t, f.tc.Range(9500, 9999), out)
	assert.Equal(t, uint64(len(out)), res.Bytes)
	assert.Equal(t, digest.FromBytes(out), res.Digest)

	entry, ok := res.Entry.(OrdinalRecord)
	require.True(t, ok)
	assert.Equal(t, uint32(9000), entry.Packet)
}

func TestExtract_OrdinalSinglePackets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3000, time.Millisecond, OrdinalIndex(250))
	for _, p := range []uint32{1, 2, 249, 250, 251, 499, 500, 1777, 2999, 3000} {
		out, res, err := f.extract(t, OrdinalRange(p, p))
		require.NoError(t, err, "packet %d", p)
		assert.Equal(t, uint64(1), res.Written)
		assert.Equal(t, f.tc.Range(int(p), int(p)), out, "packet %d", p)
	}
}

func TestExtract_OrdinalLevelOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, time.Millisecond, OrdinalIndex(1))
	out, res, err := f.extract(t, OrdinalRange(40, 60))
	require.NoError(t, err)
	assert.Equal(t, f.tc.Range(40, 60), out)
	assert.Equal(t, uint32(40), res.Entry.(OrdinalRecord).Packet)
}

func TestExtract_OrdinalBoundaries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2000, time.Millisecond, OrdinalIndex(300))

	out, res, err := f.extract(t, OrdinalRange(1990, 2000))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.Written)
	assert.Equal(t, f.tc.Range(1990, 2000), out)

	_, _, err = f.extract(t, OrdinalRange(1990, 2001))
	require.ErrorIs(t, err, ErrRange)

	_, _, err = f.extract(t, OrdinalRange(0, 5))
	require.ErrorIs(t, err, ErrRange)

	_, _, err = f.extract(t, OrdinalRange(10, 5))
	require.ErrorIs(t, err, ErrRange)
}

func TestExtract_OrdinalBelowLevelScansFromStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5000, time.Millisecond, OrdinalIndex(1000))
	out, res, err := f.extract(t, OrdinalRange(7, 999))
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Equal(t, f.tc.Range(7, 999), out)
}

func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3000, time.Second, OrdinalIndex(100), TemporalIndex(100*time.Second))

	first, res1, err := f.extract(t, OrdinalRange(1234, 2345))
	require.NoError(t, err)
	second, res2, err := f.extract(t, OrdinalRange(1234, 2345))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, res1.Digest, res2.Digest)

	r := TemporalRange(stamp(500*time.Second), stamp(900*time.Second))
	first, res1, err = f.extract(t, r)
	require.NoError(t, err)
	second, res2, err = f.extract(t, r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, res1.Digest, res2.Digest)
}

func TestExtract_ModeMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, time.Second, OrdinalIndex(10))
	_, _, err := f.extract(t, TemporalRange(stamp(0), stamp(10*time.Second)))
	require.ErrorIs(t, err, ErrModeMismatch)

	g := newFixture(t, 100, time.Second, TemporalIndex(10*time.Second))
	_, _, err = g.extract(t, OrdinalRange(1, 10))
	require.ErrorIs(t, err, ErrModeMismatch)
}

func TestExtract_MalformedIndexWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, time.Millisecond)
	var out bytes.Buffer
	bad := bytes.Repeat([]byte{0xee}, 64)
	sess := NewSession(&memIndex{Reader: bytes.NewReader(bad)}, WithCapture(f.capture), WithOutput(&out))

	_, err := sess.Extract(context.Background(), OrdinalRange(1, 2))
	require.ErrorIs(t, err, ErrMalformedIndex)
	assert.Zero(t, out.Len())
}

func TestExtract_TemporalScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000, time.Second, TemporalIndex(100*time.Second))
	from, to := stamp(250*time.Second), stamp(300*time.Second)

	out, res, err := f.extract(t, TemporalRange(from, to))
	require.NoError(t, err)
	assert.Equal(t, uint64(51), res.Written)
	assert.Equal(t, f.tc.Between(testutil.Epoch.Add(250*time.Second), testutil.Epoch.Add(300*time.Second)), out)
	assert.False(t, res.FuzzyStart)
	assert.False(t, res.FuzzyStop)

	entry, ok := res.Entry.(TemporalRecord)
	require.True(t, ok)
	assert.Equal(t, stamp(101*time.Second), entry.Timestamp)
}

func TestExtract_TemporalMatchesLinearScan(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2000, 700*time.Millisecond, TemporalIndex(30*time.Second))
	for _, r := range [][2]int{{0, 0}, {0, 7}, {350, 700}, {903, 1399}, {1000, 1999}} {
		from := f.tc.Packets[r[0]].Timestamp
		to := f.tc.Packets[r[1]].Timestamp
		out, _, err := f.extract(t, TemporalRange(TimestampFromTime(from), TimestampFromTime(to)))
		require.NoError(t, err, "range %v", r)
		assert.Equal(t, f.tc.Between(from, to), out, "range %v", r)
	}
}

func TestExtract_TemporalLongCapture(t *testing.T) {
	t.Parallel()

	// Records drift one second per record, so the multiplier overshoots the
	// record count near the end of the capture.
	f := newFixture(t, 30000, time.Second, TemporalIndex(100*time.Second))
	from, to := stamp(29900*time.Second), stamp(29950*time.Second)

	out, res, err := f.extract(t, TemporalRange(from, to))
	require.NoError(t, err)
	assert.Equal(t, uint64(51), res.Written)
	assert.Equal(t, f.tc.Range(29901, 29951), out)
}

// A capture may carry a microsecond field of a full second or more; it still
// matches a stop timestamp equal to it once normalized.
func TestExtract_TemporalStopMatchesUnnormalizedTimestamp(t *testing.T) {
	t.Parallel()

	tc := testutil.NewCapture(t, testutil.Config{
		Packets: 20,
		Gap:     func(int) time.Duration { return time.Second },
	})
	gh, err := pcap.DecodeGlobalHeader(tc.Header)
	require.NoError(t, err)
	// Packet 5 at Epoch+4s, rewritten as Epoch+3s plus 1000000us.
	rec := tc.Packets[4].Record
	gh.ByteOrder.PutUint32(rec[0:4], gh.ByteOrder.Uint32(rec[0:4])-1)
	gh.ByteOrder.PutUint32(rec[4:8], 1_000_000)

	f := newCaptureFixture(t, tc, TemporalIndex(5*time.Second))
	at := stamp(4 * time.Second)
	out, res, err := f.extract(t, TemporalRange(at, at))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Written)
	assert.Equal(t, tc.Range(5, 5), out)
	assert.False(t, res.FuzzyStop)
}

func TestExtract_TemporalNotFound(t *testing.T) {
	t.Parallel()

	// Subtests share one capture reader and run sequentially.
	f := newFixture(t, 500, 2*time.Second, TemporalIndex(100*time.Second))

	t.Run("start", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(251*time.Second), stamp(300*time.Second)))
		require.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "nearest is 2024-03-01 12:04:12.000000")
	})

	t.Run("start fuzzy", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		out, res, err := f.extract(t, TemporalRange(stamp(251*time.Second), stamp(300*time.Second)),
			WithFuzzyMatching(true), WithLogger(logger))
		require.NoError(t, err)
		assert.True(t, res.FuzzyStart)
		assert.Equal(t, uint64(25), res.Written)
		assert.Equal(t, f.tc.Range(127, 151), out)
		assert.Contains(t, logs.String(), "start timestamp not found, fuzzy matched")
	})

	t.Run("stop", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(250*time.Second), stamp(301*time.Second)))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stop fuzzy truncates", func(t *testing.T) {
		out, res, err := f.extract(t, TemporalRange(stamp(250*time.Second), stamp(301*time.Second)),
			WithFuzzyMatching(true))
		require.NoError(t, err)
		assert.True(t, res.FuzzyStop)
		assert.Equal(t, f.tc.Range(126, 151), out)
	})

	t.Run("stop past end", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(900*time.Second), stamp(5000*time.Second)))
		require.ErrorIs(t, err, ErrExhausted)

		out, res, err := f.extract(t, TemporalRange(stamp(900*time.Second), stamp(5000*time.Second)),
			WithFuzzyMatching(true))
		require.NoError(t, err)
		assert.True(t, res.FuzzyStop)
		assert.Equal(t, f.tc.Range(451, 500), out)
	})

	t.Run("start past end", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(5000*time.Second), stamp(6000*time.Second)))
		require.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("start before capture", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(-10*time.Second), stamp(4*time.Second)))
		require.ErrorIs(t, err, ErrRange)

		out, _, err := f.extract(t, TemporalRange(stamp(-10*time.Second), stamp(4*time.Second)),
			WithFuzzyMatching(true))
		require.NoError(t, err)
		assert.Equal(t, f.tc.Range(1, 3), out)
	})

	t.Run("no packet in range", func(t *testing.T) {
		_, _, err := f.extract(t, TemporalRange(stamp(251*time.Second), stamp(251*time.Second+500*time.Millisecond)),
			WithFuzzyMatching(true))
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExtract_RequiresHandles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, time.Millisecond, OrdinalIndex(5))
	sess, err := OpenIndex(f.index)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Extract(context.Background(), OrdinalRange(1, 2))
	require.ErrorIs(t, err, ErrNoCapture)

	sess2, err := OpenIndex(f.index, WithCapture(f.capture))
	require.NoError(t, err)
	defer sess2.Close()
	_, err = sess2.Extract(context.Background(), OrdinalRange(1, 2))
	require.ErrorIs(t, err, ErrIO)
}

func TestExtract_Progress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 25000, time.Millisecond, OrdinalIndex(1000))
	var stages []ProgressStage
	_, res, err := f.extract(t, OrdinalRange(2, 24001), WithProgress(func(ev ProgressEvent) {
		stages = append(stages, ev.Stage)
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(24000), res.Written)
	assert.Equal(t, []ProgressStage{StageSeeking, StageExtracting, StageExtracting}, stages)
}
