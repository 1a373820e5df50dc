package pcapidx

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/pcapidx/internal/testutil"
)

// blockSize keeps BGZF blocks small so packets straddle block boundaries.
const blockSize = 1500

type fixture struct {
	tc      *testutil.Capture
	capture *Capture
	index   string
}

// newFixture builds a synthetic capture of n packets spaced by gap and an
// index built with specs.
func newFixture(t *testing.T, n int, gap time.Duration, specs ...IndexSpec) *fixture {
	t.Helper()

	tc := testutil.NewCapture(t, testutil.Config{
		Packets: n,
		Gap:     func(int) time.Duration { return gap },
	})
	return newCaptureFixture(t, tc, specs...)
}

// newCaptureFixture indexes an already generated capture with specs.
func newCaptureFixture(t *testing.T, tc *testutil.Capture, specs ...IndexSpec) *fixture {
	t.Helper()

	c, err := NewCapture(testutil.NewMemSource(tc.BGZF(t, blockSize)))
	require.NoError(t, err)

	f := &fixture{tc: tc, capture: c, index: filepath.Join(t.TempDir(), "capture.pcapidx")}
	if len(specs) > 0 {
		sess, err := CreateIndex(f.index, WithCapture(c))
		require.NoError(t, err)
		_, err = sess.Build(context.Background(), specs...)
		require.NoError(t, err)
		require.NoError(t, sess.Close())
	}
	return f
}

// extract runs one extraction against the fixture's index.
func (f *fixture) extract(t *testing.T, r Range, opts ...Option) ([]byte, ExtractResult, error) {
	t.Helper()

	var out bytes.Buffer
	opts = append([]Option{WithCapture(f.capture), WithOutput(&out), WithLocation(time.UTC)}, opts...)
	sess, err := OpenIndex(f.index, opts...)
	require.NoError(t, err)
	defer sess.Close()

	res, err := sess.Extract(context.Background(), r)
	return out.Bytes(), res, err
}

func stamp(d time.Duration) Timestamp {
	return TimestampFromTime(testutil.Epoch.Add(d))
}
