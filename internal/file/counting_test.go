package file

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}

	require.NoError(t, cw.WriteRecord([]byte("head"), []byte("payload")))
	require.NoError(t, cw.WriteRecord([]byte("h2")))
	_, err := cw.Write([]byte("raw"))
	require.NoError(t, err)

	assert.Equal(t, uint64(16), cw.N)
	assert.Equal(t, uint64(2), cw.Records)
	assert.Equal(t, "headpayloadh2raw", buf.String())
}

func TestCountingWriter_Overflow(t *testing.T) {
	t.Parallel()

	cw := &CountingWriter{W: io.Discard, N: ^uint64(0) - 1}
	_, err := cw.Write([]byte("abc"))
	require.ErrorIs(t, err, ErrOverflow)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

type failWriter struct{}

var errWrite = errors.New("disk full")

func (failWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestCountingWriter_RecordErrors(t *testing.T) {
	t.Parallel()

	cw := &CountingWriter{W: shortWriter{}}
	require.ErrorIs(t, cw.WriteRecord([]byte("abcd")), io.ErrShortWrite)
	assert.Zero(t, cw.Records)

	cw = &CountingWriter{W: failWriter{}}
	require.ErrorIs(t, cw.WriteRecord([]byte("abcd")), errWrite)
	assert.Zero(t, cw.Records)
}
