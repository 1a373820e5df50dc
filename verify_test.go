package pcapidx

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pcapidx/internal/format"
)

func TestVerify_Details(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10000, time.Millisecond, OrdinalIndex(1000), TemporalIndex(90061*time.Second))
	sess, err := OpenIndex(f.index, WithLocation(time.UTC))
	require.NoError(t, err)
	defer sess.Close()

	var details bytes.Buffer
	h, err := sess.Verify(VerifyWithDetails(&details))
	require.NoError(t, err)
	assert.Same(t, h, sess.Header())

	out := details.String()
	assert.Contains(t, out, "valid index file\n")
	assert.Contains(t, out, "version:\t1.3\n")
	assert.Contains(t, out, "packets:\t10000\n")
	assert.Contains(t, out, "indexing mode:\tpkt-num\nindex level:\t1000\nrecord count:\t11\n")
	assert.Contains(t, out, "indexing mode:\ttimestamp\nindex level:\t1:1:1:1\nrecord count:\t1\n")
}

func TestVerify_Dump(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5000, time.Second, OrdinalIndex(1000), TemporalIndex(1000*time.Second))
	sess, err := OpenIndex(f.index, WithLocation(time.UTC))
	require.NoError(t, err)
	defer sess.Close()

	var dump bytes.Buffer
	h, err := sess.Verify(VerifyWithDump(&dump))
	require.NoError(t, err)

	out := dump.String()
	records := int(h.Ordinal.RecordCount + h.Temporal.RecordCount)
	assert.Equal(t, records, strings.Count(out, "locator:\t"))
	assert.Equal(t, int(h.Ordinal.RecordCount), strings.Count(out, "pkt num:\t"))
	assert.Contains(t, out, "pkt num:\t1\n")
	assert.Contains(t, out, "timestamp:\t2024-03-01 12:00:00.000000\n")

	n, err := sess.Dump(&bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, records, n)
}

func TestVerify_RecordCountMatchesFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 4321, 10*time.Millisecond, OrdinalIndex(100), TemporalIndex(2*time.Second))
	info, err := os.Stat(f.index)
	require.NoError(t, err)

	h, ords, temps := collectRecords(t, f.index)
	assert.Equal(t, int(h.Ordinal.RecordCount), len(ords))
	assert.Equal(t, int(h.Temporal.RecordCount), len(temps))
	assert.Equal(t, info.Size(), h.File.HeaderBytes()+
		int64(len(ords))*format.OrdinalRecordSize+int64(len(temps))*format.TemporalRecordSize)
}

func TestVerify_NotVerified(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, time.Millisecond, OrdinalIndex(5))
	sess, err := OpenIndex(f.index)
	require.NoError(t, err)
	defer sess.Close()

	require.ErrorIs(t, sess.Describe(&bytes.Buffer{}), ErrNotVerified)
	_, err = sess.Dump(&bytes.Buffer{})
	require.ErrorIs(t, err, ErrNotVerified)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] ^= 0xff
				return b
			},
		},
		{
			name: "too small",
			mutate: func(b []byte) []byte {
				return b[:format.MinIndexSize-1]
			},
		},
		{
			name: "unknown sub-header tag",
			mutate: func(b []byte) []byte {
				b[format.FileHeaderSize] = 0x04
				return b
			},
		},
		{
			name: "header size too small for sub-header",
			mutate: func(b []byte) []byte {
				b[7] = format.FileHeaderSize/4 + 1
				return b
			},
		},
		{
			name: "mode disagrees with sub-headers",
			mutate: func(b []byte) []byte {
				b[6] = byte(ModeOrdinal | ModeTemporal)
				return b
			},
		},
		{
			name: "trailing bytes",
			mutate: func(b []byte) []byte {
				return append(b, 0, 0, 0, 0)
			},
		},
		{
			name: "truncated record",
			mutate: func(b []byte) []byte {
				return b[:len(b)-1]
			},
		},
		{
			name: "zero level",
			mutate: func(b []byte) []byte {
				format.ByteOrder.PutUint32(b[format.FileHeaderSize+8:], 0)
				return b
			},
		},
		{
			name: "unsupported version",
			mutate: func(b []byte) []byte {
				b[4] = 9
				return b
			},
		},
	}

	f := newFixture(t, 3000, time.Millisecond, OrdinalIndex(1000))
	pristine, err := os.ReadFile(f.index)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := tt.mutate(bytes.Clone(pristine))
			sess := NewSession(&memIndex{Reader: bytes.NewReader(data)})

			_, err := sess.Verify()
			require.ErrorIs(t, err, ErrMalformedIndex)
			assert.Nil(t, sess.Header())
		})
	}
}

func TestVerify_HeaderWordsPastEndOfFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, time.Second, OrdinalIndex(10), TemporalIndex(10*time.Second))
	data, err := os.ReadFile(f.index)
	require.NoError(t, err)

	// Keep only the headers and claim one more ordinal sub-header.
	headers := format.FileHeaderSize + format.OrdinalHeaderSize + format.TemporalHeaderSize
	data = bytes.Clone(data[:headers])
	data[7] += format.OrdinalHeaderSize / 4

	sess := NewSession(&memIndex{Reader: bytes.NewReader(data)})
	_, err = sess.Verify()
	require.ErrorIs(t, err, ErrMalformedIndex)
	assert.NotErrorIs(t, err, ErrIO)
}

// memIndex is a read-only in-memory IndexFile.
type memIndex struct {
	*bytes.Reader
}

func (m *memIndex) Write([]byte) (int, error) {
	return 0, os.ErrPermission
}
