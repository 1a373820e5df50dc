package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pcapidx"
	"github.com/meigma/pcapidx/internal/testutil"
)

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()

	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	tc := testutil.NewCapture(t, testutil.Config{
		Packets: 3000,
		Gap:     func(int) time.Duration { return 100 * time.Millisecond },
	})
	plain := testutil.WriteFile(t, "trace.pcap", tc.Bytes())
	dir := t.TempDir()
	gz := filepath.Join(dir, "trace.pcap.gz")
	index := filepath.Join(dir, "trace.pcapidx")

	code, stdout, stderr := runCLI(t, "compress", "-block-size", "2048", plain, gz)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "link type: Ethernet\n")
	assert.Contains(t, stdout, "compressed")

	code, stdout, stderr = runCLI(t, "index", "pkt-num:250,timestamp:30s", index, gz)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "indexing "+gz)
	assert.Contains(t, stdout, "indexed 3000 Ethernet packets")
	assert.Contains(t, stdout, "records to "+index)

	code, stdout, stderr = runCLI(t, "verify", index)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "valid index file")
	assert.Contains(t, stdout, "packets:\t3000")

	code, stdout, stderr = runCLI(t, "dump", index)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "pkt num:\t2750")
	assert.Contains(t, stdout, "dumped ")

	ordinal := filepath.Join(dir, "ordinal.pcap")
	code, stdout, stderr = runCLI(t, "extract", "pkt-num:1200-1299", index, gz, ordinal)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "wrote 100 packets to "+ordinal)
	got, err := os.ReadFile(ordinal)
	require.NoError(t, err)
	assert.Equal(t, tc.Range(1200, 1299), got)

	// Packet i is at Epoch + (i-1)*100ms.
	temporal := filepath.Join(dir, "temporal.pcap")
	code, stdout, stderr = runCLI(t, "-tz", "UTC", "extract",
		"timestamp:2024-03-01:12:02:00-2024-03-01:12:02:10", index, gz, temporal)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "wrote 101 packets")
	got, err = os.ReadFile(temporal)
	require.NoError(t, err)
	assert.Equal(t, tc.Range(1201, 1301), got)
}

func TestRun_FuzzyExtract(t *testing.T) {
	t.Parallel()

	tc := testutil.NewCapture(t, testutil.Config{
		Packets: 200,
		Gap:     func(int) time.Duration { return time.Second },
	})
	gz := tc.WriteBGZF(t, "trace.pcap.gz", 1024)
	dir := t.TempDir()
	index := filepath.Join(dir, "trace.pcapidx")
	out := filepath.Join(dir, "out.pcap")

	code, _, stderr := runCLI(t, "index", "timestamp:10s", index, gz)
	require.Equal(t, 0, code, stderr)

	spec := "timestamp:2024-03-01:12:00:10.5-2024-03-01:12:00:20"
	code, _, stderr = runCLI(t, "-tz", "UTC", "extract", spec, index, gz, out)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")

	code, _, stderr = runCLI(t, "-tz", "UTC", "-fuzzy", "extract", spec, index, gz, out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "fuzzy")
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, tc.Range(12, 21), got)
}

func TestRun_VerifyMany(t *testing.T) {
	t.Parallel()

	tc := testutil.NewCapture(t, testutil.Config{Packets: 100})
	gz := tc.WriteBGZF(t, "trace.pcap.gz", 1024)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pcapidx")
	bad := testutil.WriteFile(t, "bad.pcapidx", bytes.Repeat([]byte{0xff}, 64))

	code, _, stderr := runCLI(t, "index", "pkt-num:10", good, gz)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := runCLI(t, "verify", good, bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, good+":\nvalid index file")
	assert.Contains(t, stdout, bad+":\ninvalid index file")
	assert.Contains(t, stderr, "malformed")
}

func TestRun_IndexFailureRemovesIndex(t *testing.T) {
	t.Parallel()

	tc := testutil.NewCapture(t, testutil.Config{})
	gz := tc.WriteBGZF(t, "empty.pcap.gz", 1024)
	index := filepath.Join(t.TempDir(), "empty.pcapidx")

	code, _, stderr := runCLI(t, "index", "pkt-num:100", index, gz)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no records")
	_, err := os.Stat(index)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Compress_RejectsNonCapture(t *testing.T) {
	t.Parallel()

	in := testutil.WriteFile(t, "notes.txt", []byte(strings.Repeat("not a capture\n", 4)))
	code, _, stderr := runCLI(t, "compress", in, filepath.Join(t.TempDir(), "out.gz"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "magic")
}

func TestRun_Usage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{name: "no command", args: nil, code: 2},
		{name: "unknown command", args: []string{"frobnicate"}, code: 2},
		{name: "index arity", args: []string{"index", "pkt-num:10"}, code: 2},
		{name: "extract arity", args: []string{"extract", "pkt-num:1", "a", "b"}, code: 2},
		{name: "bad tz", args: []string{"-tz", "Nowhere/Special", "modes"}, code: 2},
		{name: "bad index spec", args: []string{"index", "pkt-num:x", "a", "b"}, code: 1},
		{name: "modes", args: []string{"modes"}, code: 0, out: "pkt-num:"},
		{name: "version", args: []string{"version"}, code: 0, out: "version: " + pcapidx.Version},
		{name: "help", args: []string{"-h"}, code: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, stdout, _ := runCLI(t, tt.args...)
			assert.Equal(t, tt.code, code)
			if tt.out != "" {
				assert.Contains(t, stdout, tt.out)
			}
		})
	}
}
