package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pcapidx/bgzf"
	pcaphttp "github.com/meigma/pcapidx/http"
)

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "capture.pcap.gz", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := serve(t, data)

	src, err := pcaphttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Contains(t, src.SourceID(), server.URL)

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rld", string(edge[:n]))

	_, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == nethttp.MethodHead {
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := pcaphttp.NewSource(context.Background(), server.URL)
	require.ErrorIs(t, err, pcaphttp.ErrRangeUnsupported)
}

func TestSourceHeaders(t *testing.T) {
	t.Parallel()

	data := []byte("authorized")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(nethttp.StatusUnauthorized)
			return
		}
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	_, err := pcaphttp.NewSource(context.Background(), server.URL)
	require.Error(t, err)

	src, err := pcaphttp.NewSource(context.Background(), server.URL,
		pcaphttp.WithHeader("Authorization", "Bearer token"),
		pcaphttp.WithSourceID("capture-a"),
	)
	require.NoError(t, err)
	assert.Equal(t, "capture-a", src.SourceID())
	assert.Equal(t, int64(len(data)), src.Size())
}

func TestSourceBGZFReadAhead(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 20_000)
	var z bytes.Buffer
	w, err := bgzf.NewWriter(&z, bgzf.WithBlockSize(4096))
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	server := serve(t, z.Bytes())
	src, err := pcaphttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)

	ok, err := bgzf.IsBGZF(src)
	require.NoError(t, err)
	assert.True(t, ok)

	setup := src.Requests()
	got, err := io.ReadAll(bgzf.NewReader(src, bgzf.WithReadAhead(z.Len())))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(1), src.Requests()-setup)
}
