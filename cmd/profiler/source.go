package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meigma/pcapidx"
	"github.com/meigma/pcapidx/bgzf"
	pcaphttp "github.com/meigma/pcapidx/http"
	"github.com/meigma/pcapidx/internal/testutil"
)

// profileSource is the capture under test and the counters on its
// compressed source.
type profileSource struct {
	capture *pcapidx.Capture
	counter *sourceCounter
	// requests reports HTTP requests issued, metadata requests included.
	// It is nil for in-memory captures.
	requests func() int64
	close    func()
}

// sourceUsage is a snapshot of how much of the source has been read.
type sourceUsage struct {
	reads     int64
	readBytes int64
	requests  int64
}

func (s *profileSource) usage() sourceUsage {
	u := sourceUsage{reads: s.counter.reads.Load(), readBytes: s.counter.bytes.Load()}
	if s.requests != nil {
		u.requests = s.requests()
	}
	return u
}

func (u sourceUsage) sub(v sourceUsage) sourceUsage {
	return sourceUsage{
		reads:     u.reads - v.reads,
		readBytes: u.readBytes - v.readBytes,
		requests:  u.requests - v.requests,
	}
}

// sourceCounter counts the ReadAt calls and compressed bytes the BGZF
// reader pulls from its source.
type sourceCounter struct {
	src   bgzf.Source
	reads atomic.Int64
	bytes atomic.Int64
}

func (c *sourceCounter) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.src.ReadAt(p, off)
	c.reads.Add(1)
	c.bytes.Add(int64(n))
	return n, err
}

func (c *sourceCounter) Size() int64 {
	return c.src.Size()
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openCapture(ctx context.Context, cfg config, compressed []byte) (*profileSource, error) {
	if cfg.dataURL == "" {
		return newProfileSource(testutil.NewMemSource(compressed), cfg.readAhead, nil, func() {})
	}
	return openHTTPCapture(ctx, cfg, compressed)
}

func newProfileSource(src bgzf.Source, readAhead int, requests func() int64, closeFn func()) (*profileSource, error) {
	counter := &sourceCounter{src: src}
	c, err := pcapidx.NewCapture(counter, pcapidx.CaptureWithReadAhead(readAhead))
	if err != nil {
		closeFn()
		return nil, err
	}
	return &profileSource{capture: c, counter: counter, requests: requests, close: closeFn}, nil
}

// openHTTPCapture reads the capture through range requests. The URL
// "local" serves the generated capture from an in-process server.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openHTTPCapture(ctx context.Context, cfg config, data []byte) (*profileSource, error) {
	if cfg.dataURL == "" {
		return nil, errors.New("data-url is required for HTTP source")
	}

	url := cfg.dataURL
	closeFn := func() {}
	if url == "local" {
		server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
			nethttp.ServeContent(w, r, "capture.pcap.gz", time.Time{}, bytes.NewReader(data))
		}))
		url = server.URL + "/capture.pcap.gz"
		closeFn = server.Close
	}

	transport := nethttp.DefaultTransport.(*nethttp.Transport).Clone() //nolint:forcetypeassert // DefaultTransport is a *Transport
	client := &nethttp.Client{Transport: &rangeCostTransport{
		base:    transport,
		latency: cfg.dataHTTPLatency,
		rate:    int64(cfg.dataHTTPBPS),
	}}
	src, err := pcaphttp.NewSource(ctx, url, pcaphttp.WithClient(client))
	if err != nil {
		closeFn()
		return nil, err
	}
	return newProfileSource(src, cfg.readAhead, src.Requests, closeFn)
}

// rangeCostTransport delays each request by a fixed latency plus the time
// the requested byte range takes at rate bytes per second, the way a
// capture kept in remote object storage behaves.
type rangeCostTransport struct {
	base    nethttp.RoundTripper
	latency time.Duration
	rate    int64
}

func (t *rangeCostTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if d := rangeCost(req.Header.Get("Range"), t.latency, t.rate); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return t.base.RoundTrip(req)
}

// rangeCost returns the simulated cost of fetching a "bytes=first-last"
// range. Requests without a parseable range cost only the latency.
func rangeCost(header string, latency time.Duration, rate int64) time.Duration {
	if rate <= 0 {
		return latency
	}
	var first, last int64
	if _, err := fmt.Sscanf(header, "bytes=%d-%d", &first, &last); err != nil || last < first {
		return latency
	}
	return latency + time.Duration(float64(last-first+1)/float64(rate)*float64(time.Second))
}

// byteRate is a bytes-per-second flag value such as 512K, 10MBps or 1G/s.
// Units are binary.
type byteRate int64

func (r *byteRate) String() string {
	return strconv.FormatInt(int64(*r), 10)
}

func (r *byteRate) Set(value string) error {
	text := strings.TrimSpace(value)
	text = strings.TrimSuffix(text, "/s")
	text = strings.TrimSuffix(text, "ps")
	text = strings.TrimRight(text, "Bb")

	unit := int64(1)
	if text != "" {
		switch text[len(text)-1] {
		case 'k', 'K':
			unit = 1 << 10
		case 'm', 'M':
			unit = 1 << 20
		case 'g', 'G':
			unit = 1 << 30
		}
		if unit > 1 {
			text = text[:len(text)-1]
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid bytes-per-second %q", value)
	}
	*r = byteRate(n * unit)
	return nil
}
