package pcapidx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/meigma/pcapidx/bgzf"
	pcaphttp "github.com/meigma/pcapidx/http"
)

// Container is the compressed-capture collaborator the index is built over.
// Locators returned by Tell are opaque and only meaningful to Seek on the
// same capture.
type Container interface {
	io.Reader
	// Tell returns the locator of the next byte Read would return.
	Tell() Locator
	// Seek positions the container at a locator previously returned by Tell.
	Seek(Locator) error
	// Skip discards n bytes.
	Skip(n int64) error
}

// Capture is a BGZF-compressed capture opened for random access.
type Capture struct {
	*bgzf.Reader
	name   string
	closer io.Closer
}

var _ Container = (*Capture)(nil)

// CaptureOption configures OpenCapture and NewCapture.
type CaptureOption func(*captureConfig)

type captureConfig struct {
	logger      *slog.Logger
	readAhead   int
	httpOptions []pcaphttp.Option
}

// CaptureWithLogger sets the logger used for container warnings.
func CaptureWithLogger(logger *slog.Logger) CaptureOption {
	return func(c *captureConfig) {
		c.logger = logger
	}
}

// CaptureWithReadAhead sets how many compressed bytes are fetched per read.
// Remote captures benefit from larger values.
func CaptureWithReadAhead(n int) CaptureOption {
	return func(c *captureConfig) {
		c.readAhead = n
	}
}

// CaptureWithHTTPOptions passes options to the HTTP source used for
// http:// and https:// captures.
func CaptureWithHTTPOptions(opts ...pcaphttp.Option) CaptureOption {
	return func(c *captureConfig) {
		c.httpOptions = append(c.httpOptions, opts...)
	}
}

// OpenCapture opens a BGZF capture from a local path or an http(s) URL
// served with range requests.
func OpenCapture(ctx context.Context, name string, opts ...CaptureOption) (*Capture, error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		cfg := newCaptureConfig(opts)
		src, err := pcaphttp.NewSource(ctx, name, cfg.httpOptions...)
		if err != nil {
			return nil, ioError("open capture", err)
		}
		c, err := NewCapture(src, opts...)
		if err != nil {
			return nil, err
		}
		c.name = src.SourceID()
		return c, nil
	}

	f, err := os.Open(name) //nolint:gosec // user-chosen capture path
	if err != nil {
		return nil, ioError("open capture", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat capture", err)
	}
	c, err := NewCapture(&fileSource{File: f, size: info.Size()}, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.name = name
	c.closer = f
	return c, nil
}

// NewCapture wraps a random-access source holding a BGZF capture. It
// rejects sources that do not start with a BGZF block and warns when the
// end-of-file marker is missing.
func NewCapture(src bgzf.Source, opts ...CaptureOption) (*Capture, error) {
	cfg := newCaptureConfig(opts)

	ok, err := bgzf.IsBGZF(src)
	if err != nil {
		return nil, ioError("sniff capture", err)
	}
	if !ok {
		return nil, ErrNotContainer
	}
	hasEOF, err := bgzf.HasEOFMarker(src)
	if err != nil {
		return nil, ioError("check capture eof marker", err)
	}
	if !hasEOF {
		cfg.logger.Warn("capture has no bgzf eof marker, it may be truncated")
	}

	var ropts []bgzf.ReaderOption
	if cfg.readAhead > 0 {
		ropts = append(ropts, bgzf.WithReadAhead(cfg.readAhead))
	}
	return &Capture{Reader: bgzf.NewReader(src, ropts...)}, nil
}

func newCaptureConfig(opts []CaptureOption) captureConfig {
	cfg := captureConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// Name returns the path or source identifier the capture was opened from.
func (c *Capture) Name() string {
	return c.name
}

// Tell implements Container.
func (c *Capture) Tell() Locator {
	return Locator(c.Reader.Tell())
}

// Seek implements Container.
func (c *Capture) Seek(l Locator) error {
	return c.Reader.Seek(bgzf.Offset(l))
}

// Close closes the underlying file, if the capture owns one.
func (c *Capture) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return ioError("close capture", err)
	}
	return nil
}

// fileSource adapts an *os.File to bgzf.Source.
type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 {
	return f.size
}
