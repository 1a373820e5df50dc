package pcapidx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// IndexFile is the storage an index is written to or read from. *os.File
// satisfies it.
type IndexFile interface {
	io.ReadWriteSeeker
}

// Session owns the handles of one index operation: the index file, the
// capture container and, for extraction, the output. A Session is used by
// one goroutine at a time and runs one of Build, Verify or Extract at once.
type Session struct {
	index     IndexFile
	indexPath string
	owned     bool

	capture Container
	output  io.Writer

	fuzzy    bool
	logger   *slog.Logger
	progress ProgressFunc
	location *time.Location
	now      func() time.Time

	header *IndexHeader
}

// NewSession returns a Session over an already open index. The caller keeps
// ownership of index.
func NewSession(index IndexFile, opts ...Option) *Session {
	s := &Session{
		index:    index,
		logger:   slog.New(slog.DiscardHandler),
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateIndex creates or truncates the index file at path for Build.
func CreateIndex(path string, opts ...Option) (*Session, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // user-chosen output path
	if err != nil {
		return nil, ioError("create index", err)
	}
	s := NewSession(f, opts...)
	s.indexPath = path
	s.owned = true
	return s, nil
}

// OpenIndex opens an existing index file for Verify and Extract.
func OpenIndex(path string, opts ...Option) (*Session, error) {
	f, err := os.Open(path) //nolint:gosec // user-chosen input path
	if err != nil {
		return nil, ioError("open index", err)
	}
	s := NewSession(f, opts...)
	s.owned = true
	return s, nil
}

// Header returns the header state populated by Verify, or nil before a
// successful Verify.
func (s *Session) Header() *IndexHeader {
	return s.header
}

// Close releases the index file when the Session opened it. An index file
// left with zero bytes is removed.
func (s *Session) Close() error {
	if !s.owned {
		return nil
	}
	s.owned = false

	empty := false
	if f, ok := s.index.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			empty = true
		}
	}
	var errs []error
	if c, ok := s.index.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, ioError("close index", err))
		}
	}
	if empty && s.indexPath != "" {
		s.logger.Debug("removing empty index", slog.String("path", s.indexPath))
		if err := os.Remove(s.indexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, ioError("remove empty index", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// truncateIndex discards everything written to the index, when the storage
// supports it, so a failed build leaves an empty file behind.
func (s *Session) truncateIndex() {
	t, ok := s.index.(interface{ Truncate(int64) error })
	if !ok {
		return
	}
	if err := t.Truncate(0); err != nil {
		s.log().Warn("truncate failed index", slog.Any("error", err))
		return
	}
	_, _ = s.index.Seek(0, io.SeekStart)
}

func (s *Session) requireCapture() error {
	if s.capture == nil {
		return ErrNoCapture
	}
	return nil
}

func (s *Session) seekIndex(off int64) error {
	if _, err := s.index.Seek(off, io.SeekStart); err != nil {
		return ioError(fmt.Sprintf("seek index to %d", off), err)
	}
	return nil
}
