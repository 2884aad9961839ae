// Package logcapture persists the log records of one execution scope into a
// dedicated file while the process-wide stream keeps serving everyone else.
package logcapture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/compozy/enginebridge/pkg/logger"
)

var (
	ErrAlreadyCapturing = errors.New("scope is already being captured")
	ErrNotCapturing     = errors.New("scope is not being captured")
	ErrEmptyScope       = errors.New("capture scope is required")
)

const captureTimeFormat = "2006-01-02 15:04:05.000"

// Capture tracks which scopes are currently written to which files. Each
// scope moves idle -> capturing -> idle; it is not reentrant.
type Capture struct {
	stream *logger.Stream
	fs     afero.Fs

	mu     sync.Mutex
	active map[string]*sink
}

func New(stream *logger.Stream, fs afero.Fs) *Capture {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Capture{stream: stream, fs: fs, active: make(map[string]*sink)}
}

// Start appends every record published for scope to the file at path until
// Stop is called.
func (c *Capture) Start(scope, path string) error {
	if scope == "" {
		return ErrEmptyScope
	}
	if c.stream == nil {
		return errors.New("log capture requires a stream")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[scope]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyCapturing, scope)
	}
	f, err := c.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	s := newSink(f)
	s.unsubscribe = c.stream.Subscribe(func(e logger.Entry) {
		if e.Scope == scope {
			s.write(e)
		}
	})
	c.active[scope] = s
	return nil
}

// Stop waits for records already published for scope to reach the file,
// then closes it.
func (c *Capture) Stop(scope string) error {
	c.mu.Lock()
	s, ok := c.active[scope]
	if ok {
		delete(c.active, scope)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCapturing, scope)
	}
	c.stream.Sync()
	s.unsubscribe()
	return s.close()
}

func (c *Capture) Capturing(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[scope]
	return ok
}

type sink struct {
	mu          sync.Mutex
	file        afero.File
	log         *charmlog.Logger
	at          time.Time
	closed      bool
	unsubscribe func()
}

func newSink(f afero.File) *sink {
	s := &sink{file: f}
	s.log = charmlog.NewWithOptions(f, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      captureTimeFormat,
		Level:           charmlog.DebugLevel,
		Formatter:       charmlog.TextFormatter,
		TimeFunction:    func(time.Time) time.Time { return s.at },
	})
	return s
}

func (s *sink) write(e logger.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.at = e.Time
	level := e.Level
	s.log.Log(level.ToCharmlogLevel(), e.Message, e.Keyvals...)
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to flush capture file: %w", err)
	}
	return s.file.Close()
}
