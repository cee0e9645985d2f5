package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tphakala/repomigrate/internal/errors"
)

const (
	sinkBufferSize    = 32 * 1024
	sinkFlushInterval = 5 * time.Second
)

var errSinkClosed = errors.NewStd("log file is closed")

// fileSink is a buffered JSON log file rotated by lumberjack. A background
// loop flushes it every flushInterval; Close flushes what is left.
type fileSink struct {
	path string

	mu     sync.Mutex
	file   *lumberjack.Logger
	buf    *bufio.Writer
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// openFileSink creates the parent directory of path. A flushInterval of 0
// disables the background loop.
func openFileSink(path string, limits *FileOutput, flushInterval time.Duration) (*fileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	file := &lumberjack.Logger{Filename: path, LocalTime: true}
	if limits != nil {
		file.MaxSize = limits.MaxSize
		file.MaxAge = limits.MaxAge
		file.MaxBackups = limits.MaxRotatedFiles
		file.Compress = limits.Compress
	}

	s := &fileSink{
		path: path,
		file: file,
		buf:  bufio.NewWriterSize(file, sinkBufferSize),
		stop: make(chan struct{}),
	}
	if flushInterval > 0 {
		s.wg.Go(func() { s.flushLoop(flushInterval) })
	}
	return s, nil
}

func (s *fileSink) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Flush()
		}
	}
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	return s.buf.Write(p)
}

func (s *fileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.buf.Flush()
}

// Rotate flushes and starts a new file
func (s *fileSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Rotate()
}

// Close is idempotent
func (s *fileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.buf.Flush(), s.file.Close())
}

var _ io.WriteCloser = (*fileSink)(nil)

// textHandler writes console records. A nil tz leaves out timestamps, the
// process supervisor stamps its own.
func textHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if tz == nil {
					return slog.Attr{}
				}
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			case slog.LevelKey:
				return renameLevel(a)
			}
			return a
		},
	})
}

// jsonHandler writes file records with RFC 3339 timestamps in tz
func jsonHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.String(slog.TimeKey, a.Value.Time().In(tz).Format(time.RFC3339))
			case slog.LevelKey:
				return renameLevel(a)
			}
			return a
		},
	})
}

func renameLevel(a slog.Attr) slog.Attr {
	if lvl, ok := a.Value.Any().(slog.Level); ok {
		return slog.String(slog.LevelKey, levelName(lvl))
	}
	return a
}
