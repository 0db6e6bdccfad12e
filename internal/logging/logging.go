// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fly-io/imageuploader/pkg/errors"
)

// FileName is the log file written inside the log directory.
const FileName = "image_uploader.log"

// Rotation policy: a new file every day, or sooner once it reaches
// maxSizeMB; backups older than keepDays are pruned, at most keepBackups kept.
const (
	DefaultRotateEvery = 24 * time.Hour
	maxSizeMB          = 100
	keepBackups        = 7
	keepDays           = 7
)

// Options controls where logs go.
type Options struct {
	// Dir receives a rotating log file. Empty disables file output.
	Dir   string
	Level string
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
	// RotateEvery starts a new log file on this interval. Zero selects
	// DefaultRotateEvery.
	RotateEvery time.Duration
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup installs a text logger as the slog default and returns a closer for
// the log file, if any.
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create log directory")
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, FileName),
			MaxSize:    maxSizeMB,
			MaxBackups: keepBackups,
			MaxAge:     keepDays,
		}
		every := opts.RotateEvery
		if every <= 0 {
			every = DefaultRotateEvery
		}
		out = io.MultiWriter(out, file)
		closer = startRotation(file, every)
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return closer, nil
}

// rotatingFile rotates its log file on a fixed interval until closed.
type rotatingFile struct {
	file *lumberjack.Logger
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startRotation(file *lumberjack.Logger, every time.Duration) *rotatingFile {
	r := &rotatingFile{
		file: file,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.run(every)
	return r
}

func (r *rotatingFile) run(every time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.file.Rotate(); err != nil {
				fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			}
		}
	}
}

func (r *rotatingFile) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return r.file.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
