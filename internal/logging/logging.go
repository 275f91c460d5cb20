// Package logging builds the component loggers used across postlink.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/postlink/internal/config"
)

// Factory hands out prefixed loggers that share one output. The rotated file
// is opened lazily and shared by every logger from the same Factory.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger
	mu   sync.Mutex
}

// NewFactory returns a Factory writing to stderr and, when cfg.File is set,
// to a size-rotated log file.
func NewFactory(cfg config.LogConfig) *Factory {
	return newFactory(cfg, os.Stderr)
}

func newFactory(cfg config.LogConfig, stderr io.Writer) *Factory {
	f := &Factory{out: stderr}
	if cfg.File != "" {
		f.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		f.out = io.MultiWriter(stderr, f.file)
	}
	return f
}

// Logger returns a logger prefixed with "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Close closes the rotated file, if any.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

// New is a shortcut for a single logger; the file handle stays open for the
// life of the process.
func New(cfg config.LogConfig, component string) *log.Logger {
	return NewFactory(cfg).Logger(component)
}
