// Package logging builds the per-component loggers used across nestlog.
//
// Every component takes a *log.Logger with a bracketed prefix. Output goes
// to a size-rotated file; with Verbose set it is also copied to stderr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	File       string // rotated log file; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	Verbose    bool      // also write to Stderr
	Stderr     io.Writer // default: os.Stderr
}

// Logging owns the shared log writer.
type Logging struct {
	w    io.Writer
	file *lumberjack.Logger
}

// New opens the log destinations described by opts.
func New(opts Options) *Logging {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	var writers []io.Writer
	l := &Logging{}

	if opts.File != "" {
		// lumberjack creates the file lazily; make sure its dir exists
		_ = os.MkdirAll(filepath.Dir(opts.File), 0755)
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, l.file)
	}
	if opts.Verbose {
		writers = append(writers, opts.Stderr)
	}

	switch len(writers) {
	case 0:
		l.w = io.Discard
	case 1:
		l.w = writers[0]
	default:
		l.w = io.MultiWriter(writers...)
	}
	return l
}

// For returns a logger for component, e.g. For("sync") logs with "[sync] ".
func (l *Logging) For(component string) *log.Logger {
	return log.New(l.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared destination.
func (l *Logging) Writer() io.Writer {
	return l.w
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
