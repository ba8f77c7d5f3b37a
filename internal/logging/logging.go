// Package logging builds the writer every component logger prints to.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sciber-ai/audiosync/internal/config"
)

// Output is the process log destination.
type Output struct {
	io.Writer
	file *lumberjack.Logger
}

// Open returns stderr, a rotating file, or both, according to cfg. With
// Quiet set only the file is written.
func Open(cfg config.LogConfig) *Output {
	return open(cfg, os.Stderr)
}

func open(cfg config.LogConfig, console io.Writer) *Output {
	if cfg.File == "" {
		if cfg.Quiet {
			return &Output{Writer: io.Discard}
		}
		return &Output{Writer: console}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	if cfg.Quiet {
		return &Output{Writer: file, file: file}
	}
	return &Output{Writer: io.MultiWriter(console, file), file: file}
}

// Logger returns a logger with the component prefix, e.g. "worker" gives
// "[worker] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without a file.
func (o *Output) Rotate() error {
	if o.file == nil {
		return nil
	}
	return o.file.Rotate()
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
