// Package logging builds the supervisor's zap logger: JSON to a rotated
// file in the log directory, optionally teed to a console encoder on stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	svcwrap "github.com/axondata/go-svcwrap"
)

// Options configures New
type Options struct {
	// Level is debug, info, warn or error
	Level string
	// Dir is the log directory; empty disables the file sink
	Dir string
	// File is the log file name inside Dir
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	// Console tees entries to Stderr
	Console bool
	// Stderr overrides os.Stderr
	Stderr io.Writer
}

// New builds a logger. When the log file cannot be opened the returned
// logger still writes to stderr and err is a *svcwrap.CommunicationError the
// caller should log; it never prevents startup.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var (
		cores   []zapcore.Core
		closers []func()
		sinkErr error
	)

	if opts.Dir != "" && opts.File != "" {
		w, err := RotatingWriter(opts.Dir, opts.File, opts.MaxSize, opts.MaxBackups, opts.MaxAge)
		if err != nil {
			sinkErr = &svcwrap.CommunicationError{Sink: "log file", Err: err}
		} else {
			enc := zap.NewProductionEncoderConfig()
			enc.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level))
			closers = append(closers, func() { _ = w.Close() })
		}
	}

	if opts.Console || len(cores) == 0 {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(stderr)), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closeFn := func() {
		_ = logger.Sync()
		for _, c := range closers {
			c()
		}
	}
	return logger, closeFn, sinkErr
}

// RotatingWriter opens a size-rotated log file. The directory is created and
// the file probed so that an unusable location fails here rather than on the
// first write.
func RotatingWriter(dir, name string, maxSize, maxBackups, maxAge int) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(dir, svcwrap.DirMode); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, svcwrap.FileMode)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	_ = f.Close()

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   false,
	}, nil
}
