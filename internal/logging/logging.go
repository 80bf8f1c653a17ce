// Package logging builds the pipeline logger: newline-delimited JSON
// records in <log-dir>/pipeline.json with size-based rotation, and a
// console mirror on stderr for warnings and errors.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created inside the log directory.
const FileName = "pipeline.json"

// Options controls logger construction. Zero values fall back to the
// defaults below.
type Options struct {
	Dir        string
	Level      zapcore.Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Quiet suppresses the stderr mirror. File output is unaffected.
	Quiet bool
}

// Path returns the log file path for a log directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// New creates the pipeline logger. The returned close function flushes
// buffered records and releases the rotation handle.
func New(opts Options) (*zap.Logger, func() error, error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 14
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   Path(opts.Dir),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(rotator),
		opts.Level,
	)

	cores := []zapcore.Core{fileCore}
	if !opts.Quiet {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.Lock(os.Stderr),
			zapcore.WarnLevel,
		)
		cores = append(cores, consoleCore)
	}

	logger := zap.New(zapcore.NewTee(cores...))
	closeFn := func() error {
		// Sync on stderr returns ENOTTY on some platforms; the file
		// core is what matters here.
		_ = logger.Sync()
		return rotator.Close()
	}
	return logger, closeFn, nil
}
