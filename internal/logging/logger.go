// Package logging builds the zap loggers used by the dashboard.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	// Path is the log file. Empty or "stderr" logs to stderr.
	Path  string
	Debug bool
}

// New returns a JSON production logger writing to opts.Path. The parent
// directory is created when needed.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	sink := opts.Path
	if sink == "" {
		sink = "stderr"
	}
	if sink != "stderr" && sink != "stdout" {
		if err := os.MkdirAll(filepath.Dir(sink), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	config.OutputPaths = []string{sink}
	config.ErrorOutputPaths = []string{sink}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
