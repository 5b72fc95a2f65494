// Package logging builds the zap loggers used by bmsync.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Mode is "development" (console, colored) or "production" (JSON).
	Mode string
	// Level is a zap level name such as "debug" or "warn".
	Level string
	// OutputPaths defaults to stderr. Stdout is kept free for command output.
	OutputPaths []string
}

// New returns a logger for opts.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(opts.Mode) {
	case "dev", "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "", "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil
	default:
		return nil, fmt.Errorf("unknown log mode %q", opts.Mode)
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	cfg.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// Sync flushes logger, ignoring the error returned for terminals.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}
