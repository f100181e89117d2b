// Package tlogger builds the zap loggers used across treeline. Levels are
// plain strings so they can come straight from configuration.
package tlogger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by GetLogger. Any other zap level name works too.
const (
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"

	// LogLevelNone drops all output, which keeps tests quiet.
	LogLevelNone = "none"
)

// GetLogger builds a production JSON logger at the given level. The level
// "none" yields a no-op logger.
func GetLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// MustGetLogger is GetLogger for callers where a bad level is a bug.
func MustGetLogger(logLevel string) *zap.Logger {
	l, err := GetLogger(logLevel)
	if err != nil {
		panic(err)
	}
	return l
}
