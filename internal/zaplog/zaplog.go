// Package zaplog constructs the structured loggers used across the core.
// Every component takes a *zap.Logger at construction time rather than
// reaching for a package-level global, matching the "no singletons" design
// note: the caller (cmd/specflowd, or a test) owns the logger's lifecycle.
package zaplog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the production logger: JSON-encoded, info level by default,
// writing to stderr so stdout stays free for any structured output a thin
// CLI wrapper might emit.
func New(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a minimal logger rather than panic; logging must
		// never be the reason the core fails to start.
		logger = zap.NewNop()
		logger.Sugar().Warnf("zaplog: falling back to noop logger: %v", err)
	}
	return logger
}

// Nop returns a no-op logger, the default for tests and library callers
// that have not wired their own.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// NewTest returns a logger that writes to stderr at debug level, useful for
// -v test runs without dragging testify/zaptest in as a dependency.
func NewTest() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		os.Stderr.WriteString("zaplog: NewTest build failed: " + err.Error() + "\n")
		return zap.NewNop()
	}
	return logger
}
