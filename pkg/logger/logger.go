package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger configured for the given level name
// (e.g. "debug", "info", "warn", "error"). Unrecognized levels fall
// back to info.
func New(level string) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := cfg.Build()
	if err != nil {
		zapLogger = zap.NewNop()
	}

	return zapLogger
}
