package relay

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelTrace sits one step below zap's DebugLevel, completing the
// trace/debug/info/warning/error ladder LOG_LEVEL accepts.
const levelTrace = zapcore.DebugLevel - 1

// newLogger builds the process logger from Configuration.LogLevel, using a
// JSON encoder configuration suitable for CloudWatch.
func newLogger(cfg *Configuration) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(levelFromString(cfg.LogLevel))
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("lifecycleId", cfg.LifecycleID)), nil
}

// levelFromString maps LOG_LEVEL values
// (trace|debug|info|warning|error) onto zapcore levels.
func levelFromString(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return levelTrace
	case "debug":
		return zapcore.DebugLevel
	case "warning", "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
