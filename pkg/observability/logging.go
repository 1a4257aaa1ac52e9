package observability

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the process-wide sugared logger. Sampling stays off:
// per-event relay lines are the audit trail and must never be dropped.
func InitLogger(level string) *zap.SugaredLogger {
	conf := zap.NewProductionConfig()
	conf.Sampling = nil
	conf.DisableStacktrace = true
	conf.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	conf.Level = zap.NewAtomicLevelAt(parseLevel(level))
	conf.InitialFields = map[string]any{"service": "eventrelay"}

	logger, err := conf.Build()
	if err != nil {
		log.Fatal(err)
	}

	return logger.Sugar()
}

// parseLevel maps the configured string to a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}
