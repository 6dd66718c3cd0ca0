package obs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		logger = buildLogger("info")
	})
	return logger
}

// InitLogger configures the shared logger level. Safe to call once at startup;
// later calls are ignored.
func InitLogger(level string) *zap.Logger {
	loggerOnce.Do(func() {
		logger = buildLogger(level)
	})
	return logger
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		// A logger we cannot build leaves nothing to report with; fall back to no-op.
		os.Stderr.WriteString("obs: logger build failed: " + err.Error() + "\n")
		return zap.NewNop()
	}
	return l
}
