// Package logging provides structured logging for the bridge. A single
// process-wide zap logger is built once at startup from the LOG_LEVEL
// and LOG_FORMAT configuration; packages derive component-scoped child
// loggers from it via With.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is nil until Initialize runs;
// the package-level helpers and With tolerate that so early-startup and
// test code can log (into the void) without ceremony.
var Logger *zap.Logger

// Config selects the log level and output encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Initialize builds the process-wide logger. Format "json" emits one
// JSON object per line for log collectors; anything else gets a
// human-readable console encoding with colored levels.
func Initialize(cfg Config) error {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	Logger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// With returns a child logger carrying fields, typically a component
// name. Before Initialize it returns a no-op logger, so constructors
// may grab their component logger unconditionally.
func With(fields ...zap.Field) *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger.With(fields...)
}

// Info logs at info level on the process-wide logger.
func Info(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Info(msg, fields...)
	}
}

// Warn logs at warn level on the process-wide logger.
func Warn(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Warn(msg, fields...)
	}
}

// Error logs at error level on the process-wide logger.
func Error(msg string, fields ...zap.Field) {
	if Logger != nil {
		Logger.Error(msg, fields...)
	}
}
