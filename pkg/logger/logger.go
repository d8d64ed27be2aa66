// Package logger is the process-wide structured logging facade. Every
// subsystem logs through it; nothing in the repo uses fmt.Println or the
// stdlib log package.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger. It defaults to a no-op so packages can log
// before Init runs and tests never crash on an uninitialized logger.
var Log = zap.NewNop()

// Init builds the global logger from zap's presets: colored console output
// at Debug level in development, single-line JSON at Info level in
// production, both to stdout so container log collection stays simple.
func Init(environment string) error {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = built
	return nil
}

// Sync flushes buffered entries; deferred in main before exit.
func Sync() {
	_ = Log.Sync()
}

func Info(msg string, fields ...zap.Field)  { Log.Info(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Log.Fatal(msg, fields...) }

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Log.With(fields...)
}

// WithOrder returns a child logger carrying the order id, the field every
// order-scoped subsystem repeats on each line; the watcher logs through it.
func WithOrder(orderID string) *zap.Logger {
	return Log.With(zap.String("order_id", orderID))
}

// GetEnv reads the deployment environment from ENVIRONMENT, defaulting to
// "development".
func GetEnv() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}
