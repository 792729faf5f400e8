// Package logger holds the process-wide zap logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the shared logger. It discards everything until Init is called, so
// packages can log from tests without setup.
var Log = zap.NewNop()

// Init builds the shared logger. A non-empty logFile switches to the JSON
// production encoder writing to the file and stdout.
func Init(level string, logFile string) error {
	var config zap.Config

	if logFile != "" {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{logFile, "stdout"}
	} else {
		config = zap.NewDevelopmentConfig()
	}

	config.Level = zap.NewAtomicLevelAt(parseLevel(level))

	built, err := config.Build()
	if err != nil {
		return err
	}

	Log = built
	return nil
}

// Named returns a child of the shared logger for one component.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Sync() error {
	if Log != nil {
		return Log.Sync()
	}
	return nil
}
