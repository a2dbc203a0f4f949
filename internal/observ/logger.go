// Package observ builds the process-wide zap logger from the ENV and
// LOG_LEVEL settings carried by config.
package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production (JSON) logger when env is "production"
// and a development (console) logger otherwise. Unparseable levels fall
// back to info rather than failing startup.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
