// Package logging builds the zap loggers used across the engine.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New builds a zap.Logger: coloured console output for development, JSON for
// production. Both use "ts" as the time key.
func New(development bool) (*zap.Logger, error) {
	return Build(Config{Development: development})
}

// Build is New with an explicit level. An empty level keeps zap's default
// for the chosen mode.
func Build(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	mode := "prod"
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "dev"
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}

// ForRun scopes logger to one crawl.
func ForRun(logger *zap.Logger, runID, spider string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("run_id", runID), zap.String("spider", spider))
}
