// Package logging builds the root zap logger from configuration.
// This package is internal and should not be imported by external projects.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls root logger construction
type Config struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`

	// Encoding is the output encoding: json or console
	Encoding string `yaml:"encoding" json:"encoding" env:"ENCODING"`

	// Development enables development-mode behavior (stack traces on warn)
	Development bool `yaml:"development" json:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "json",
	}
}

// New builds a zap logger from the configuration
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Encoding {
	case "", "json":
		zapCfg.Encoding = "json"
	case "console":
		zapCfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log encoding %q", cfg.Encoding)
	}

	return zapCfg.Build()
}
