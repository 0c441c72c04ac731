package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig selects the log level and output encoding.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// NewLevel parses the configured level into a runtime-adjustable handle.
// Unknown levels fall back to info rather than failing startup.
func NewLevel(cfg LoggerConfig) zap.AtomicLevel {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	return zap.NewAtomicLevelAt(level)
}

// NewLogger builds the process-wide zap logger on the given level handle, so
// the level can be retuned while the process runs.
func NewLogger(cfg LoggerConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = level

	return zapCfg.Build()
}
