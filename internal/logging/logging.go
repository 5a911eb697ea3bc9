package logging

import (
	"fmt"

	"github.com/satonic/nftledger/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the log configuration
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// NewSugar is NewLogger for callers that log with printf-style helpers
func NewSugar(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	l, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
