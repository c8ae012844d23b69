package diagnostics

import (
	"go.uber.org/zap"
)

// NewLogger builds the process-wide *zap.SugaredLogger used throughout
// this core, in development (console, debug-level) or production (JSON,
// info-level) mode.
func NewLogger(development bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
