// Package logger builds the structured zap logger used across the FlowStudio
// authorization service.
//
// The logger is constructed once in main and passed to the components that
// need it:
//
//	log, err := logger.New("debug") // Options: debug, info, warn, error
//	if err != nil {
//	    panic(err)
//	}
//	defer log.Sync()
//
//	log.Info("permission granted",
//	    zap.String("tuple", key.String()),
//	    zap.String("granted_by", granter),
//	)
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production zap logger at the given level. Unknown levels fall
// back to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
