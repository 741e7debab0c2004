// Package logger installs the process-wide zap logger.
package logger

import (
	"errors"
	"log"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// Init builds a zap logger for env ("dev" gets the human-friendly
// development encoder, everything else JSON) and installs it as the
// global returned by zap.L().  The returned function flushes buffered
// entries and should be deferred by main.
func Init(env string) (*zap.Logger, func()) {
	var (
		logger *zap.Logger
		err    error
	)
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
			log.Printf("failed to sync logger: %v", err)
		}
	}
	return logger, cleanup
}

// Sync on a terminal stdout/stderr fails with EINVAL or ENOTTY.
func ignorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) ||
		strings.Contains(err.Error(), "inappropriate ioctl for device")
}
