package unarchive

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger used by sessions that do not configure their own.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()

	if logger == nil {
		return zap.NewNop()
	}

	return logger
}

// SetLogger configures the package logger. Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	logger = l
}

func zapUID(uid UID) zap.Field {
	return zap.Uint32("uid", uint32(uid))
}

func zapType(key string, value any) zap.Field {
	return zap.String(key, fmt.Sprintf("%T", value))
}
