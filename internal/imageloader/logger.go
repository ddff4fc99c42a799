package imageloader

import (
	"sync"

	"github.com/tphakala/patchwork-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the imageloader package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("imageloader")
	})
	return serviceLogger
}
