package extractor

import (
	"sync"

	"github.com/tphakala/patchwork-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	loggerOnce    sync.Once
)

// GetLogger returns the extractor package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		serviceLogger = logger.Global().Module("extractor")
	})
	return serviceLogger
}
