package activelearning

import (
	"sync"

	"github.com/tphakala/patchwork-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the activelearning package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("activelearning")
	})
	return serviceLogger
}
