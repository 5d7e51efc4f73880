package logging

import (
	"fmt"
	"time"
)

// Timed logs the start of operation at debug level and returns a function
// that logs its end with the elapsed time and the final error, if any.
func Timed(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if format != "" {
		logger.Debug("Start %s: %s", operation, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started).Round(time.Millisecond)
		if err != nil {
			logger.Debug("End %s after %s: %v", operation, elapsed, err)
			return
		}
		logger.Debug("End %s after %s", operation, elapsed)
	}
}
