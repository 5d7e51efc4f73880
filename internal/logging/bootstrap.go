package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tis24dev/backupguard/internal/types"
)

type bootstrapEntry struct {
	level   types.LogLevel
	message string
}

// BootstrapLogger buffers messages produced before the configuration (and
// therefore the real logger) is available. Warnings and errors are echoed to
// the console immediately; everything is replayed into the real logger by
// Flush.
type BootstrapLogger struct {
	mu       sync.Mutex
	console  io.Writer
	entries  []bootstrapEntry
	flushed  bool
	minLevel types.LogLevel
}

// NewBootstrapLogger creates a bootstrap logger echoing to console (stderr
// when nil).
func NewBootstrapLogger(console io.Writer) *BootstrapLogger {
	if console == nil {
		console = os.Stderr
	}
	return &BootstrapLogger{
		console:  console,
		minLevel: types.LogLevelInfo,
	}
}

// SetLevel sets the minimum level replayed by Flush.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = level
}

// Debug records a message that is never echoed.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...))
}

// Info records an informational message.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	b.record(types.LogLevelInfo, fmt.Sprintf(format, args...))
}

// Warning records a message and echoes it to the console.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	b.echo(types.LogLevelWarning, fmt.Sprintf(format, args...))
}

// Error records a message and echoes it to the console.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	b.echo(types.LogLevelError, fmt.Sprintf(format, args...))
}

func (b *BootstrapLogger) echo(level types.LogLevel, msg string) {
	msg = strings.TrimSuffix(msg, "\n")
	b.mu.Lock()
	console := b.console
	b.mu.Unlock()
	fmt.Fprintf(console, "%s: %s\n", level.String(), msg)
	b.record(level, msg)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return
	}
	b.entries = append(b.entries, bootstrapEntry{level: level, message: message})
}

// Flush replays the buffered entries into logger. Only the first call has
// any effect; later messages are dropped.
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed || logger == nil {
		return
	}
	for _, entry := range b.entries {
		if entry.level > b.minLevel {
			continue
		}
		switch entry.level {
		case types.LogLevelDebug:
			logger.Debug("%s", entry.message)
		case types.LogLevelWarning:
			logger.Warning("%s", entry.message)
		case types.LogLevelError:
			logger.Error("%s", entry.message)
		case types.LogLevelCritical:
			logger.Critical("%s", entry.message)
		default:
			logger.Info("%s", entry.message)
		}
	}
	b.flushed = true
	b.entries = nil
}

// Pending reports how many entries are waiting for Flush.
func (b *BootstrapLogger) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
