package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tis24dev/backupguard/internal/types"
)

// sink is the state shared by a logger and every prefixed child derived from it.
type sink struct {
	mu           sync.Mutex
	level        types.LogLevel
	useColor     bool
	output       io.Writer
	timeFormat   string
	logFile      *os.File
	warningCount int64
	errorCount   int64
}

// Logger handles application logging.
// Child loggers created with WithPrefix write to the same outputs and share
// level and counters with their parent.
type Logger struct {
	sink   *sink
	prefix string
}

// New creates a new logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		sink: &sink{
			level:      level,
			useColor:   useColor,
			output:     os.Stdout,
			timeFormat: "2006-01-02 15:04:05",
		},
	}
}

// WithPrefix returns a child logger that tags every line with [prefix].
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l == nil {
		return nil
	}
	if l.prefix != "" && prefix != "" {
		prefix = l.prefix + "/" + prefix
	}
	return &Logger{sink: l.sink, prefix: prefix}
}

// Prefix returns the component tag of this logger ("" for the root logger).
func (l *Logger) Prefix() string {
	if l == nil {
		return ""
	}
	return l.prefix
}

// SetOutput sets the logger output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if w == nil {
		l.sink.output = os.Stdout
		return
	}
	l.sink.output = w
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level types.LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() types.LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// UsesColor returns whether color output is enabled.
func (l *Logger) UsesColor() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.useColor
}

// OpenLogFile opens a log file and starts real-time writing.
func (l *Logger) OpenLogFile(logPath string) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile != nil {
		l.sink.logFile.Close()
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l.sink.logFile = file
	return nil
}

// CloseLogFile closes the log file, if one is open.
func (l *Logger) CloseLogFile() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return nil
	}

	err := l.sink.logFile.Close()
	l.sink.logFile = nil
	return err
}

// GetLogFilePath returns the path of the currently open log file (or "" if none).
func (l *Logger) GetLogFilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile == nil {
		return ""
	}
	return l.sink.logFile.Name()
}

func (l *Logger) log(level types.LogLevel, label string, colorOverride string, format string, args ...interface{}) {
	if l == nil || l.sink == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level > s.level {
		return
	}

	switch level {
	case types.LogLevelWarning:
		s.warningCount++
	case types.LogLevelError, types.LogLevelCritical:
		s.errorCount++
	}

	timestamp := time.Now().Format(s.timeFormat)
	levelStr := level.String()
	if label != "" {
		levelStr = label
	}
	message := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		message = "[" + l.prefix + "] " + message
	}

	var colorCode, resetCode string
	if s.useColor {
		resetCode = "\033[0m"
		if colorOverride != "" {
			colorCode = colorOverride
		} else {
			switch level {
			case types.LogLevelDebug:
				colorCode = "\033[36m" // Cyan
			case types.LogLevelInfo:
				colorCode = "\033[32m" // Green
			case types.LogLevelWarning:
				colorCode = "\033[33m" // Yellow
			case types.LogLevelError:
				colorCode = "\033[31m" // Red
			case types.LogLevelCritical:
				colorCode = "\033[1;31m" // Bold Red
			}
		}
	}

	fmt.Fprintf(s.output, "[%s] %s%-8s%s %s\n", timestamp, colorCode, levelStr, resetCode, message)

	if s.logFile != nil {
		fmt.Fprintf(s.logFile, "[%s] %-8s %s\n", timestamp, levelStr, message)
	}
}

// HasWarnings returns true if at least one warning was logged.
func (l *Logger) HasWarnings() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.warningCount > 0
}

// HasErrors returns true if at least one error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.errorCount > 0
}

// Counts returns the number of warnings and errors logged so far.
func (l *Logger) Counts() (warnings, errors int) {
	if l == nil || l.sink == nil {
		return 0, 0
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return int(l.sink.warningCount), int(l.sink.errorCount)
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(types.LogLevelDebug, "", "", format, args...)
}

// Info writes an informational log
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(types.LogLevelInfo, "", "", format, args...)
}

// Step writes an informational log with STEP label (to highlight sequential activities)
func (l *Logger) Step(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(types.LogLevelInfo, "STEP", "\033[34m", format, args...)
}

// Skip writes an informational log with SKIP label (for ignored elements)
func (l *Logger) Skip(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.log(types.LogLevelInfo, "SKIP", "\033[35m", format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(types.LogLevelWarning, "", "", format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(types.LogLevelError, "", "", format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(types.LogLevelCritical, "", "", format, args...)
}

// Package-level default logger
var defaultLogger *Logger

func init() {
	defaultLogger = New(types.LogLevelInfo, false)
}

// SetDefaultLogger sets the default logger.
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// Discard returns a logger that drops every message. Useful as a default
// for components constructed without a logger.
func Discard() *Logger {
	l := New(types.LogLevelNone, false)
	l.SetOutput(io.Discard)
	return l
}
