package types

import "strings"

// Environment identifies one of the two storage environments a backup lives in.
type Environment string

const (
	// EnvLocal - the local filesystem, accessed with direct file-system calls
	EnvLocal Environment = "local"

	// EnvRemote - the remote host, accessed through one-shot SSH commands
	EnvRemote Environment = "remote"
)

// Environments lists every environment in the order the orchestrator reports them.
var Environments = []Environment{EnvLocal, EnvRemote}

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// Suffix returns the id suffix used for environment-specific backups ("-local", "-remote").
func (e Environment) Suffix() string {
	return "-" + string(e)
}

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvLocal || e == EnvRemote
}

// ParseEnvironment converts a user supplied name into an Environment.
// "ec2" is accepted as an alias for the remote environment.
func ParseEnvironment(s string) (Environment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return EnvLocal, true
	case "remote", "ec2", "ssh":
		return EnvRemote, true
	default:
		return "", false
	}
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a textual or numeric level into a LogLevel.
// Unknown values fall back to LogLevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "5":
		return LogLevelDebug
	case "info", "4":
		return LogLevelInfo
	case "warning", "warn", "3":
		return LogLevelWarning
	case "error", "2":
		return LogLevelError
	case "critical", "1":
		return LogLevelCritical
	case "none", "0":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}
