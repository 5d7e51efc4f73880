// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitBackupError - A backup, restore, listing, cleanup or verification failed.
	ExitBackupError ExitCode = 4

	// ExitNetworkError - The remote command channel could not be used.
	ExitNetworkError ExitCode = 6

	// ExitVerificationError - A backup failed integrity verification.
	ExitVerificationError ExitCode = 8

	// ExitRollbackError - An automatic rollback could not be carried out.
	ExitRollbackError ExitCode = 9

	// ExitPartialError - The operation finished with per-file or per-environment errors.
	ExitPartialError ExitCode = 10

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitBackupError:
		return "backup error"
	case ExitNetworkError:
		return "network error"
	case ExitVerificationError:
		return "verification error"
	case ExitRollbackError:
		return "rollback error"
	case ExitPartialError:
		return "partial failure"
	case ExitPanicError:
		return "panic error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an integer.
func (e ExitCode) Int() int {
	return int(e)
}
