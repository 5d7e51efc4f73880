package cli

import (
	"errors"
	"fmt"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/remote"
	"github.com/tis24dev/backupguard/internal/types"
)

// exitError carries an explicit exit code, used when a command completed but
// its result was not clean.
type exitError struct {
	code types.ExitCode
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code types.ExitCode, format string, args ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

// configError marks failures to load or validate the configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return "configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// ExitCodeFor maps a command error to the process exit code.
func ExitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ce *configError
	if errors.As(err, &ce) {
		return types.ExitConfigError
	}
	switch {
	case backup.IsKind(err, backup.KindRollbackFailed):
		return types.ExitRollbackError
	case backup.IsKind(err, backup.KindSSHConnectFailed), remote.IsConnectionError(err):
		return types.ExitNetworkError
	case backup.IsKind(err, backup.KindBackupFailed):
		return types.ExitBackupError
	}
	return types.ExitGenericError
}
