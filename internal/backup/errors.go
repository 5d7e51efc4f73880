package backup

import (
	"errors"
	"fmt"

	"github.com/tis24dev/backupguard/internal/types"
)

// ErrorKind classifies whole-call failures.
type ErrorKind string

const (
	KindBackupFailed     ErrorKind = "BACKUP_FAILED"
	KindRollbackFailed   ErrorKind = "ROLLBACK_FAILED"
	KindSSHConnectFailed ErrorKind = "SSH_CONNECTION_FAILED"
)

var (
	ErrBackupNotFound    = errors.New("backup not found")
	ErrSizeLimitExceeded = errors.New("backup size limit exceeded")
	ErrBackupArchived    = errors.New("backup is archived")
	ErrBackupNotArchived = errors.New("backup is not archived")
)

// Error is a whole-call failure. Per-file problems never surface as Error;
// they are collected in the result's error list instead.
type Error struct {
	Kind        ErrorKind
	Environment types.Environment
	Op          string
	BackupID    string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return "backup error"
	}
	msg := string(e.Kind)
	if e.Environment != "" {
		msg += " [" + e.Environment.String() + "]"
	}
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.BackupID != "" {
		msg += fmt.Sprintf(" %q", e.BackupID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind reports whether any Error in err's tree has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	switch x := err.(type) {
	case nil:
		return false
	case *Error:
		if x == nil {
			return false
		}
		return x.Kind == kind || IsKind(x.Err, kind)
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if IsKind(e, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsKind(x.Unwrap(), kind)
	}
	return false
}

// KindOf returns the kind of the outermost Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

func newError(kind ErrorKind, env types.Environment, op, id string, err error) *Error {
	return &Error{Kind: kind, Environment: env, Op: op, BackupID: id, Err: err}
}
