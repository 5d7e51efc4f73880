package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrTimeout classifies remote commands that did not finish within the
// configured timeout.
var ErrTimeout = errors.New("remote command timed out")

// ConnectionErrorKind separates the ways the command channel itself can fail.
type ConnectionErrorKind string

const (
	ConnectionTimeout ConnectionErrorKind = "timeout"
	ConnectionAuth    ConnectionErrorKind = "auth"
	ConnectionNetwork ConnectionErrorKind = "network"
)

// ConnectionError means the command could not be delivered or its outcome is
// unknown. It is distinct from CommandError, where the command ran and failed.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "remote connection failed"
	}
	msg := fmt.Sprintf("remote connection to %s failed (%s)", e.Host, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrTimeout) match timeouts regardless of the cause.
func (e *ConnectionError) Is(target error) bool {
	return e != nil && target == ErrTimeout && e.Kind == ConnectionTimeout
}

// CommandError is returned when the remote command ran and exited non-zero.
type CommandError struct {
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("remote command exited with status %d", e.ExitStatus)
	}
	return fmt.Sprintf("remote command exited with status %d: %s", e.ExitStatus, stderr)
}

// IsConnectionError reports whether err came from the command channel rather
// than from the command itself.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// classifyChannelError turns a dial/handshake/session error into a ConnectionError.
func classifyChannelError(ctx context.Context, host string, err error) *ConnectionError {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return &ConnectionError{Kind: ConnectionTimeout, Host: host, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Kind: ConnectionTimeout, Host: host, Err: err}
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "unable to authenticate") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "host key") ||
		strings.Contains(lower, "knownhosts") ||
		strings.Contains(lower, "passphrase") {
		return &ConnectionError{Kind: ConnectionAuth, Host: host, Err: err}
	}
	return &ConnectionError{Kind: ConnectionNetwork, Host: host, Err: err}
}
