// Package remotetest provides remote.Executor doubles for tests.
package remotetest

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/tis24dev/backupguard/internal/remote"
)

// ShellExecutor runs commands with the local sh, so tests exercise the exact
// command strings a remote host would receive.
type ShellExecutor struct {
	// Dir is the working directory of every command.
	Dir string
	// Fail, when set, is consulted before each command. A non-nil error is
	// returned instead of running it.
	Fail func(command string) error

	mu       sync.Mutex
	commands []string
}

// Run implements remote.Executor.
func (s *ShellExecutor) Run(ctx context.Context, command string) (*remote.Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	fail := s.Fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(command); err != nil {
			return nil, err
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return nil, &remote.CommandError{Command: command, ExitStatus: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, &remote.ConnectionError{Kind: remote.ConnectionNetwork, Host: "remotetest", Err: err}
	}
	return &remote.Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Commands returns every command seen so far.
func (s *ShellExecutor) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// FailMatching returns a Fail hook that rejects commands containing substr.
func FailMatching(substr string, err error) func(string) error {
	return func(command string) error {
		if strings.Contains(command, substr) {
			return err
		}
		return nil
	}
}

// Response is one scripted reply of a Queue.
type Response struct {
	// Prefix, when set, must match the start of the command.
	Prefix string
	Stdout string
	Err    error
}

// Queue replies to commands in order and fails the test on surprises.
type Queue struct {
	T         *testing.T
	Responses []Response

	mu    sync.Mutex
	calls []string
}

// Run implements remote.Executor.
func (q *Queue) Run(_ context.Context, command string) (*remote.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls = append(q.calls, command)
	if len(q.Responses) == 0 {
		q.T.Errorf("unexpected command: %s", command)
		return nil, &remote.CommandError{Command: command, ExitStatus: 127}
	}
	resp := q.Responses[0]
	q.Responses = q.Responses[1:]

	if resp.Prefix != "" && !strings.HasPrefix(command, resp.Prefix) {
		q.T.Errorf("expected command starting with %q, got %q", resp.Prefix, command)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &remote.Result{Stdout: resp.Stdout}, nil
}

// Calls returns every command seen so far.
func (q *Queue) Calls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.calls...)
}

// Timeout is the error an executor returns when a command times out.
func Timeout() error {
	return &remote.ConnectionError{Kind: remote.ConnectionTimeout, Host: "remotetest", Err: context.DeadlineExceeded}
}
