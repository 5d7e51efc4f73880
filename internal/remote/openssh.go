package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tis24dev/backupguard/internal/logging"
)

// sshUnreachableStatus is what the ssh binary exits with when it cannot
// connect or authenticate, as opposed to the remote command's own status.
const sshUnreachableStatus = 255

type exitCoder interface {
	ExitCode() int
}

// OpenSSHExecutor runs commands through the system ssh binary.
type OpenSSHExecutor struct {
	cfg         Config
	logger      *logging.Logger
	binary      string
	execCommand func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// NewOpenSSHExecutor returns an executor that invokes ssh for every command.
func NewOpenSSHExecutor(cfg Config, logger *logging.Logger) *OpenSSHExecutor {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &OpenSSHExecutor{
		cfg:         cfg.WithDefaults(),
		logger:      logger,
		binary:      "ssh",
		execCommand: defaultExecCommand,
	}
}

// Args returns the ssh argument vector used to run command.
func (e *OpenSSHExecutor) Args(command string) []string {
	connectTimeout := int(e.cfg.Timeout.Seconds())
	if connectTimeout < 1 {
		connectTimeout = 1
	}
	args := []string{
		"-i", e.cfg.KeyPath,
		"-p", strconv.Itoa(e.cfg.Port),
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(connectTimeout),
	}
	if e.cfg.KnownHostsPath != "" {
		args = append(args,
			"-o", "StrictHostKeyChecking=yes",
			"-o", "UserKnownHostsFile="+e.cfg.KnownHostsPath,
		)
	} else {
		args = append(args, "-o", "StrictHostKeyChecking=no")
	}
	return append(args, e.cfg.Target(), command)
}

// Run executes command on the remote host.
func (e *OpenSSHExecutor) Run(ctx context.Context, command string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	stdout, stderr, err := e.execCommand(ctx, e.binary, e.Args(command)...)
	res := &Result{Stdout: string(stdout), Stderr: string(stderr)}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind := ConnectionTimeout
		if !errors.Is(ctxErr, context.DeadlineExceeded) {
			kind = ConnectionNetwork
		}
		return nil, &ConnectionError{Kind: kind, Host: e.cfg.Host, Err: ctxErr}
	}

	var coder exitCoder
	if !errors.As(err, &coder) {
		// ssh itself could not be started.
		return nil, &ConnectionError{Kind: ConnectionNetwork, Host: e.cfg.Host, Err: err}
	}
	if coder.ExitCode() == sshUnreachableStatus {
		e.logger.Debug("ssh to %s exited %d: %s", e.cfg.Target(), sshUnreachableStatus, strings.TrimSpace(res.Stderr))
		return nil, classifyChannelError(ctx, e.cfg.Host, errors.New(strings.TrimSpace(res.Stderr)))
	}
	return nil, &CommandError{Command: command, ExitStatus: coder.ExitCode(), Stderr: res.Stderr}
}

func defaultExecCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
