package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/tis24dev/backupguard/internal/logging"
)

// Result holds the output of a remote command that exited zero.
type Result struct {
	Stdout string
	Stderr string
}

// Executor runs one shell command on the remote host.
//
// Run returns *CommandError when the command exits non-zero and
// *ConnectionError when the channel fails or the timeout elapses.
type Executor interface {
	Run(ctx context.Context, command string) (*Result, error)
}

// NewExecutor builds the executor selected by cfg.Transport, paced by
// cfg.CommandsPerSecond when set.
func NewExecutor(cfg Config, logger *logging.Logger, opts ...SSHOption) (Executor, error) {
	cfg = cfg.WithDefaults()
	var (
		exec Executor
		err  error
	)
	switch cfg.Transport {
	case TransportNative:
		exec, err = NewSSHExecutor(cfg, logger, opts...)
	case TransportOpenSSH:
		exec = NewOpenSSHExecutor(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown remote transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CommandsPerSecond > 0 {
		exec = NewRateLimitedExecutor(exec, cfg.Host, cfg.CommandsPerSecond)
	}
	return exec, nil
}

// Quote wraps s in single quotes for a POSIX shell, rewriting embedded single
// quotes as '"'"' so no path can break out of its argument.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteAll quotes every argument and joins them with spaces.
func QuoteAll(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}
