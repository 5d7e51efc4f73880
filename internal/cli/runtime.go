package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/config"
	"github.com/tis24dev/backupguard/internal/input"
	"github.com/tis24dev/backupguard/internal/journal"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/metrics"
	"github.com/tis24dev/backupguard/internal/notify"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/remote"
)

var readPassword = term.ReadPassword

// Runtime is everything a command needs once the configuration is loaded.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Exporter     *metrics.PrometheusExporter
	Notifier     notify.Notifier

	closers []func() error
}

// ConnectFunc builds the runtime from a loaded configuration.
type ConnectFunc func(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Runtime, error)

// Connect is the production wiring: the configured remote transport, the
// local manager over the local filesystem, plus journal and metrics when
// enabled.
func Connect(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Runtime, error) {
	passphrase := func() ([]byte, error) { return promptPassphrase(ctx) }
	exec, err := remote.NewExecutor(cfg.Remote, logger.WithPrefix("ssh"), remote.WithPassphrase(passphrase))
	if err != nil {
		return nil, &configError{err: err}
	}
	local := backup.NewLocalManager(cfg.LocalOptions(), cfg.LocalFSTimeout, logger.WithPrefix("local"))
	rm := backup.NewRemoteManager(exec, cfg.RemoteOptions(), logger.WithPrefix("remote"))
	return NewRuntime(cfg, logger, local, rm), nil
}

// NewRuntime wires an orchestrator over local and remote and attaches the
// optional journal, metrics exporter and webhook configured in cfg. A
// journal that cannot be opened is logged and skipped.
func NewRuntime(cfg *config.Config, logger *logging.Logger, local, rm backup.Manager) *Runtime {
	rt := &Runtime{Orchestrator: orchestrator.New(local, rm, logger)}

	if cfg.MetricsEnabled {
		rt.Exporter = metrics.NewPrometheusExporter(cfg.MetricsPath, logger.WithPrefix("metrics"))
		rt.Orchestrator.SetRecorder(rt.Exporter)
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger.WithPrefix("journal"))
		if err != nil {
			logger.Warning("Operation journal unavailable, continuing without it: %v", err)
		} else {
			rt.Orchestrator.SetJournal(j)
			rt.closers = append(rt.closers, j.Close)
		}
	}

	if cfg.Webhook.Enabled() {
		n, err := notify.NewWebhookNotifier(cfg.Webhook, logger.WithPrefix("notify"))
		if err != nil {
			logger.Warning("Webhook notifications disabled: %v", err)
		} else {
			rt.Notifier = n
		}
	}
	return rt
}

// Close releases the journal and anything else the runtime opened.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// promptPassphrase asks for the private key passphrase on the terminal.
func promptPassphrase(ctx context.Context) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("private key is passphrase protected and stdin is not a terminal")
	}
	return readPassphrase(ctx, os.Stderr, fd)
}

func readPassphrase(ctx context.Context, w io.Writer, fd int) ([]byte, error) {
	fmt.Fprint(w, "SSH key passphrase: ")
	pass, err := input.ReadPasswordWithContext(ctx, readPassword, fd)
	fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
