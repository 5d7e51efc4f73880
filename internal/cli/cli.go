// Package cli implements the backupguard command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/backupguard/internal/checks"
	"github.com/tis24dev/backupguard/internal/config"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/metrics"
	"github.com/tis24dev/backupguard/internal/notify"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/security"
	"github.com/tis24dev/backupguard/internal/types"
	"github.com/tis24dev/backupguard/internal/version"
)

// Command annotations.
const (
	// annotationNoRuntime marks commands that run without configuration.
	annotationNoRuntime = "backupguard/no-runtime"
	// annotationLocked marks commands that change backups; they run the
	// preflight checks and hold the run lock.
	annotationLocked = "backupguard/locked"
)

var lockedCommand = map[string]string{annotationLocked: "true"}

// Options customise a command tree. Zero values select the process streams
// and the production wiring.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// LogOutput receives log lines (Stdout when nil).
	LogOutput io.Writer
	// Connect builds the runtime (Connect when nil).
	Connect ConnectFunc
	// IsTerminal reports whether colour may be used (stdout check when nil).
	IsTerminal func() bool
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.LogOutput == nil {
		o.LogOutput = o.Stdout
	}
	if o.Connect == nil {
		o.Connect = Connect
	}
	if o.IsTerminal == nil {
		o.IsTerminal = stdoutIsTerminal
	}
	return o
}

// session is the state of one invocation.
type session struct {
	opts Options
	boot *logging.BootstrapLogger

	configPath string
	logLevel   string
	jsonOutput bool

	cfg     *config.Config
	logger  *logging.Logger
	rt      *Runtime
	checker *checks.Checker
	started time.Time
}

// Execute runs the command line in args and returns the exit code.
func Execute(ctx context.Context, args []string, opts Options) types.ExitCode {
	s := &session{
		opts:    opts.withDefaults(),
		started: time.Now(),
	}
	s.boot = logging.NewBootstrapLogger(s.opts.Stderr)

	root := s.rootCommand()
	root.SetArgs(args)
	cmd, err := root.ExecuteContextC(ctx)
	code := ExitCodeFor(err)

	if err != nil {
		if s.logger != nil {
			s.logger.Error("%v", err)
		} else {
			fmt.Fprintf(s.opts.Stderr, "Error: %v\n", err)
		}
	}
	s.finish(ctx, cmd, code, err)
	return code
}

func (s *session) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "backupguard",
		Short: "Coordinated backup and restore of a local and a remote environment",
		Long: `backupguard snapshots files on this machine and on a remote host reached
over SSH under one backup id, and restores, verifies and prunes both sides
together.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: s.prepare,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(s.opts.Stdout)
	root.SetErr(s.opts.Stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&s.configPath, "config", "c", "", "path to the configuration file (env or YAML)")
	flags.StringVarP(&s.logLevel, "log-level", "l", "", "log level (debug|info|warning|error|critical)")
	flags.BoolVar(&s.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		s.backupCommand(),
		s.restoreCommand(),
		s.rollbackCommand(),
		s.emergencyRestoreCommand(),
		s.listCommand(),
		s.browseCommand(),
		s.cleanupCommand(),
		s.verifyCommand(),
		s.compressCommand(),
		s.decompressCommand(),
		s.diskCommand(),
		s.reconcileCommand(),
		s.testConnectionCommand(),
		s.versionCommand(),
	)
	return root
}

// prepare loads the configuration, builds the logger and connects the
// runtime before any command that needs them.
func (s *session) prepare(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotationNoRuntime] == "true" || cmd.Name() == "help" {
		return nil
	}

	if s.configPath != "" {
		s.boot.Debug("Loading configuration from %s", s.configPath)
	} else {
		s.boot.Debug("No configuration file given, using defaults and environment")
	}
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return &configError{err: err}
	}
	if s.logLevel != "" {
		level, err := config.ParseLogLevel(s.logLevel)
		if err != nil {
			return &configError{err: err}
		}
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return &configError{err: err}
	}
	s.cfg = cfg

	logger := logging.New(cfg.LogLevel, cfg.UseColor && s.opts.IsTerminal())
	logger.SetOutput(s.opts.LogOutput)
	if cfg.LogFile != "" {
		if err := logger.OpenLogFile(cfg.LogFile); err != nil {
			logger.Warning("Cannot open log file %s: %v", cfg.LogFile, err)
		}
	}
	s.boot.SetLevel(cfg.LogLevel)
	s.boot.Flush(logger)
	s.logger = logger

	rt, err := s.opts.Connect(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	s.rt = rt

	if cmd.Annotations[annotationLocked] == "true" {
		return s.acquire(cmd.Context())
	}
	return nil
}

// acquire audits the sensitive files, runs the local preflight checks and
// takes the run lock.
func (s *session) acquire(ctx context.Context) error {
	if audit := security.CheckFiles(s.logger.WithPrefix("security"), security.FilesFor(s.cfg)); audit.HasErrors() {
		return &configError{err: fmt.Errorf("security audit found %d error(s)", audit.ErrorCount())}
	}

	checker := checks.NewChecker(s.logger, &checks.CheckerConfig{
		BackupPath:   s.cfg.LocalBackupDir,
		LockFilePath: s.cfg.LockPath,
		MinFreeBytes: s.cfg.MinFreeSpace,
		FSTimeout:    s.cfg.LocalFSTimeout,
	})
	s.checker = checker
	if _, err := checker.RunAllChecks(ctx); err != nil {
		return withExitCode(types.ExitBackupError, "preflight: %v", err)
	}
	return nil
}

// finish exports run metrics, notifies about locked commands and releases
// the runtime.
func (s *session) finish(ctx context.Context, cmd *cobra.Command, code types.ExitCode, runErr error) {
	if err := s.checker.ReleaseLock(); err != nil {
		s.logger.Warning("%v", err)
	}
	if s.rt == nil {
		return
	}
	if s.rt.Exporter != nil {
		warnings, errs := s.logger.Counts()
		name := "backupguard"
		if cmd != nil {
			name = cmd.Name()
		}
		err := s.rt.Exporter.Export(&metrics.RunMetrics{
			Command:      name,
			StartTime:    s.started,
			EndTime:      time.Now(),
			ExitCode:     code.Int(),
			ErrorCount:   errs,
			WarningCount: warnings,
		})
		if err != nil {
			s.logger.Warning("Metrics export failed: %v", err)
		}
	}
	if s.rt.Notifier != nil && cmd != nil && cmd.Annotations[annotationLocked] == "true" {
		s.notify(context.WithoutCancel(ctx), cmd, code, runErr)
	}
	if err := s.rt.Close(); err != nil {
		s.logger.Warning("Closing runtime: %v", err)
	}
	if s.logger != nil {
		_ = s.logger.CloseLogFile()
	}
}

func (s *session) notify(ctx context.Context, cmd *cobra.Command, code types.ExitCode, runErr error) {
	message := cmd.Name() + " completed"
	if runErr != nil {
		message = runErr.Error()
	}
	hostname, _ := os.Hostname()
	warnings, errs := s.logger.Counts()
	summary := &notify.RunSummary{
		Command:      cmd.Name(),
		Args:         cmd.Flags().Args(),
		Status:       notify.StatusFromExitCode(code),
		ExitCode:     code,
		Message:      message,
		Hostname:     hostname,
		Version:      version.String(),
		StartTime:    s.started,
		Duration:     time.Since(s.started),
		ErrorCount:   errs,
		WarningCount: warnings,
	}
	if err := s.rt.Notifier.Send(ctx, summary); err != nil {
		s.logger.Warning("%s notification failed: %v", s.rt.Notifier.Name(), err)
	}
}

func (s *session) orch() *orchestrator.Orchestrator {
	return s.rt.Orchestrator
}

func (s *session) printer(cmd *cobra.Command) printer {
	return printer{out: cmd.OutOrStdout(), json: s.jsonOutput}
}
