package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tis24dev/backupguard/internal/input"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/tui"
	"github.com/tis24dev/backupguard/internal/types"
	"github.com/tis24dev/backupguard/internal/version"
)

const defaultRollbackReason = "manual rollback"

// connectionTester is implemented by managers that can probe their channel.
type connectionTester interface {
	TestConnection(ctx context.Context) bool
}

func (s *session) backupCommand() *cobra.Command {
	var (
		id          string
		localFiles  []string
		remoteFiles []string
	)
	cmd := &cobra.Command{
		Use:         "backup",
		Annotations: lockedCommand,
		Short:       "Back up files on both environments under one id",
		Example: `  backupguard backup --id deploy-42 \
    --local ./config/app.yaml --remote /etc/nginx/nginx.conf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if len(localFiles) == 0 && len(remoteFiles) == 0 {
				return errors.New("nothing to back up: pass --local and/or --remote files")
			}
			if id == "" {
				id = "backup-" + time.Now().Format("20060102-150405")
			}
			done := logging.Timed(s.logger, "backup", "id=%s", id)
			defer func() { done(err) }()

			res, err := s.orch().CreateIntegratedBackup(cmd.Context(), localFiles, remoteFiles, id)
			if err != nil {
				return err
			}
			if err := s.printer(cmd).backup(res); err != nil {
				return err
			}
			if !res.Success {
				return withExitCode(types.ExitPartialError, "backup %s completed with per-file errors", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "backup id (default backup-<timestamp>)")
	cmd.Flags().StringSliceVar(&localFiles, "local", nil, "local file to back up (repeatable)")
	cmd.Flags().StringSliceVar(&remoteFiles, "remote", nil, "remote file to back up (repeatable)")
	return cmd
}

func (s *session) restoreCommand() *cobra.Command {
	var (
		dryRun      bool
		noPreBackup bool
		overwrite   bool
		noVerify    bool
	)
	cmd := &cobra.Command{
		Use:         "restore <backup-id>",
		Annotations: lockedCommand,
		Short:       "Restore both environments from an integrated backup",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			done := logging.Timed(s.logger, "restore", "id=%s", args[0])
			defer func() { done(err) }()

			opts := orchestrator.DefaultRestoreOptions()
			opts.DryRun = dryRun
			opts.CreatePreRestoreBackup = !noPreBackup
			opts.OverwriteExisting = overwrite
			opts.VerifyAfterRestore = !noVerify

			res, err := s.orch().RestoreIntegratedBackup(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if err := s.printer(cmd).restore(res); err != nil {
				return err
			}
			if !res.Success {
				return withExitCode(types.ExitPartialError, "restore of %s did not complete cleanly", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be restored without touching files")
	cmd.Flags().BoolVar(&noPreBackup, "no-pre-backup", false, "skip the safety backup of the current state")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "do not fail on unsuccessful environment results")
	return cmd
}

func (s *session) rollbackCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:         "rollback <backup-id>",
		Annotations: lockedCommand,
		Short:       "Roll both environments back to a backup",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := s.orch().ExecuteAutoRollback(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			if err := s.printer(cmd).restore(res); err != nil {
				return err
			}
			if !res.Success {
				return withExitCode(types.ExitRollbackError, "rollback to %s incomplete", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", defaultRollbackReason, "reason recorded in the log")
	return cmd
}

func (s *session) emergencyRestoreCommand() *cobra.Command {
	var (
		envName string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:         "emergency-restore <backup-id>",
		Annotations: lockedCommand,
		Short:       "Restore without a safety backup, optionally on one environment only",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target types.Environment
			if envName != "" {
				env, ok := types.ParseEnvironment(envName)
				if !ok {
					return fmt.Errorf("unknown environment %q (want local or remote)", envName)
				}
				target = env
			}
			if !yes {
				prompt := fmt.Sprintf("Emergency restore of %s overwrites current files without a safety backup.", args[0])
				err := input.Confirm(cmd.Context(), s.opts.Stdin, s.opts.Stderr, prompt, args[0])
				if errors.Is(err, input.ErrNotConfirmed) || input.IsAborted(err) {
					return fmt.Errorf("emergency restore of %s not confirmed", args[0])
				}
				if err != nil {
					return err
				}
			}
			res, err := s.orch().EmergencyRestore(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}
			if err := s.printer(cmd).restore(res); err != nil {
				return err
			}
			if !res.Success {
				return withExitCode(types.ExitPartialError, "emergency restore of %s did not complete cleanly", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&envName, "env", "", "restore only this environment (local or remote)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (s *session) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups of both environments, paired by id",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listing, err := s.orch().ListIntegratedBackups(cmd.Context())
			if err != nil {
				return err
			}
			return s.printer(cmd).listing(listing)
		},
	}
}

func (s *session) browseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse and verify backups interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !s.opts.IsTerminal() {
				return errors.New("browse needs an interactive terminal")
			}
			ctx := cmd.Context()
			listing, err := s.orch().ListIntegratedBackups(ctx)
			if err != nil {
				return err
			}
			browser := tui.NewBrowser(ctx, tui.NewApp(ctx), listing, s.orch().VerifyIntegratedBackup)
			return browser.Run()
		},
	}
}

func (s *session) cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:         "cleanup",
		Annotations: lockedCommand,
		Short:       "Delete backups older than the retention period on both environments",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = s.cfg.RetentionDays
			}
			res, err := s.orch().CleanupOldIntegratedBackups(cmd.Context(), days)
			if err != nil {
				return err
			}
			return s.printer(cmd).cleanup(res, days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from configuration)")
	return cmd
}

func (s *session) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Check the checksums of both halves of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := s.orch().VerifyIntegratedBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.printer(cmd).verify(args[0], res); err != nil {
				return err
			}
			if !res.Overall.Valid {
				return withExitCode(types.ExitVerificationError, "backup %s failed verification", args[0])
			}
			return nil
		},
	}
}

func (s *session) compressCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "compress <backup-id>",
		Annotations: lockedCommand,
		Short:       "Archive the remote half of a backup into a tarball",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.orch().CompressRemoteBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			return s.printer(cmd).message("Remote backup %s%s archived", args[0], types.EnvRemote.Suffix())
		},
	}
}

func (s *session) decompressCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "decompress <backup-id>",
		Annotations: lockedCommand,
		Short:       "Expand an archived remote backup",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.orch().DecompressRemoteBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			return s.printer(cmd).message("Remote backup %s%s expanded", args[0], types.EnvRemote.Suffix())
		},
	}
}

func (s *session) diskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disk",
		Short: "Show disk usage of both backup roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := s.orch().CheckDiskSpace(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.printer(cmd).disk(rep); err != nil {
				return err
			}
			if len(rep.Errors) > 0 {
				return withExitCode(types.ExitPartialError, "disk usage unavailable: %s", strings.Join(rep.Errors, "; "))
			}
			return nil
		},
	}
}

func (s *session) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "reconcile",
		Annotations: lockedCommand,
		Short:       "Clean up integrated backups interrupted by a crash",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := s.orch().Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.printer(cmd).reconcile(res); err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return withExitCode(types.ExitPartialError, "%d interrupted backups could not be reconciled", len(res.Errors))
			}
			return nil
		},
	}
}

func (s *session) testConnectionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the remote host accepts commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tester, ok := s.orch().Remote().(connectionTester)
			if !ok {
				return errors.New("remote manager cannot test its connection")
			}
			target := s.cfg.Remote.Target()
			if !tester.TestConnection(cmd.Context()) {
				return withExitCode(types.ExitNetworkError, "remote host %s is not reachable", target)
			}
			return s.printer(cmd).message("Connection to %s OK", target)
		},
	}
}

func (s *session) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoRuntime: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.printer(cmd).message("backupguard %s", version.Full())
		},
	}
}
