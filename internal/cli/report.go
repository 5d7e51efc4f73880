package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/types"
	"github.com/tis24dev/backupguard/pkg/utils"
)

const listTimeLayout = "2006-01-02 15:04:05"

// printer renders command results either as text or as indented JSON.
type printer struct {
	out  io.Writer
	json bool
}

func (p printer) emit(v interface{}, text func(w io.Writer)) error {
	if p.json {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}
	text(p.out)
	return nil
}

func envTitle(env types.Environment) string {
	return cases.Title(language.English).String(env.String())
}

func writeList(w io.Writer, label string, items []string) {
	for _, item := range items {
		fmt.Fprintf(w, "  %s: %s\n", label, item)
	}
}

func (p printer) backup(res *orchestrator.IntegratedBackupResult) error {
	return p.emit(res, func(w io.Writer) {
		status := "complete"
		if !res.Success {
			status = "completed with errors"
		}
		fmt.Fprintf(w, "Backup %s %s\n", res.BackupID, status)
		for _, side := range []*backup.BackupResult{res.Local, res.Remote} {
			if side == nil {
				continue
			}
			fmt.Fprintf(w, "  %s: %s, %d files, %s\n",
				envTitle(side.Environment), side.BackupID, len(side.Files), utils.FormatBytes(side.TotalSize))
			writeList(w, "error", side.Errors)
		}
	})
}

func (p printer) restore(res *orchestrator.IntegratedRestoreResult) error {
	return p.emit(res, func(w io.Writer) {
		status := "succeeded"
		if !res.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "Restore %s %s: %d files restored in %s\n",
			res.RestoreID, status, res.TotalRestoredFiles, res.ProcessingTime.Round(time.Millisecond))
		if res.PreRestoreBackupID != "" {
			fmt.Fprintf(w, "  Pre-restore backup: %s\n", res.PreRestoreBackupID)
		}
		for _, side := range []*backup.RestoreResult{res.EnvironmentResults.Local, res.EnvironmentResults.Remote} {
			if side == nil {
				continue
			}
			fmt.Fprintf(w, "  %s: %d files (%s)\n", envTitle(side.Environment), side.RestoredFileCount, side.RestoreID)
		}
		writeList(w, "warning", res.Warnings)
		writeList(w, "error", res.Errors)
	})
}

func (p printer) listing(l *orchestrator.IntegratedListing) error {
	return p.emit(l, func(w io.Writer) {
		if len(l.Paired) == 0 {
			fmt.Fprintln(w, "No backups found.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "BACKUP\tCREATED\tLOCAL\tREMOTE\tSTATUS")
		for _, pair := range l.Paired {
			status := "complete"
			if !pair.Complete {
				status = "incomplete"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				pair.BackupID,
				pair.CreatedAt().Local().Format(listTimeLayout),
				sideSummary(pair.LocalBackup),
				sideSummary(pair.RemoteBackup),
				status)
		}
		tw.Flush()
		fmt.Fprintf(w, "%d local, %d remote, %d paired\n", len(l.Local), len(l.Remote), len(l.Paired))
	})
}

func sideSummary(info *backup.BackupInfo) string {
	if info == nil {
		return "-"
	}
	s := fmt.Sprintf("%d files, %s", info.FileCount, utils.FormatBytes(info.TotalSize))
	if info.State == backup.StateArchived {
		s += " (archived)"
	}
	return s
}

func (p printer) cleanup(res *orchestrator.CleanupResult, days int) error {
	return p.emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d backups older than %d days (local %d, remote %d)\n",
			res.TotalDeleted, days, res.LocalDeleted, res.RemoteDeleted)
	})
}

func (p printer) verify(id string, res *orchestrator.IntegratedVerifyResult) error {
	return p.emit(res, func(w io.Writer) {
		status := "valid"
		if !res.Overall.Valid {
			status = "INVALID"
		}
		fmt.Fprintf(w, "Backup %s is %s: %d files checked, %d errors\n",
			id, status, res.Overall.TotalCheckedFiles, res.Overall.TotalErrors)
		writeList(w, envTitle(types.EnvLocal), res.Local.Errors)
		writeList(w, envTitle(types.EnvRemote), res.Remote.Errors)
	})
}

func (p printer) disk(rep *orchestrator.DiskSpaceReport) error {
	return p.emit(rep, func(w io.Writer) {
		for _, side := range []struct {
			env   types.Environment
			usage *backup.DiskUsage
		}{{types.EnvLocal, rep.Local}, {types.EnvRemote, rep.Remote}} {
			if side.usage == nil {
				fmt.Fprintf(w, "%s: unavailable\n", envTitle(side.env))
				continue
			}
			fmt.Fprintf(w, "%s: %s used of %s (%.1f%%), %s available\n",
				envTitle(side.env),
				utils.FormatBytes(side.usage.Used),
				utils.FormatBytes(side.usage.Total),
				side.usage.UsagePercentage,
				utils.FormatBytes(side.usage.Available))
		}
		writeList(w, "error", rep.Errors)
	})
}

func (p printer) reconcile(res *orchestrator.ReconcileResult) error {
	return p.emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "Reconciled %d of %d interrupted backups\n", res.Reconciled, res.Pending)
		writeList(w, "error", res.Errors)
	})
}

func (p printer) message(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return p.emit(map[string]string{"message": msg}, func(w io.Writer) {
		fmt.Fprintln(w, strings.TrimRight(msg, "\n"))
	})
}
