package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/types"
)

// CleanupOldIntegratedBackups applies the retention window to both
// environments. A side that fails contributes zero deletions.
func (o *Orchestrator) CleanupOldIntegratedBackups(ctx context.Context, retentionDays int) (*CleanupResult, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative, got %d", retentionDays)
	}
	started := o.now()
	defer o.observe("cleanup", started)

	o.logger.Step("Removing backups older than %d days", retentionDays)
	l, r := settleBoth(ctx,
		func(ctx context.Context) (int, error) { return o.local.CleanupOldBackups(ctx, retentionDays) },
		func(ctx context.Context) (int, error) { return o.remote.CleanupOldBackups(ctx, retentionDays) },
	)
	result := &CleanupResult{
		LocalDeleted:  o.deletedCount(types.EnvLocal, l),
		RemoteDeleted: o.deletedCount(types.EnvRemote, r),
	}
	result.TotalDeleted = result.LocalDeleted + result.RemoteDeleted
	o.logger.Info("Cleanup removed %d backups (%d local, %d remote)", result.TotalDeleted, result.LocalDeleted, result.RemoteDeleted)
	return result, nil
}

func (o *Orchestrator) deletedCount(env types.Environment, out Outcome[int]) int {
	if !out.OK() {
		o.logger.Warning("Cleanup on %s failed: %v", env, out.Err)
		o.record("cleanup", env, OutcomeFailure)
		return 0
	}
	o.record("cleanup", env, OutcomeSuccess)
	return out.Value
}

// VerifyIntegratedBackup verifies both halves of backupID. A side whose
// verification could not run is reported invalid with the cause as its
// only error.
func (o *Orchestrator) VerifyIntegratedBackup(ctx context.Context, backupID string) (*IntegratedVerifyResult, error) {
	if err := backup.ValidateBackupID(backupID); err != nil {
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "verify integrated", BackupID: backupID, Err: err}
	}
	started := o.now()
	defer o.observe("verify", started)

	o.logger.Step("Verifying integrated backup %s", backupID)
	l, r := settleBoth(ctx,
		func(ctx context.Context) (*backup.VerifyResult, error) {
			return o.local.VerifyBackup(ctx, backupID+types.EnvLocal.Suffix())
		},
		func(ctx context.Context) (*backup.VerifyResult, error) {
			return o.remote.VerifyBackup(ctx, backupID+types.EnvRemote.Suffix())
		},
	)
	result := &IntegratedVerifyResult{
		Local:  o.verifyOutcome(types.EnvLocal, l),
		Remote: o.verifyOutcome(types.EnvRemote, r),
	}
	result.Overall = OverallVerify{
		Valid:             result.Local.Valid && result.Remote.Valid,
		TotalErrors:       len(result.Local.Errors) + len(result.Remote.Errors),
		TotalCheckedFiles: result.Local.CheckedFiles + result.Remote.CheckedFiles,
	}
	if result.Overall.Valid {
		o.logger.Info("Backup %s verified: %d files checked", backupID, result.Overall.TotalCheckedFiles)
	} else {
		o.logger.Warning("Backup %s failed verification with %d errors", backupID, result.Overall.TotalErrors)
	}
	return result, nil
}

func (o *Orchestrator) verifyOutcome(env types.Environment, out Outcome[*backup.VerifyResult]) backup.VerifyResult {
	if !out.OK() || out.Value == nil {
		msg := "verification execution error"
		if out.Err != nil {
			msg = fmt.Sprintf("verification execution error: %v", out.Err)
		}
		o.record("verify", env, OutcomeFailure)
		return backup.VerifyResult{Valid: false, Errors: []string{msg}, CheckedFiles: 0}
	}
	v := *out.Value
	if v.Errors == nil {
		v.Errors = []string{}
	}
	if v.Valid {
		o.record("verify", env, OutcomeSuccess)
	} else {
		o.record("verify", env, OutcomePartial)
	}
	return v
}

// CheckDiskSpace probes both backup roots.
func (o *Orchestrator) CheckDiskSpace(ctx context.Context) (*DiskSpaceReport, error) {
	l, r := settleBoth(ctx,
		func(ctx context.Context) (*backup.DiskUsage, error) { return o.local.CheckDiskSpace(ctx) },
		func(ctx context.Context) (*backup.DiskUsage, error) { return o.remote.CheckDiskSpace(ctx) },
	)
	report := &DiskSpaceReport{Errors: []string{}}
	if l.OK() {
		report.Local = l.Value
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("local: %v", l.Err))
	}
	if r.OK() {
		report.Remote = r.Value
	} else {
		report.Errors = append(report.Errors, fmt.Sprintf("remote: %v", r.Err))
	}
	if report.Local == nil && report.Remote == nil {
		return report, &backup.Error{Kind: backup.KindBackupFailed, Op: "disk space", Err: errors.Join(l.Err, r.Err)}
	}
	return report, nil
}

// CompressRemoteBackup folds <backupID>-remote into a single archive.
func (o *Orchestrator) CompressRemoteBackup(ctx context.Context, backupID string) error {
	a, err := o.remoteArchiver()
	if err != nil {
		return err
	}
	o.logger.Step("Archiving remote backup %s", backupID)
	if err := a.CompressBackup(ctx, backupID+types.EnvRemote.Suffix()); err != nil {
		o.record("compress", types.EnvRemote, OutcomeFailure)
		return err
	}
	o.record("compress", types.EnvRemote, OutcomeSuccess)
	return nil
}

// DecompressRemoteBackup expands an archived <backupID>-remote again.
func (o *Orchestrator) DecompressRemoteBackup(ctx context.Context, backupID string) error {
	a, err := o.remoteArchiver()
	if err != nil {
		return err
	}
	o.logger.Step("Expanding remote backup %s", backupID)
	if err := a.DecompressBackup(ctx, backupID+types.EnvRemote.Suffix()); err != nil {
		o.record("decompress", types.EnvRemote, OutcomeFailure)
		return err
	}
	o.record("decompress", types.EnvRemote, OutcomeSuccess)
	return nil
}

func (o *Orchestrator) remoteArchiver() (backup.Archiver, error) {
	a, ok := o.remote.(backup.Archiver)
	if !ok {
		return nil, errors.New("remote manager does not support archiving")
	}
	return a, nil
}
