package orchestrator

import (
	"time"

	"github.com/tis24dev/backupguard/internal/backup"
)

// IntegratedBackupResult pairs the two per-environment backups of one id.
type IntegratedBackupResult struct {
	BackupID string               `json:"backupId"`
	Local    *backup.BackupResult `json:"local"`
	Remote   *backup.BackupResult `json:"remote"`
	Success  bool                 `json:"success"`
}

// RestoreOptions controls an integrated restore.
type RestoreOptions struct {
	CreatePreRestoreBackup bool
	OverwriteExisting      bool
	VerifyAfterRestore     bool
	DryRun                 bool
}

// DefaultRestoreOptions snapshots the current state first and checks the
// per-environment results afterwards.
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		CreatePreRestoreBackup: true,
		OverwriteExisting:      false,
		VerifyAfterRestore:     true,
		DryRun:                 false,
	}
}

// RollbackOptions never nests a backup and always overwrites.
func RollbackOptions() RestoreOptions {
	return RestoreOptions{
		CreatePreRestoreBackup: false,
		OverwriteExisting:      true,
		VerifyAfterRestore:     true,
	}
}

// EmergencyOptions is RollbackOptions without the result check.
func EmergencyOptions() RestoreOptions {
	return RestoreOptions{
		CreatePreRestoreBackup: false,
		OverwriteExisting:      true,
		VerifyAfterRestore:     false,
	}
}

// EnvironmentResults holds one restore result per environment that was
// asked to restore.
type EnvironmentResults struct {
	Local  *backup.RestoreResult `json:"local,omitempty"`
	Remote *backup.RestoreResult `json:"remote,omitempty"`
}

// IntegratedRestoreResult reports a restore across both environments.
type IntegratedRestoreResult struct {
	RestoreID          string             `json:"restoreId"`
	Success            bool               `json:"success"`
	EnvironmentResults EnvironmentResults `json:"environmentResults"`
	TotalRestoredFiles int                `json:"totalRestoredFiles"`
	Errors             []string           `json:"errors"`
	Warnings           []string           `json:"warnings"`
	PreRestoreBackupID string             `json:"preRestoreBackupId,omitempty"`
	RestoreTime        time.Time          `json:"restoreTime"`
	ProcessingTime     time.Duration      `json:"processingTime"`
}

// PairedBackup groups the per-environment backups sharing one base id.
type PairedBackup struct {
	BackupID     string             `json:"backupId"`
	LocalBackup  *backup.BackupInfo `json:"localBackup,omitempty"`
	RemoteBackup *backup.BackupInfo `json:"remoteBackup,omitempty"`
	Complete     bool               `json:"complete"`
}

// CreatedAt is the local timestamp, or the remote one for remote-only pairs.
func (p PairedBackup) CreatedAt() time.Time {
	if p.LocalBackup != nil {
		return p.LocalBackup.CreatedAt
	}
	if p.RemoteBackup != nil {
		return p.RemoteBackup.CreatedAt
	}
	return time.Time{}
}

// IntegratedListing is the combined view of both environments.
type IntegratedListing struct {
	Local  []backup.BackupInfo `json:"local"`
	Remote []backup.BackupInfo `json:"remote"`
	Paired []PairedBackup      `json:"paired"`
}

// CleanupResult counts deletions per environment.
type CleanupResult struct {
	LocalDeleted  int `json:"localDeleted"`
	RemoteDeleted int `json:"remoteDeleted"`
	TotalDeleted  int `json:"totalDeleted"`
}

// OverallVerify aggregates both environments' verification.
type OverallVerify struct {
	Valid             bool `json:"valid"`
	TotalErrors       int  `json:"totalErrors"`
	TotalCheckedFiles int  `json:"totalCheckedFiles"`
}

// IntegratedVerifyResult reports verification of both halves of a backup.
type IntegratedVerifyResult struct {
	Local   backup.VerifyResult `json:"local"`
	Remote  backup.VerifyResult `json:"remote"`
	Overall OverallVerify       `json:"overall"`
}

// DiskSpaceReport holds the usage of both backup roots. A side whose probe
// failed has a nil entry and a message in Errors.
type DiskSpaceReport struct {
	Local  *backup.DiskUsage `json:"local,omitempty"`
	Remote *backup.DiskUsage `json:"remote,omitempty"`
	Errors []string          `json:"errors"`
}

// ReconcileResult reports a sweep over interrupted integrated backups.
type ReconcileResult struct {
	Pending    int      `json:"pending"`
	Reconciled int      `json:"reconciled"`
	Errors     []string `json:"errors"`
}
