package backup

import (
	"context"
	"sort"
	"time"

	"github.com/tis24dev/backupguard/internal/types"
)

// Manager is the operation set shared by the local and remote managers.
type Manager interface {
	Environment() types.Environment
	CreateBackup(ctx context.Context, files []string, backupID string) (*BackupResult, error)
	RestoreBackup(ctx context.Context, backupID string) (*RestoreResult, error)
	ListBackups(ctx context.Context) ([]BackupInfo, error)
	CleanupOldBackups(ctx context.Context, retentionDays int) (int, error)
	DeleteBackup(ctx context.Context, backupID string) error
	VerifyBackup(ctx context.Context, backupID string) (*VerifyResult, error)
	GetBackupSize(ctx context.Context, backupID string) (int64, error)
	ReadManifest(ctx context.Context, backupID string) (*Manifest, error)
	CheckDiskSpace(ctx context.Context) (*DiskUsage, error)
}

// Archiver is implemented by managers that can fold a backup into a single
// archive file and back.
type Archiver interface {
	CompressBackup(ctx context.Context, backupID string) error
	DecompressBackup(ctx context.Context, backupID string) error
}

// Options configures a manager.
type Options struct {
	// Root is the directory holding one subdirectory per backup id.
	Root string
	// MaxBackupSize caps the recorded total size of one backup.
	MaxBackupSize int64
}

func (o Options) maxSize() int64 {
	if o.MaxBackupSize <= 0 {
		return DefaultMaxBackupSize
	}
	return o.MaxBackupSize
}

// SortNewestFirst orders listings by creation time, newest first. Equal
// timestamps fall back to the id so output is stable.
func SortNewestFirst(infos []BackupInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].BackupID < infos[j].BackupID
	})
}

// cleanupCandidates returns the ids whose creation time is strictly before cutoff.
func cleanupCandidates(infos []BackupInfo, retentionDays int, now func() time.Time) []string {
	cutoff := now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	var ids []string
	for _, info := range infos {
		if info.CreatedAt.Before(cutoff) {
			ids = append(ids, info.BackupID)
		}
	}
	return ids
}
