package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/safefs"
	"github.com/tis24dev/backupguard/internal/types"
)

const (
	dirPerm      os.FileMode = 0o755
	readOnlyPerm os.FileMode = 0o444
	restorePerm  os.FileMode = 0o644
)

// LocalManager keeps backups in a directory on the local filesystem.
type LocalManager struct {
	root      string
	maxSize   int64
	fsTimeout time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewLocalManager creates a manager rooted at opts.Root. fsTimeout bounds
// stat calls against the source files and the backup filesystem.
func NewLocalManager(opts Options, fsTimeout time.Duration, logger *logging.Logger) *LocalManager {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &LocalManager{
		root:      opts.Root,
		maxSize:   opts.maxSize(),
		fsTimeout: fsTimeout,
		logger:    logger.WithPrefix("local"),
		now:       time.Now,
	}
}

// Environment returns types.EnvLocal.
func (l *LocalManager) Environment() types.Environment { return types.EnvLocal }

// Root returns the backup root directory.
func (l *LocalManager) Root() string { return l.root }

func (l *LocalManager) backupDir(id string) string    { return filepath.Join(l.root, id) }
func (l *LocalManager) manifestPath(id string) string { return filepath.Join(l.root, id, ManifestName) }
func (l *LocalManager) payloadPath(id, originalPath string) string {
	return filepath.Join(l.root, id, PayloadDir, payloadName(originalPath))
}

func (l *LocalManager) fail(op, id string, err error) error {
	return newError(KindBackupFailed, types.EnvLocal, op, id, err)
}

// CreateBackup copies files into <root>/<id>/files and writes the manifest.
// Sources that are missing or not regular files are skipped without error.
func (l *LocalManager) CreateBackup(ctx context.Context, files []string, backupID string) (*BackupResult, error) {
	if err := ValidateBackupID(backupID); err != nil {
		return nil, l.fail("create", backupID, err)
	}
	l.logger.Info("Creating local backup %s (%d files)", backupID, len(files))

	dir := l.backupDir(backupID)
	payloadDir := filepath.Join(dir, PayloadDir)
	if err := os.MkdirAll(payloadDir, dirPerm); err != nil {
		return nil, l.fail("create", backupID, fmt.Errorf("create backup directory: %w", err))
	}
	for _, name := range duplicateBasenames(files) {
		l.logger.Warning("Multiple sources share the base name %q; only the last one is kept in backup %s", name, backupID)
	}

	result := &BackupResult{
		BackupID:    backupID,
		Timestamp:   l.now(),
		Files:       []FileRecord{},
		Errors:      []string{},
		Environment: types.EnvLocal,
		BackupPath:  dir,
	}

	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, l.fail("create", backupID, err)
		}

		info, err := safefs.Stat(ctx, src, l.fsTimeout)
		if err != nil {
			l.logger.Debug("Skipping %s: %v", src, err)
			continue
		}
		if !info.Mode().IsRegular() {
			l.logger.Debug("Skipping %s: not a regular file", src)
			continue
		}

		if result.TotalSize+info.Size() > l.maxSize {
			return l.abortOverLimit(result, src, result.TotalSize+info.Size())
		}

		dst := filepath.Join(payloadDir, payloadName(src))
		size, err := copyFile(ctx, src, dst, restorePerm)
		if err != nil {
			msg := fmt.Sprintf("failed to back up %s: %v", src, err)
			l.logger.Error("%s", msg)
			result.Errors = append(result.Errors, msg)
			continue
		}
		if result.TotalSize+size > l.maxSize {
			// The source grew between stat and copy.
			if err := os.Remove(dst); err != nil {
				l.logger.Warning("Failed to remove %s: %v", dst, err)
			}
			return l.abortOverLimit(result, src, result.TotalSize+size)
		}
		checksum, err := GenerateChecksum(ctx, l.logger, dst)
		if err != nil {
			msg := fmt.Sprintf("failed to checksum %s: %v", src, err)
			l.logger.Error("%s", msg)
			result.Errors = append(result.Errors, msg)
			continue
		}

		result.Files = append(result.Files, FileRecord{
			OriginalPath: src,
			BackupPath:   dst,
			Size:         size,
			Checksum:     checksum,
			BackupTime:   l.now(),
		})
		result.TotalSize += size
		l.logger.Debug("Backed up %s (%d bytes)", src, size)
	}

	if err := l.writeManifest(result); err != nil {
		return nil, l.fail("create", backupID, err)
	}
	l.applyPermissions(backupID)

	result.Success = len(result.Errors) == 0
	if result.Success {
		l.logger.Info("Local backup %s completed: %d files, %d bytes", backupID, len(result.Files), result.TotalSize)
	} else {
		l.logger.Warning("Local backup %s completed with %d errors", backupID, len(result.Errors))
	}
	return result, nil
}

// abortOverLimit stops a backup whose next file would exceed the size limit.
// The files copied so far keep a partial manifest.
func (l *LocalManager) abortOverLimit(result *BackupResult, src string, total int64) (*BackupResult, error) {
	limitErr := fmt.Errorf("%w: %s would bring the total to %d bytes (limit %d)",
		ErrSizeLimitExceeded, src, total, l.maxSize)
	l.logger.Error("Local backup %s aborted: %v", result.BackupID, limitErr)
	result.Errors = append(result.Errors, limitErr.Error())
	if err := l.writeManifest(result); err != nil {
		l.logger.Warning("Failed to write partial manifest for %s: %v", result.BackupID, err)
	}
	l.applyPermissions(result.BackupID)
	return result, l.fail("create", result.BackupID, limitErr)
}

func (l *LocalManager) writeManifest(result *BackupResult) error {
	data, err := encodeManifest(&Manifest{
		BackupID:    result.BackupID,
		Timestamp:   result.Timestamp,
		Files:       result.Files,
		TotalSize:   result.TotalSize,
		Environment: types.EnvLocal,
		Version:     FormatVersion,
		State:       StateExpanded,
	})
	if err != nil {
		return err
	}
	path := l.manifestPath(result.BackupID)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	if err := os.WriteFile(path, data, restorePerm); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	return nil
}

// applyPermissions leaves directories traversable and the manifest and
// payload read-only. Failures are only logged.
func (l *LocalManager) applyPermissions(backupID string) {
	dir := l.backupDir(backupID)
	payloadDir := filepath.Join(dir, PayloadDir)
	for _, d := range []string{dir, payloadDir} {
		if err := os.Chmod(d, dirPerm); err != nil {
			l.logger.Warning("Failed to set permissions on %s: %v", d, err)
		}
	}
	if err := os.Chmod(l.manifestPath(backupID), readOnlyPerm); err != nil {
		l.logger.Warning("Failed to set permissions on manifest of %s: %v", backupID, err)
	}
	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		l.logger.Warning("Failed to read %s: %v", payloadDir, err)
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		p := filepath.Join(payloadDir, entry.Name())
		if err := os.Chmod(p, readOnlyPerm); err != nil {
			l.logger.Warning("Failed to set permissions on %s: %v", p, err)
		}
	}
}

// ReadManifest loads the manifest of backupID. A missing manifest yields
// ErrBackupNotFound.
func (l *LocalManager) ReadManifest(ctx context.Context, backupID string) (*Manifest, error) {
	if err := ValidateBackupID(backupID); err != nil {
		return nil, l.fail("read manifest", backupID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := LoadManifest(l.manifestPath(backupID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, l.fail("read manifest", backupID, ErrBackupNotFound)
		}
		return nil, l.fail("read manifest", backupID, err)
	}
	return m, nil
}

// RestoreBackup copies every recorded file back to its original path after
// checking the stored copy against its checksum.
func (l *LocalManager) RestoreBackup(ctx context.Context, backupID string) (*RestoreResult, error) {
	m, err := l.ReadManifest(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if m.State == StateArchived {
		return nil, l.fail("restore", backupID, ErrBackupArchived)
	}
	l.logger.Info("Restoring local backup %s (%d files)", backupID, len(m.Files))

	result := &RestoreResult{
		RestoreID:     "restore-" + uuid.NewString(),
		RestoredFiles: []string{},
		RestoreTime:   l.now(),
		Environment:   types.EnvLocal,
	}
	var errs []string
	for _, rec := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, l.fail("restore", backupID, err)
		}
		stored := l.payloadPath(backupID, rec.OriginalPath)
		ok, err := VerifyChecksum(ctx, l.logger, stored, rec.Checksum)
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to read backup copy of %s: %v", rec.OriginalPath, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Sprintf("checksum mismatch for %s: backup copy is corrupted", rec.OriginalPath))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(rec.OriginalPath), dirPerm); err != nil {
			errs = append(errs, fmt.Sprintf("failed to create directory for %s: %v", rec.OriginalPath, err))
			continue
		}
		if _, err := copyFile(ctx, stored, rec.OriginalPath, restorePerm); err != nil {
			errs = append(errs, fmt.Sprintf("failed to restore %s: %v", rec.OriginalPath, err))
			continue
		}
		result.RestoredFiles = append(result.RestoredFiles, rec.OriginalPath)
		l.logger.Debug("Restored %s", rec.OriginalPath)
	}

	result.RestoredFileCount = len(result.RestoredFiles)
	result.Success = len(errs) == 0
	if !result.Success {
		result.Error = strings.Join(errs, "; ")
		for _, e := range errs {
			l.logger.Error("%s", e)
		}
	}
	l.logger.Info("Local restore of %s finished: %d/%d files restored", backupID, result.RestoredFileCount, len(m.Files))
	return result, nil
}

// ListBackups returns every readable backup, newest first. A missing root
// yields an empty list.
func (l *LocalManager) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []BackupInfo{}, nil
		}
		return nil, l.fail("list", "", err)
	}

	infos := []BackupInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, entry.Name())
		m, err := LoadManifest(filepath.Join(dir, ManifestName))
		if err != nil {
			l.logger.Warning("Skipping %s: %v", dir, err)
			continue
		}
		infos = append(infos, m.Info(dir))
	}
	SortNewestFirst(infos)
	return infos, nil
}

// CleanupOldBackups deletes backups created strictly before now minus
// retentionDays and returns how many were removed.
func (l *LocalManager) CleanupOldBackups(ctx context.Context, retentionDays int) (int, error) {
	infos, err := l.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	ids := cleanupCandidates(infos, retentionDays, l.now)
	if len(ids) == 0 {
		l.logger.Debug("Local cleanup: no backups older than %d days", retentionDays)
		return 0, nil
	}

	deleted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := l.DeleteBackup(ctx, id); err != nil {
			l.logger.Warning("Failed to delete %s: %v", id, err)
			continue
		}
		deleted++
	}
	l.logger.Info("Local cleanup removed %d of %d expired backups", deleted, len(ids))
	return deleted, nil
}

// DeleteBackup removes the backup directory. Deleting an absent backup is a no-op.
func (l *LocalManager) DeleteBackup(ctx context.Context, backupID string) error {
	if err := ValidateBackupID(backupID); err != nil {
		return l.fail("delete", backupID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.backupDir(backupID)); err != nil {
		return l.fail("delete", backupID, err)
	}
	l.logger.Debug("Deleted local backup %s", backupID)
	return nil
}

// VerifyBackup recomputes every stored file's checksum.
func (l *LocalManager) VerifyBackup(ctx context.Context, backupID string) (*VerifyResult, error) {
	m, err := l.ReadManifest(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if m.State == StateArchived {
		return nil, l.fail("verify", backupID, ErrBackupArchived)
	}

	result := &VerifyResult{Errors: []string{}}
	for _, rec := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, l.fail("verify", backupID, err)
		}
		stored := l.payloadPath(backupID, rec.OriginalPath)
		checksum, err := GenerateChecksum(ctx, l.logger, stored)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to verify %s: %v", rec.OriginalPath, err))
			continue
		}
		if checksum != rec.Checksum {
			result.Errors = append(result.Errors, fmt.Sprintf("checksum mismatch for %s", rec.OriginalPath))
		}
		result.CheckedFiles++
	}
	result.Valid = len(result.Errors) == 0
	return result, nil
}

// GetBackupSize returns the total size recorded in the manifest.
func (l *LocalManager) GetBackupSize(ctx context.Context, backupID string) (int64, error) {
	m, err := l.ReadManifest(ctx, backupID)
	if err != nil {
		return 0, err
	}
	return m.TotalSize, nil
}

// CheckDiskSpace reports usage of the filesystem holding the backup root.
// When the root does not exist yet its nearest existing parent is used.
func (l *LocalManager) CheckDiskSpace(ctx context.Context) (*DiskUsage, error) {
	target := l.root
	for {
		if _, err := safefs.Stat(ctx, target, l.fsTimeout); err == nil {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			break
		}
		target = parent
	}

	stat, err := safefs.Statfs(ctx, target, l.fsTimeout)
	if err != nil {
		return nil, l.fail("disk usage", "", err)
	}
	total := int64(stat.Blocks) * int64(stat.Bsize)
	available := int64(stat.Bavail) * int64(stat.Bsize)
	free := int64(stat.Bfree) * int64(stat.Bsize)
	return newDiskUsage(total, total-free, available), nil
}

func newDiskUsage(total, used, available int64) *DiskUsage {
	if total < 0 {
		total = 0
	}
	if used < 0 {
		used = 0
	}
	if available < 0 {
		available = 0
	}
	usage := &DiskUsage{Total: total, Used: used, Available: available}
	if total > 0 {
		usage.UsagePercentage = float64(used) / float64(total) * 100
	}
	return usage
}

// copyFile replaces dst with a copy of src and returns the bytes written.
func copyFile(ctx context.Context, src, dst string, perm os.FileMode) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	// dst may be a read-only copy from an earlier run.
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

// ValidateBackupID rejects ids that would escape the backup root.
func ValidateBackupID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("backup id is empty")
	case id == "." || id == "..":
		return fmt.Errorf("invalid backup id %q", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("backup id %q must not contain path separators", id)
	}
	return nil
}
