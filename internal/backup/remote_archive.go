package backup

import (
	"context"
	"fmt"

	"github.com/tis24dev/backupguard/internal/remote"
)

// CompressBackup folds an expanded backup into <root>/<id>.tar.gz. The
// manifest is rewritten as ARCHIVED before the directory is archived so the
// archive carries its own state.
func (r *RemoteManager) CompressBackup(ctx context.Context, backupID string) error {
	m, err := r.ReadManifest(ctx, backupID)
	if err != nil {
		return err
	}
	if m.State == StateArchived {
		return r.fail("compress", backupID, ErrBackupArchived)
	}
	r.logger.Info("Compressing remote backup %s", backupID)

	m.State = StateArchived
	if err := r.writeManifest(ctx, m); err != nil {
		return r.fail("compress", backupID, err)
	}

	archive := remote.Quote(r.archivePath(backupID))
	cmd := fmt.Sprintf("tar -czf %s -C %s %s && rm -rf %s",
		archive, remote.Quote(r.root), remote.Quote(backupID), remote.Quote(r.backupDir(backupID)))
	if _, err := r.run(ctx, cmd); err != nil {
		r.logger.Error("Failed to archive remote backup %s: %v", backupID, err)
		r.revertState(ctx, m, StateExpanded)
		return r.fail("compress", backupID, fmt.Errorf("archive backup: %w", err))
	}

	r.logger.Info("Remote backup %s archived to %s", backupID, r.archivePath(backupID))
	return nil
}

// DecompressBackup expands <root>/<id>.tar.gz back into a directory, marks
// the manifest EXPANDED and only then removes the archive.
func (r *RemoteManager) DecompressBackup(ctx context.Context, backupID string) error {
	m, err := r.ReadManifest(ctx, backupID)
	if err != nil {
		return err
	}
	if m.State != StateArchived {
		return r.fail("decompress", backupID, ErrBackupNotArchived)
	}
	r.logger.Info("Decompressing remote backup %s", backupID)

	archive := remote.Quote(r.archivePath(backupID))
	if _, err := r.run(ctx, fmt.Sprintf("tar -xzf %s -C %s", archive, remote.Quote(r.root))); err != nil {
		return r.fail("decompress", backupID, fmt.Errorf("extract archive: %w", err))
	}

	// The archive stays until the expanded manifest is on disk, so a failed
	// write can be retried.
	m.State = StateExpanded
	if err := r.writeManifest(ctx, m); err != nil {
		return r.fail("decompress", backupID, err)
	}
	r.applyPermissions(ctx, backupID)

	if _, err := r.run(ctx, "rm -f "+archive); err != nil {
		r.logger.Warning("Remote backup %s expanded but %s was not removed: %v", backupID, r.archivePath(backupID), err)
	}
	r.logger.Info("Remote backup %s expanded", backupID)
	return nil
}

// revertState rewrites the manifest after a failed transition. Failures are
// only logged; the original error is what the caller sees.
func (r *RemoteManager) revertState(ctx context.Context, m *Manifest, state ManifestState) {
	m.State = state
	if err := r.writeManifest(ctx, m); err != nil {
		r.logger.Warning("Failed to restore manifest state of %s: %v", m.BackupID, err)
		return
	}
	r.applyPermissions(ctx, m.BackupID)
}
