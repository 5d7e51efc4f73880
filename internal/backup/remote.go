package backup

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/remote"
	"github.com/tis24dev/backupguard/internal/types"
)

// manifestDelimiter terminates the heredoc carrying a manifest. Indented JSON
// can never produce this line on its own.
const manifestDelimiter = "BACKUPGUARD_MANIFEST_EOF"

// RemoteManager keeps backups under a directory on a remote host. Every
// filesystem primitive is one command sent through the executor.
type RemoteManager struct {
	exec    remote.Executor
	root    string
	maxSize int64
	logger  *logging.Logger
	now     func() time.Time
}

// NewRemoteManager creates a manager rooted at opts.Root on the host behind exec.
func NewRemoteManager(exec remote.Executor, opts Options, logger *logging.Logger) *RemoteManager {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &RemoteManager{
		exec:    exec,
		root:    opts.Root,
		maxSize: opts.maxSize(),
		logger:  logger.WithPrefix("remote"),
		now:     time.Now,
	}
}

// Environment returns types.EnvRemote.
func (r *RemoteManager) Environment() types.Environment { return types.EnvRemote }

// Root returns the remote backup root.
func (r *RemoteManager) Root() string { return r.root }

func (r *RemoteManager) backupDir(id string) string    { return path.Join(r.root, id) }
func (r *RemoteManager) archivePath(id string) string  { return path.Join(r.root, id+ArchiveExt) }
func (r *RemoteManager) manifestPath(id string) string { return path.Join(r.root, id, ManifestName) }
func (r *RemoteManager) payloadPath(id, originalPath string) string {
	return path.Join(r.root, id, PayloadDir, payloadName(originalPath))
}

// fail wraps err, promoting channel failures to SSH_CONNECTION_FAILED.
func (r *RemoteManager) fail(op, id string, err error) error {
	if remote.IsConnectionError(err) {
		return newError(KindSSHConnectFailed, types.EnvRemote, op, id, err)
	}
	return newError(KindBackupFailed, types.EnvRemote, op, id, err)
}

func (r *RemoteManager) run(ctx context.Context, command string) (string, error) {
	res, err := r.exec.Run(ctx, command)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// TestConnection runs a trivial command and reports whether it echoed back.
func (r *RemoteManager) TestConnection(ctx context.Context) bool {
	out, err := r.run(ctx, "echo connection_test")
	if err != nil {
		r.logger.Warning("Remote connection test failed: %v", err)
		return false
	}
	return strings.Contains(out, "connection_test")
}

// CreateBackup copies files on the remote host into <root>/<id>/files and
// writes the manifest. A missing or non-regular source is a per-file error.
func (r *RemoteManager) CreateBackup(ctx context.Context, files []string, backupID string) (*BackupResult, error) {
	if err := ValidateBackupID(backupID); err != nil {
		return nil, r.fail("create", backupID, err)
	}
	r.logger.Info("Creating remote backup %s (%d files)", backupID, len(files))

	dir := r.backupDir(backupID)
	payloadDir := path.Join(dir, PayloadDir)
	if _, err := r.run(ctx, "mkdir -p "+remote.Quote(payloadDir)); err != nil {
		return nil, r.fail("create", backupID, fmt.Errorf("create backup directory: %w", err))
	}
	for _, name := range duplicateBasenames(files) {
		r.logger.Warning("Multiple sources share the base name %q; only the last one is kept in backup %s", name, backupID)
	}

	result := &BackupResult{
		BackupID:    backupID,
		Timestamp:   r.now(),
		Files:       []FileRecord{},
		Errors:      []string{},
		Environment: types.EnvRemote,
		BackupPath:  dir,
	}
	perFile := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		r.logger.Error("%s", msg)
		result.Errors = append(result.Errors, msg)
	}

	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, r.fail("create", backupID, err)
		}

		size, err := r.probeFile(ctx, src)
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("create", backupID, err)
			}
			perFile("source %s is missing or not a regular file: %v", src, err)
			continue
		}

		if result.TotalSize+size > r.maxSize {
			limitErr := fmt.Errorf("%w: %s would bring the total to %d bytes (limit %d)",
				ErrSizeLimitExceeded, src, result.TotalSize+size, r.maxSize)
			r.logger.Error("Remote backup %s aborted: %v", backupID, limitErr)
			result.Errors = append(result.Errors, limitErr.Error())
			if err := r.writeManifest(ctx, r.manifestFromResult(result)); err != nil {
				r.logger.Warning("Failed to write partial manifest for %s: %v", backupID, err)
			} else {
				r.applyPermissions(ctx, backupID)
			}
			return result, r.fail("create", backupID, limitErr)
		}

		dst := path.Join(payloadDir, payloadName(src))
		if _, err := r.run(ctx, fmt.Sprintf("rm -f %s && cp %s %s", remote.Quote(dst), remote.Quote(src), remote.Quote(dst))); err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("create", backupID, err)
			}
			perFile("failed to back up %s: %v", src, err)
			continue
		}
		checksum, err := r.checksum(ctx, dst)
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("create", backupID, err)
			}
			perFile("failed to checksum %s: %v", src, err)
			continue
		}

		result.Files = append(result.Files, FileRecord{
			OriginalPath: src,
			BackupPath:   dst,
			Size:         size,
			Checksum:     checksum,
			BackupTime:   r.now(),
		})
		result.TotalSize += size
		r.logger.Debug("Backed up %s (%d bytes)", src, size)
	}

	if err := r.writeManifest(ctx, r.manifestFromResult(result)); err != nil {
		return nil, r.fail("create", backupID, err)
	}
	r.applyPermissions(ctx, backupID)

	result.Success = len(result.Errors) == 0
	if result.Success {
		r.logger.Info("Remote backup %s completed: %d files, %d bytes", backupID, len(result.Files), result.TotalSize)
	} else {
		r.logger.Warning("Remote backup %s completed with %d errors", backupID, len(result.Errors))
	}
	return result, nil
}

func (r *RemoteManager) manifestFromResult(result *BackupResult) *Manifest {
	return &Manifest{
		BackupID:    result.BackupID,
		Timestamp:   result.Timestamp,
		Files:       result.Files,
		TotalSize:   result.TotalSize,
		Environment: types.EnvRemote,
		Version:     FormatVersion,
		State:       StateExpanded,
	}
}

// probeFile returns the size of p if it is a regular file.
func (r *RemoteManager) probeFile(ctx context.Context, p string) (int64, error) {
	q := remote.Quote(p)
	out, err := r.run(ctx, fmt.Sprintf("test -f %s && stat -c %%s %s", q, q))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected size %q: %w", strings.TrimSpace(out), err)
	}
	return size, nil
}

// checksum hashes p on the remote host. sha256sum reads stdin so that odd
// file names are not escaped in its output.
func (r *RemoteManager) checksum(ctx context.Context, p string) (string, error) {
	out, err := r.run(ctx, fmt.Sprintf("sha256sum < %s | cut -d' ' -f1", remote.Quote(p)))
	if err != nil {
		return "", err
	}
	sum := strings.TrimSpace(out)
	if !isChecksum(sum) {
		return "", fmt.Errorf("cannot read %s", p)
	}
	return sum, nil
}

func manifestWriteCommand(manifestPath string, data []byte) string {
	q := remote.Quote(manifestPath)
	var b strings.Builder
	fmt.Fprintf(&b, "rm -f %s && cat > %s << '%s'\n", q, q, manifestDelimiter)
	b.Write(data)
	b.WriteString("\n" + manifestDelimiter)
	return b.String()
}

func (r *RemoteManager) writeManifest(ctx context.Context, m *Manifest) error {
	data, err := encodeManifest(m)
	if err != nil {
		return err
	}
	if _, err := r.run(ctx, manifestWriteCommand(r.manifestPath(m.BackupID), data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (r *RemoteManager) applyPermissions(ctx context.Context, backupID string) {
	dir := r.backupDir(backupID)
	payloadDir := path.Join(dir, PayloadDir)
	cmd := fmt.Sprintf("chmod 755 %s %s && chmod 444 %s && find %s -type f -exec chmod 444 {} +",
		remote.Quote(dir), remote.Quote(payloadDir), remote.Quote(r.manifestPath(backupID)), remote.Quote(payloadDir))
	if _, err := r.run(ctx, cmd); err != nil {
		r.logger.Warning("Failed to set permissions on remote backup %s: %v", backupID, err)
	}
}

// ReadManifest loads the manifest of backupID from its directory or, when the
// backup is archived, from inside the archive. A backup read from an archive
// always reports StateArchived.
func (r *RemoteManager) ReadManifest(ctx context.Context, backupID string) (*Manifest, error) {
	if err := ValidateBackupID(backupID); err != nil {
		return nil, r.fail("read manifest", backupID, err)
	}
	out, err := r.run(ctx, "cat "+remote.Quote(r.manifestPath(backupID)))
	if err == nil {
		m, err := DecodeManifest([]byte(out))
		if err != nil {
			return nil, r.fail("read manifest", backupID, err)
		}
		if m.State == StateArchived {
			return r.checkArchivedDirectory(ctx, m)
		}
		return m, nil
	}
	if remote.IsConnectionError(err) {
		return nil, r.fail("read manifest", backupID, err)
	}

	if _, err := r.run(ctx, "test -f "+remote.Quote(r.archivePath(backupID))); err != nil {
		if remote.IsConnectionError(err) {
			return nil, r.fail("read manifest", backupID, err)
		}
		return nil, r.fail("read manifest", backupID, ErrBackupNotFound)
	}
	return r.readArchivedManifest(ctx, backupID)
}

// checkArchivedDirectory handles a directory whose manifest says ARCHIVED.
// Without an archive next to it the transition never completed and the
// directory is the backup.
func (r *RemoteManager) checkArchivedDirectory(ctx context.Context, m *Manifest) (*Manifest, error) {
	if _, err := r.run(ctx, "test -f "+remote.Quote(r.archivePath(m.BackupID))); err != nil {
		if remote.IsConnectionError(err) {
			return nil, r.fail("read manifest", m.BackupID, err)
		}
		r.logger.Warning("Remote backup %s is marked archived but has no archive, treating it as expanded", m.BackupID)
		m.State = StateExpanded
	}
	return m, nil
}

func (r *RemoteManager) readArchivedManifest(ctx context.Context, backupID string) (*Manifest, error) {
	out, err := r.run(ctx, fmt.Sprintf("tar -xzOf %s %s",
		remote.Quote(r.archivePath(backupID)), remote.Quote(path.Join(backupID, ManifestName))))
	if err != nil {
		return nil, r.fail("read manifest", backupID, err)
	}
	m, err := DecodeManifest([]byte(out))
	if err != nil {
		return nil, r.fail("read manifest", backupID, err)
	}
	m.State = StateArchived
	return m, nil
}

// RestoreBackup copies every recorded file back to its original path on the
// remote host after checking the stored copy.
func (r *RemoteManager) RestoreBackup(ctx context.Context, backupID string) (*RestoreResult, error) {
	m, err := r.ReadManifest(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if m.State == StateArchived {
		return nil, r.fail("restore", backupID, ErrBackupArchived)
	}
	r.logger.Info("Restoring remote backup %s (%d files)", backupID, len(m.Files))

	result := &RestoreResult{
		RestoreID:     "restore-" + uuid.NewString(),
		RestoredFiles: []string{},
		RestoreTime:   r.now(),
		Environment:   types.EnvRemote,
	}
	var errs []string
	for _, rec := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, r.fail("restore", backupID, err)
		}
		stored := r.payloadPath(backupID, rec.OriginalPath)
		sum, err := r.checksum(ctx, stored)
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("restore", backupID, err)
			}
			errs = append(errs, fmt.Sprintf("failed to read backup copy of %s: %v", rec.OriginalPath, err))
			continue
		}
		if sum != rec.Checksum {
			errs = append(errs, fmt.Sprintf("checksum mismatch for %s: backup copy is corrupted", rec.OriginalPath))
			continue
		}
		if _, err := r.run(ctx, "mkdir -p "+remote.Quote(path.Dir(rec.OriginalPath))); err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("restore", backupID, err)
			}
			errs = append(errs, fmt.Sprintf("failed to create directory for %s: %v", rec.OriginalPath, err))
			continue
		}
		dst := remote.Quote(rec.OriginalPath)
		if _, err := r.run(ctx, fmt.Sprintf("rm -f %s && cp %s %s && chmod 644 %s", dst, remote.Quote(stored), dst, dst)); err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("restore", backupID, err)
			}
			errs = append(errs, fmt.Sprintf("failed to restore %s: %v", rec.OriginalPath, err))
			continue
		}
		result.RestoredFiles = append(result.RestoredFiles, rec.OriginalPath)
		r.logger.Debug("Restored %s", rec.OriginalPath)
	}

	result.RestoredFileCount = len(result.RestoredFiles)
	result.Success = len(errs) == 0
	if !result.Success {
		result.Error = strings.Join(errs, "; ")
		for _, e := range errs {
			r.logger.Error("%s", e)
		}
	}
	r.logger.Info("Remote restore of %s finished: %d/%d files restored", backupID, result.RestoredFileCount, len(m.Files))
	return result, nil
}

// ListBackups returns every readable backup, expanded or archived, newest
// first. A missing root yields an empty list.
func (r *RemoteManager) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	q := remote.Quote(r.root)
	out, err := r.run(ctx, fmt.Sprintf(
		"if [ -d %s ]; then find %s -mindepth 1 -maxdepth 1 \\( -type d -o -type f -name '*%s' \\) -print; fi",
		q, q, ArchiveExt))
	if err != nil {
		return nil, r.fail("list", "", err)
	}

	dirs := make(map[string]bool)
	hasArchive := make(map[string]bool)
	var archives []string
	for _, line := range strings.Split(out, "\n") {
		entry := strings.TrimSpace(line)
		if entry == "" {
			continue
		}
		name := path.Base(entry)
		if strings.HasSuffix(name, ArchiveExt) {
			archives = append(archives, strings.TrimSuffix(name, ArchiveExt))
			hasArchive[strings.TrimSuffix(name, ArchiveExt)] = true
			continue
		}
		dirs[name] = true
	}

	infos := []BackupInfo{}
	for _, line := range strings.Split(out, "\n") {
		entry := strings.TrimSpace(line)
		if entry == "" || strings.HasSuffix(entry, ArchiveExt) {
			continue
		}
		id := path.Base(entry)
		rawManifest, err := r.run(ctx, "cat "+remote.Quote(path.Join(entry, ManifestName)))
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("list", "", err)
			}
			r.logger.Warning("Skipping %s: %v", entry, err)
			continue
		}
		m, err := DecodeManifest([]byte(rawManifest))
		if err != nil {
			r.logger.Warning("Skipping %s: %v", entry, err)
			continue
		}
		if m.State == StateArchived && !hasArchive[id] {
			m.State = StateExpanded
		}
		infos = append(infos, m.Info(r.backupDir(id)))
	}
	for _, id := range archives {
		// A directory with the same id means decompression was interrupted;
		// the directory has already been listed.
		if dirs[id] {
			continue
		}
		m, err := r.readArchivedManifest(ctx, id)
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("list", "", err)
			}
			r.logger.Warning("Skipping archive %s: %v", r.archivePath(id), err)
			continue
		}
		infos = append(infos, m.Info(r.archivePath(id)))
	}
	SortNewestFirst(infos)
	return infos, nil
}

// CleanupOldBackups deletes backups created strictly before now minus
// retentionDays and returns how many were removed.
func (r *RemoteManager) CleanupOldBackups(ctx context.Context, retentionDays int) (int, error) {
	infos, err := r.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	ids := cleanupCandidates(infos, retentionDays, r.now)
	if len(ids) == 0 {
		r.logger.Debug("Remote cleanup: no backups older than %d days", retentionDays)
		return 0, nil
	}

	deleted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := r.DeleteBackup(ctx, id); err != nil {
			r.logger.Warning("Failed to delete %s: %v", id, err)
			continue
		}
		deleted++
	}
	r.logger.Info("Remote cleanup removed %d of %d expired backups", deleted, len(ids))
	return deleted, nil
}

// DeleteBackup removes both the directory and the archive form of a backup.
func (r *RemoteManager) DeleteBackup(ctx context.Context, backupID string) error {
	if err := ValidateBackupID(backupID); err != nil {
		return r.fail("delete", backupID, err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("rm -rf %s %s",
		remote.Quote(r.backupDir(backupID)), remote.Quote(r.archivePath(backupID)))); err != nil {
		return r.fail("delete", backupID, err)
	}
	r.logger.Debug("Deleted remote backup %s", backupID)
	return nil
}

// VerifyBackup recomputes every stored file's checksum on the remote host.
func (r *RemoteManager) VerifyBackup(ctx context.Context, backupID string) (*VerifyResult, error) {
	m, err := r.ReadManifest(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if m.State == StateArchived {
		return nil, r.fail("verify", backupID, ErrBackupArchived)
	}

	result := &VerifyResult{Errors: []string{}}
	for _, rec := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, r.fail("verify", backupID, err)
		}
		sum, err := r.checksum(ctx, r.payloadPath(backupID, rec.OriginalPath))
		if err != nil {
			if remote.IsConnectionError(err) {
				return nil, r.fail("verify", backupID, err)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("failed to verify %s: %v", rec.OriginalPath, err))
			continue
		}
		if sum != rec.Checksum {
			result.Errors = append(result.Errors, fmt.Sprintf("checksum mismatch for %s", rec.OriginalPath))
		}
		result.CheckedFiles++
	}
	result.Valid = len(result.Errors) == 0
	return result, nil
}

// GetBackupSize returns the total size recorded in the manifest.
func (r *RemoteManager) GetBackupSize(ctx context.Context, backupID string) (int64, error) {
	m, err := r.ReadManifest(ctx, backupID)
	if err != nil {
		return 0, err
	}
	return m.TotalSize, nil
}

// CheckDiskSpace parses a POSIX df report for the backup root.
func (r *RemoteManager) CheckDiskSpace(ctx context.Context) (*DiskUsage, error) {
	out, err := r.run(ctx, fmt.Sprintf("df -Pk %s | tail -1 | awk '{print $2,$3,$4,$5}' | sed 's/%%//'", remote.Quote(r.root)))
	if err != nil {
		return nil, r.fail("disk usage", "", err)
	}
	usage, err := parseDiskUsage(out)
	if err != nil {
		return nil, r.fail("disk usage", "", err)
	}
	return usage, nil
}

// parseDiskUsage reads "total used available percent" in KiB.
func parseDiskUsage(out string) (*DiskUsage, error) {
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return nil, fmt.Errorf("unexpected df output %q", strings.TrimSpace(out))
	}
	var kib [3]int64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected df value %q: %w", fields[i], err)
		}
		kib[i] = v
	}
	pct, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("unexpected df percentage %q: %w", fields[3], err)
	}
	return &DiskUsage{
		Total:           kib[0] * 1024,
		Used:            kib[1] * 1024,
		Available:       kib[2] * 1024,
		UsagePercentage: pct,
	}, nil
}
