package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/remote"
	"github.com/tis24dev/backupguard/internal/remote/remotetest"
	"github.com/tis24dev/backupguard/internal/types"
)

func newTestRemoteManager(t *testing.T, maxSize int64) (*RemoteManager, *remotetest.ShellExecutor, string) {
	t.Helper()
	base := t.TempDir()
	exec := &remotetest.ShellExecutor{Dir: base}
	m := NewRemoteManager(exec, Options{Root: filepath.Join(base, "remote-backups"), MaxBackupSize: maxSize}, logging.Discard())
	return m, exec, base
}

func TestRemoteBackupRestoreRoundTrip(t *testing.T) {
	m, _, base := newTestRemoteManager(t, 0)
	ctx := context.Background()

	a := filepath.Join(base, "srv", "app", "config.yml")
	b := filepath.Join(base, "srv", "data", "it's odd.txt")
	writeTestFile(t, a, "port: 80\n")
	writeTestFile(t, b, "quoted name")

	res, err := m.CreateBackup(ctx, []string{a, b}, "rt-remote")
	require.NoError(t, err)
	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, types.EnvRemote, res.Environment)
	require.Len(t, res.Files, 2)
	assert.EqualValues(t, len("port: 80\n")+len("quoted name"), res.TotalSize)

	localSum, err := GenerateChecksum(ctx, logging.Discard(), a)
	require.NoError(t, err)
	assert.Equal(t, localSum, res.Files[0].Checksum, "remote and local digests must agree")

	writeTestFile(t, a, "port: 8080\n")
	require.NoError(t, os.Remove(b))

	restored, err := m.RestoreBackup(ctx, "rt-remote")
	require.NoError(t, err)
	assert.True(t, restored.Success, restored.Error)
	assert.Equal(t, 2, restored.RestoredFileCount)
	assert.Equal(t, types.EnvRemote, restored.Environment)

	got, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "port: 80\n", string(got))
	got, err = os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "quoted name", string(got))
}

func TestRemoteManifestWrittenThroughHeredoc(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	src := filepath.Join(base, "srv", "f")
	writeTestFile(t, src, "abc")

	_, err := m.CreateBackup(context.Background(), []string{src}, "hd-remote")
	require.NoError(t, err)

	var heredoc string
	for _, cmd := range exec.Commands() {
		if strings.Contains(cmd, manifestDelimiter) {
			heredoc = cmd
		}
	}
	require.NotEmpty(t, heredoc)
	assert.True(t, strings.HasSuffix(heredoc, "\n"+manifestDelimiter))
	assert.Contains(t, heredoc, "<< '"+manifestDelimiter+"'")

	manifest, err := LoadManifest(filepath.Join(m.Root(), "hd-remote", ManifestName))
	require.NoError(t, err)
	assert.Equal(t, types.EnvRemote, manifest.Environment)
	assert.Equal(t, StateExpanded, manifest.State)
	require.Len(t, manifest.Files, 1)

	info, err := os.Stat(filepath.Join(m.Root(), "hd-remote", ManifestName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}

func TestRemotePathsCannotInjectCommands(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	evil := filepath.Join(base, "srv", "$(touch pwned); `touch pwned2`'; touch pwned3; '.txt")
	writeTestFile(t, evil, "evil")

	res, err := m.CreateBackup(context.Background(), []string{evil}, "inj-remote")
	require.NoError(t, err)
	assert.True(t, res.Success, "errors: %v", res.Errors)

	for _, name := range []string{"pwned", "pwned2", "pwned3"} {
		_, err := os.Stat(filepath.Join(base, name))
		assert.True(t, os.IsNotExist(err), "%s must not exist", name)
	}
	for _, cmd := range exec.Commands() {
		if strings.Contains(cmd, manifestDelimiter) {
			continue
		}
		assert.NotContains(t, cmd, "'; touch pwned3; '.txt", "raw quote leaked into %q", cmd)
	}
}

func TestRemoteCreateBackupMissingSourceIsPerFileError(t *testing.T) {
	m, _, base := newTestRemoteManager(t, 0)
	src := filepath.Join(base, "srv", "present")
	writeTestFile(t, src, "x")
	dirSource := filepath.Join(base, "srv", "dir")
	require.NoError(t, os.MkdirAll(dirSource, 0o755))

	res, err := m.CreateBackup(context.Background(), []string{filepath.Join(base, "srv", "missing"), src, dirSource}, "miss-remote")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 2)
	require.Len(t, res.Files, 1)
	assert.Equal(t, src, res.Files[0].OriginalPath)
}

func TestRemoteCreateBackupSizeLimit(t *testing.T) {
	m, _, base := newTestRemoteManager(t, 10)
	a := filepath.Join(base, "srv", "a")
	b := filepath.Join(base, "srv", "b")
	c := filepath.Join(base, "srv", "c")
	writeTestFile(t, a, "123456")
	writeTestFile(t, b, "123456")
	writeTestFile(t, c, "1")

	res, err := m.CreateBackup(context.Background(), []string{a, b, c}, "big-remote")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
	assert.True(t, IsKind(err, KindBackupFailed))
	require.NotNil(t, res)
	assert.Len(t, res.Files, 1)

	manifest, err := LoadManifest(filepath.Join(m.Root(), "big-remote", ManifestName))
	require.NoError(t, err)
	assert.Len(t, manifest.Files, 1)
	_, err = os.Stat(filepath.Join(m.Root(), "big-remote", "files", "b"))
	assert.True(t, os.IsNotExist(err), "over-limit file is not copied")
}

func TestRemoteConnectionFailureAbortsCreate(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	a := filepath.Join(base, "srv", "a")
	b := filepath.Join(base, "srv", "b")
	writeTestFile(t, a, "a")
	writeTestFile(t, b, "b")
	exec.Fail = remotetest.FailMatching(remote.Quote(b), remotetest.Timeout())

	res, err := m.CreateBackup(context.Background(), []string{a, b}, "conn-remote")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsKind(err, KindSSHConnectFailed))
	assert.ErrorIs(t, err, remote.ErrTimeout)
}

func TestRemoteListCleanupAndArchivedEntries(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	ctx := context.Background()

	infos, err := m.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos, "missing root lists as empty")

	src := filepath.Join(base, "srv", "f")
	writeTestFile(t, src, "f")
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	for id, age := range map[string]time.Duration{
		"ancient-remote":  30 * 24 * time.Hour,
		"old-remote":      9 * 24 * time.Hour,
		"boundary-remote": 7 * 24 * time.Hour,
		"fresh-remote":    time.Hour,
	} {
		created := now.Add(-age)
		m.now = func() time.Time { return created }
		_, err := m.CreateBackup(ctx, []string{src}, id)
		require.NoError(t, err)
	}
	m.now = func() time.Time { return now }
	require.NoError(t, m.CompressBackup(ctx, "ancient-remote"))
	writeTestFile(t, filepath.Join(m.Root(), "garbage", ManifestName), "nope")

	infos, err = m.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 4)
	assert.Equal(t, "fresh-remote", infos[0].BackupID)
	assert.Equal(t, "ancient-remote", infos[3].BackupID)
	assert.Equal(t, StateArchived, infos[3].State)
	assert.Equal(t, filepath.Join(m.Root(), "ancient-remote.tar.gz"), infos[3].BackupPath)

	// One delete fails; the sweep continues and the count stays accurate.
	exec.Fail = func(cmd string) error {
		if strings.HasPrefix(cmd, "rm -rf") && strings.Contains(cmd, "old-remote") {
			return &remote.CommandError{Command: cmd, ExitStatus: 1, Stderr: "busy"}
		}
		return nil
	}
	deleted, err := m.CleanupOldBackups(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	exec.Fail = nil
	infos, err = m.ListBackups(ctx)
	require.NoError(t, err)
	var ids []string
	for _, info := range infos {
		ids = append(ids, info.BackupID)
	}
	assert.ElementsMatch(t, []string{"fresh-remote", "boundary-remote", "old-remote"}, ids)
	_, err = os.Stat(filepath.Join(m.Root(), "ancient-remote.tar.gz"))
	assert.True(t, os.IsNotExist(err), "archive removed together with the backup")
}

func TestRemoteArchiveLifecycle(t *testing.T) {
	m, _, base := newTestRemoteManager(t, 0)
	ctx := context.Background()
	src := filepath.Join(base, "srv", "f")
	writeTestFile(t, src, "content")
	_, err := m.CreateBackup(ctx, []string{src}, "arc-remote")
	require.NoError(t, err)

	err = m.DecompressBackup(ctx, "arc-remote")
	assert.ErrorIs(t, err, ErrBackupNotArchived)

	require.NoError(t, m.CompressBackup(ctx, "arc-remote"))
	_, err = os.Stat(filepath.Join(m.Root(), "arc-remote"))
	assert.True(t, os.IsNotExist(err))

	manifest, err := m.ReadManifest(ctx, "arc-remote")
	require.NoError(t, err)
	assert.Equal(t, StateArchived, manifest.State)

	_, err = m.RestoreBackup(ctx, "arc-remote")
	assert.ErrorIs(t, err, ErrBackupArchived)
	_, err = m.VerifyBackup(ctx, "arc-remote")
	assert.ErrorIs(t, err, ErrBackupArchived)
	assert.ErrorIs(t, m.CompressBackup(ctx, "arc-remote"), ErrBackupArchived)

	size, err := m.GetBackupSize(ctx, "arc-remote")
	require.NoError(t, err)
	assert.EqualValues(t, len("content"), size)

	require.NoError(t, m.DecompressBackup(ctx, "arc-remote"))
	_, err = os.Stat(filepath.Join(m.Root(), "arc-remote.tar.gz"))
	assert.True(t, os.IsNotExist(err))

	manifest, err = m.ReadManifest(ctx, "arc-remote")
	require.NoError(t, err)
	assert.Equal(t, StateExpanded, manifest.State)

	verify, err := m.VerifyBackup(ctx, "arc-remote")
	require.NoError(t, err)
	assert.True(t, verify.Valid, "errors: %v", verify.Errors)
	assert.Equal(t, 1, verify.CheckedFiles)
}

func TestRemoteDecompressManifestFailureKeepsArchive(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	ctx := context.Background()
	src := filepath.Join(base, "srv", "f")
	writeTestFile(t, src, "content")
	_, err := m.CreateBackup(ctx, []string{src}, "half-remote")
	require.NoError(t, err)
	require.NoError(t, m.CompressBackup(ctx, "half-remote"))

	exec.Fail = remotetest.FailMatching("cat > ", remotetest.Timeout())
	err = m.DecompressBackup(ctx, "half-remote")
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(m.Root(), "half-remote.tar.gz"))
	require.NoError(t, err, "archive kept until the manifest is rewritten")

	exec.Fail = nil
	manifest, err := m.ReadManifest(ctx, "half-remote")
	require.NoError(t, err)
	assert.Equal(t, StateArchived, manifest.State)

	require.NoError(t, m.DecompressBackup(ctx, "half-remote"))
	_, err = os.Stat(filepath.Join(m.Root(), "half-remote.tar.gz"))
	assert.True(t, os.IsNotExist(err))

	writeTestFile(t, src, "changed")
	restored, err := m.RestoreBackup(ctx, "half-remote")
	require.NoError(t, err)
	assert.True(t, restored.Success, restored.Error)
	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestRemoteArchivedManifestWithoutArchiveIsExpanded(t *testing.T) {
	m, exec, base := newTestRemoteManager(t, 0)
	ctx := context.Background()
	src := filepath.Join(base, "srv", "f")
	writeTestFile(t, src, "content")
	_, err := m.CreateBackup(ctx, []string{src}, "stuck-remote")
	require.NoError(t, err)

	// The archive step fails and so does the manifest revert that follows.
	writes := 0
	exec.Fail = func(cmd string) error {
		switch {
		case strings.HasPrefix(cmd, "tar -czf"):
			return &remote.CommandError{Command: cmd, ExitStatus: 2, Stderr: "no space left"}
		case strings.Contains(cmd, "cat > "):
			writes++
			if writes > 1 {
				return remotetest.Timeout()
			}
		}
		return nil
	}
	require.Error(t, m.CompressBackup(ctx, "stuck-remote"))
	exec.Fail = nil

	raw, err := LoadManifest(filepath.Join(m.Root(), "stuck-remote", ManifestName))
	require.NoError(t, err)
	require.Equal(t, StateArchived, raw.State)

	manifest, err := m.ReadManifest(ctx, "stuck-remote")
	require.NoError(t, err)
	assert.Equal(t, StateExpanded, manifest.State)

	infos, err := m.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, StateExpanded, infos[0].State)

	verify, err := m.VerifyBackup(ctx, "stuck-remote")
	require.NoError(t, err)
	assert.True(t, verify.Valid, "errors: %v", verify.Errors)
	require.NoError(t, m.CompressBackup(ctx, "stuck-remote"))
}

func TestRemoteVerifyDetectsCorruption(t *testing.T) {
	m, _, base := newTestRemoteManager(t, 0)
	ctx := context.Background()
	a := filepath.Join(base, "srv", "a")
	b := filepath.Join(base, "srv", "b")
	writeTestFile(t, a, "a")
	writeTestFile(t, b, "b")
	_, err := m.CreateBackup(ctx, []string{a, b}, "vc-remote")
	require.NoError(t, err)

	stored := filepath.Join(m.Root(), "vc-remote", "files", "a")
	makeWritable(t, stored)
	require.NoError(t, os.WriteFile(stored, []byte("zzz"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(m.Root(), "vc-remote", "files", "b")))

	res, err := m.VerifyBackup(ctx, "vc-remote")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.CheckedFiles)
}

func TestRemoteReadManifestNotFound(t *testing.T) {
	m, _, _ := newTestRemoteManager(t, 0)
	_, err := m.RestoreBackup(context.Background(), "ghost-remote")
	assert.ErrorIs(t, err, ErrBackupNotFound)
	assert.True(t, IsKind(err, KindBackupFailed))
}

func TestRemoteDeleteBackupCommand(t *testing.T) {
	q := &remotetest.Queue{T: t, Responses: []remotetest.Response{
		{Prefix: "rm -rf '/home/ubuntu/backups/x-remote' '/home/ubuntu/backups/x-remote.tar.gz'"},
	}}
	m := NewRemoteManager(q, Options{Root: "/home/ubuntu/backups"}, logging.Discard())
	require.NoError(t, m.DeleteBackup(context.Background(), "x-remote"))
	assert.Len(t, q.Calls(), 1)
}

func TestRemoteDeleteBackupConnectionFailure(t *testing.T) {
	q := &remotetest.Queue{T: t, Responses: []remotetest.Response{{Err: remotetest.Timeout()}}}
	m := NewRemoteManager(q, Options{Root: "/b"}, logging.Discard())
	err := m.DeleteBackup(context.Background(), "x-remote")
	assert.True(t, IsKind(err, KindSSHConnectFailed))
}

func TestRemoteCheckDiskSpace(t *testing.T) {
	q := &remotetest.Queue{T: t, Responses: []remotetest.Response{
		{Prefix: "df -Pk '/b'", Stdout: "1000 250 750 25\n"},
	}}
	m := NewRemoteManager(q, Options{Root: "/b"}, logging.Discard())
	usage, err := m.CheckDiskSpace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &DiskUsage{Total: 1024000, Used: 256000, Available: 768000, UsagePercentage: 25}, usage)
}

func TestRemoteCheckDiskSpaceAgainstShell(t *testing.T) {
	m, _, _ := newTestRemoteManager(t, 0)
	require.NoError(t, os.MkdirAll(m.Root(), 0o755))
	usage, err := m.CheckDiskSpace(context.Background())
	require.NoError(t, err)
	assert.Greater(t, usage.Total, int64(0))
}

func TestParseDiskUsageRejectsGarbage(t *testing.T) {
	for _, out := range []string{"", "1 2 3", "a b c d", "1 2 3 x"} {
		_, err := parseDiskUsage(out)
		assert.Error(t, err, "output %q", out)
	}
}

func TestRemoteTestConnection(t *testing.T) {
	m, _, _ := newTestRemoteManager(t, 0)
	assert.True(t, m.TestConnection(context.Background()))

	q := &remotetest.Queue{T: t, Responses: []remotetest.Response{{Err: errors.New("boom")}}}
	down := NewRemoteManager(q, Options{Root: "/b"}, logging.Discard())
	assert.False(t, down.TestConnection(context.Background()))
}
