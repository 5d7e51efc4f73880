package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/backupguard/internal/config"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/remote"
	"github.com/tis24dev/backupguard/internal/types"
)

func newTestLogger(buf *bytes.Buffer) *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(buf)
	return logger
}

func writeFile(t *testing.T, dir, name string, perm os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("secret"), 0o600))
	require.NoError(t, os.Chmod(p, perm))
	return p
}

func TestCheckFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "id_ed25519", 0o600)
	loose := writeFile(t, dir, "backup.env", 0o644)

	var buf bytes.Buffer
	res := CheckFiles(newTestLogger(&buf), []File{
		{Path: good, MaxPerm: 0o600, Description: "SSH private key"},
		{Path: loose, MaxPerm: 0o640, Description: "configuration file"},
		{Path: filepath.Join(dir, "known_hosts"), MaxPerm: 0o644, Description: "known_hosts file", Optional: true},
		{Path: filepath.Join(dir, "missing_key"), MaxPerm: 0o600, Description: "SSH private key"},
		{Path: dir, MaxPerm: 0o600, Description: "SSH private key"},
	})

	require.Len(t, res.Issues, 3)
	assert.Equal(t, 2, res.WarningCount())
	assert.Equal(t, 1, res.ErrorCount())
	assert.True(t, res.HasErrors())

	assert.Equal(t, loose, res.Issues[0].Path)
	assert.Contains(t, res.Issues[0].Message, "should have permissions 640 or stricter (current 644)")
	assert.Contains(t, res.Issues[1].Message, "does not exist")
	assert.Contains(t, res.Issues[2].Message, "is not a regular file")
	assert.Contains(t, buf.String(), "current 644")
}

func TestCheckFilesStricterModeIsFine(t *testing.T) {
	dir := t.TempDir()
	key := writeFile(t, dir, "id_rsa", 0o400)

	var buf bytes.Buffer
	res := CheckFiles(newTestLogger(&buf), []File{{Path: key, MaxPerm: 0o600, Description: "SSH private key"}})
	assert.Empty(t, res.Issues)
	assert.False(t, res.HasErrors())
}

func TestFilesFor(t *testing.T) {
	cfg := &config.Config{
		ConfigPath: "/etc/backupguard/backup.env",
		Remote:     remote.Config{KeyPath: "/root/.ssh/id_ed25519"},
	}
	files := FilesFor(cfg)
	require.Len(t, files, 2)
	assert.Equal(t, "/etc/backupguard/backup.env", files[0].Path)
	assert.Equal(t, os.FileMode(0o600), files[1].MaxPerm)

	cfg.Remote.KnownHostsPath = "/root/.ssh/known_hosts"
	files = FilesFor(cfg)
	require.Len(t, files, 3)
	assert.True(t, files[2].Optional)
}
