package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/types"
)

func sampleListing() *orchestrator.IntegratedListing {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	local := backup.BackupInfo{BackupID: "a-local", CreatedAt: created, FileCount: 2, TotalSize: 2048, Description: "Local backup (2 files)", Environment: types.EnvLocal, BackupPath: "/bk/a-local", State: backup.StateExpanded}
	remote := backup.BackupInfo{BackupID: "a-remote", CreatedAt: created, FileCount: 1, TotalSize: 10, Description: "Remote backup (1 file), archived", Environment: types.EnvRemote, BackupPath: "/r/a-remote", State: backup.StateArchived}
	orphan := backup.BackupInfo{BackupID: "b-remote", CreatedAt: created.Add(-time.Hour), Environment: types.EnvRemote}
	return &orchestrator.IntegratedListing{
		Local:  []backup.BackupInfo{local},
		Remote: []backup.BackupInfo{remote, orphan},
		Paired: orchestrator.PairBackups([]backup.BackupInfo{local}, []backup.BackupInfo{remote, orphan}),
	}
}

func TestBrowserTable(t *testing.T) {
	b := NewBrowser(context.Background(), NewApp(context.Background()), sampleListing(), nil)

	require.Equal(t, 3, b.table.GetRowCount())
	assert.Equal(t, "Local", b.table.GetCell(0, 2).Text)
	assert.Equal(t, "Remote", b.table.GetCell(0, 3).Text)

	assert.Equal(t, "a", b.table.GetCell(1, 0).Text)
	assert.Equal(t, "2 files, 2.0 KB", b.table.GetCell(1, 2).Text)
	assert.Equal(t, SymbolArchive+" 1 files, 10 B", b.table.GetCell(1, 3).Text)
	assert.Equal(t, SymbolSuccess+" complete", b.table.GetCell(1, 4).Text)

	assert.Equal(t, "b", b.table.GetCell(2, 0).Text)
	assert.Equal(t, SymbolError+" missing", b.table.GetCell(2, 2).Text)
	assert.Equal(t, SymbolWarning+" incomplete", b.table.GetCell(2, 4).Text)

	assert.Contains(t, b.DetailsText(), "Local backup (2 files)")
	assert.Contains(t, b.DetailsText(), "/r/a-remote")

	b.table.Select(2, 0)
	assert.Contains(t, b.DetailsText(), "Local: not present")
}

func TestBrowserEmptyListing(t *testing.T) {
	b := NewBrowser(context.Background(), NewApp(context.Background()), &orchestrator.IntegratedListing{}, nil)
	assert.Equal(t, 1, b.table.GetRowCount())
	assert.Equal(t, "No backups found.", b.DetailsText())
	_, ok := b.selected()
	assert.False(t, ok)
}

func TestBrowserVerifyText(t *testing.T) {
	var asked string
	verify := func(_ context.Context, id string) (*orchestrator.IntegratedVerifyResult, error) {
		asked = id
		return &orchestrator.IntegratedVerifyResult{
			Local:   backup.VerifyResult{Valid: true, Errors: []string{}, CheckedFiles: 2},
			Remote:  backup.VerifyResult{Valid: false, Errors: []string{"checksum mismatch for /srv/x"}, CheckedFiles: 1},
			Overall: orchestrator.OverallVerify{Valid: false, TotalErrors: 1, TotalCheckedFiles: 3},
		}, nil
	}
	b := NewBrowser(context.Background(), NewApp(context.Background()), sampleListing(), verify)

	text := b.verifyText("a")
	assert.Equal(t, "a", asked)
	assert.Contains(t, text, "a: invalid, 3 files checked, 1 errors")
	assert.Contains(t, text, "Remote: checksum mismatch for /srv/x")

	b.verify = func(context.Context, string) (*orchestrator.IntegratedVerifyResult, error) {
		return nil, errors.New("remote unreachable")
	}
	assert.Contains(t, b.verifyText("a"), "remote unreachable")
}
