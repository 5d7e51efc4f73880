package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/journal"
	"github.com/tis24dev/backupguard/internal/types"
)

func TestSettleBothWaitsForBothBranches(t *testing.T) {
	var slowDone atomic.Bool
	l, r := settleBoth(context.Background(),
		func(context.Context) (int, error) { return 0, errors.New("fast failure") },
		func(context.Context) (int, error) {
			time.Sleep(20 * time.Millisecond)
			slowDone.Store(true)
			return 7, nil
		},
	)
	assert.EqualError(t, l.Err, "fast failure")
	assert.True(t, r.OK())
	assert.Equal(t, 7, r.Value)
	assert.True(t, slowDone.Load(), "the join must not return before the slow branch settles")
}

func TestSettleBothRecoversPanics(t *testing.T) {
	l, r := settleBoth(context.Background(),
		func(context.Context) (string, error) { panic("boom") },
		func(context.Context) (string, error) { return "ok", nil },
	)
	require.Error(t, l.Err)
	assert.Contains(t, l.Err.Error(), "boom")
	assert.Equal(t, "ok", r.Value)
}

func TestCreateIntegratedBackupSuccess(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	rec := &fakeRecorder{}
	j := newMemJournal()
	o := newTestOrchestrator(local, remote)
	o.SetRecorder(rec)
	o.SetJournal(j)

	res, err := o.CreateIntegratedBackup(context.Background(), []string{"/etc/a"}, []string{"/srv/b", "/srv/c"}, "release")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "release", res.BackupID)
	assert.Equal(t, "release-local", res.Local.BackupID)
	assert.Equal(t, "release-remote", res.Remote.BackupID)
	assert.Equal(t, []string{"create release-local"}, local.Calls())
	assert.Equal(t, []string{"create release-remote"}, remote.Calls())

	pending, _ := j.Pending()
	assert.Empty(t, pending)
	assert.True(t, rec.has("create", types.EnvLocal, OutcomeSuccess))
	assert.Equal(t, 2, rec.files["create/remote"])
}

func TestCreateIntegratedBackupPerFileErrorsAreNotFatal(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	remote.create = func(files []string, id string) (*backup.BackupResult, error) {
		r := okBackup(types.EnvRemote, id, nil)
		r.Success = false
		r.Errors = []string{"source file does not exist: /srv/missing"}
		return r, nil
	}
	o := newTestOrchestrator(local, remote)

	res, err := o.CreateIntegratedBackup(context.Background(), []string{"/a"}, []string{"/srv/missing"}, "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Local.Success)
	assert.Empty(t, local.Deleted(), "partial success is not compensated")
}

func TestCreateIntegratedBackupCompensatesLocalWhenRemoteFails(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	remote.create = func([]string, string) (*backup.BackupResult, error) { return nil, errSSH }
	j := newMemJournal()
	o := newTestOrchestrator(local, remote)
	o.SetJournal(j)

	res, err := o.CreateIntegratedBackup(context.Background(), []string{"/a"}, []string{"/b"}, "x")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, backup.IsKind(err, backup.KindBackupFailed))
	assert.True(t, backup.IsKind(err, backup.KindSSHConnectFailed), "the remote cause must stay reachable")
	kind, _ := backup.KindOf(err)
	assert.Equal(t, backup.KindBackupFailed, kind)

	assert.Equal(t, []string{"x-local"}, local.Deleted())
	assert.Empty(t, remote.Deleted())
	pending, _ := j.Pending()
	assert.Empty(t, pending, "entry is cleared once the compensating delete succeeded")
}

func TestCreateIntegratedBackupCompensatesRemoteWhenLocalFails(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	local.create = func([]string, string) (*backup.BackupResult, error) {
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Environment: types.EnvLocal, Err: errors.New("disk full")}
	}
	o := newTestOrchestrator(local, remote)

	_, err := o.CreateIntegratedBackup(context.Background(), nil, nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"x-remote"}, remote.Deleted())
	assert.Empty(t, local.Deleted())
}

func TestCreateIntegratedBackupBothFail(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	local.create = func([]string, string) (*backup.BackupResult, error) { return nil, errors.New("local broke") }
	remote.create = func([]string, string) (*backup.BackupResult, error) { return nil, errSSH }
	o := newTestOrchestrator(local, remote)

	_, err := o.CreateIntegratedBackup(context.Background(), nil, nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local broke")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, local.Deleted())
	assert.Empty(t, remote.Deleted())
}

func TestCreateIntegratedBackupKeepsJournalWhenCompensationFails(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	remote.create = func([]string, string) (*backup.BackupResult, error) { return nil, errSSH }
	local.del = func(string) error { return errors.New("read-only filesystem") }
	j := newMemJournal()
	o := newTestOrchestrator(local, remote)
	o.SetJournal(j)

	_, err := o.CreateIntegratedBackup(context.Background(), nil, nil, "x")
	require.Error(t, err)

	pending, _ := j.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, journal.Entry{BackupID: "x", LocalID: "x-local", RemoteID: "x-remote", StartedAt: testNow}, pending[0])
}

func TestCreateIntegratedBackupJournalFailureIsAWarning(t *testing.T) {
	j := newMemJournal()
	j.beginErr = errors.New("journal locked")
	o := newTestOrchestrator(newFake(types.EnvLocal), newFake(types.EnvRemote))
	o.SetJournal(j)

	res, err := o.CreateIntegratedBackup(context.Background(), nil, nil, "x")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCreateIntegratedBackupRejectsBadID(t *testing.T) {
	local := newFake(types.EnvLocal)
	o := newTestOrchestrator(local, newFake(types.EnvRemote))

	_, err := o.CreateIntegratedBackup(context.Background(), nil, nil, "../escape")
	require.Error(t, err)
	assert.True(t, backup.IsKind(err, backup.KindBackupFailed))
	assert.Empty(t, local.Calls())
}

func TestReconcileDeletesBothHalvesOfPendingEntries(t *testing.T) {
	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	j := newMemJournal()
	require.NoError(t, j.Begin(journal.Entry{BackupID: "crashed", LocalID: "crashed-local", RemoteID: "crashed-remote"}))
	require.NoError(t, j.Begin(journal.Entry{BackupID: "stuck", LocalID: "stuck-local", RemoteID: "stuck-remote"}))
	remote.del = func(id string) error {
		if id == "stuck-remote" {
			return errSSH
		}
		return nil
	}
	o := newTestOrchestrator(local, remote)
	o.SetJournal(j)

	res, err := o.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pending)
	assert.Equal(t, 1, res.Reconciled)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "stuck")

	assert.ElementsMatch(t, []string{"crashed-local", "stuck-local"}, local.Deleted())
	assert.Equal(t, []string{"crashed-remote"}, remote.Deleted())

	pending, _ := j.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "stuck", pending[0].BackupID)
}

func TestReconcileWithoutJournal(t *testing.T) {
	o := newTestOrchestrator(newFake(types.EnvLocal), newFake(types.EnvRemote))
	res, err := o.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
}

func TestReconcileWithBadgerJournal(t *testing.T) {
	j, err := journal.OpenInMemory(nil)
	require.NoError(t, err)
	defer j.Close()

	local, remote := newFake(types.EnvLocal), newFake(types.EnvRemote)
	remote.create = func([]string, string) (*backup.BackupResult, error) { return nil, errSSH }
	local.del = func(string) error { return errors.New("busy") }
	o := newTestOrchestrator(local, remote)
	o.SetJournal(j)

	_, err = o.CreateIntegratedBackup(context.Background(), nil, nil, "nightly")
	require.Error(t, err)

	local.del = nil
	res, err := o.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reconciled)

	pending, err := j.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
