package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/journal"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeManager is a scriptable backup.Manager. Unset hooks succeed with an
// empty result.
type fakeManager struct {
	env types.Environment

	mu      sync.Mutex
	calls   []string
	deleted []string

	create  func(files []string, id string) (*backup.BackupResult, error)
	restore func(id string) (*backup.RestoreResult, error)
	list    func() ([]backup.BackupInfo, error)
	cleanup func(days int) (int, error)
	del     func(id string) error
	verify  func(id string) (*backup.VerifyResult, error)
	read    func(id string) (*backup.Manifest, error)
	disk    func() (*backup.DiskUsage, error)

	compressed   []string
	decompressed []string
}

func newFake(env types.Environment) *fakeManager { return &fakeManager{env: env} }

func (f *fakeManager) note(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeManager) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeManager) Environment() types.Environment { return f.env }

func (f *fakeManager) CreateBackup(_ context.Context, files []string, id string) (*backup.BackupResult, error) {
	f.note("create " + id)
	if f.create != nil {
		return f.create(files, id)
	}
	return okBackup(f.env, id, files), nil
}

func (f *fakeManager) RestoreBackup(_ context.Context, id string) (*backup.RestoreResult, error) {
	f.note("restore " + id)
	if f.restore != nil {
		return f.restore(id)
	}
	return &backup.RestoreResult{RestoreID: "r-" + id, Success: true, RestoredFileCount: 1, RestoredFiles: []string{"/f"}, Environment: f.env}, nil
}

func (f *fakeManager) ListBackups(context.Context) ([]backup.BackupInfo, error) {
	f.note("list")
	if f.list != nil {
		return f.list()
	}
	return []backup.BackupInfo{}, nil
}

func (f *fakeManager) CleanupOldBackups(_ context.Context, days int) (int, error) {
	f.note("cleanup")
	if f.cleanup != nil {
		return f.cleanup(days)
	}
	return 0, nil
}

func (f *fakeManager) DeleteBackup(_ context.Context, id string) error {
	f.note("delete " + id)
	if f.del != nil {
		if err := f.del(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeManager) VerifyBackup(_ context.Context, id string) (*backup.VerifyResult, error) {
	f.note("verify " + id)
	if f.verify != nil {
		return f.verify(id)
	}
	return &backup.VerifyResult{Valid: true, Errors: []string{}, CheckedFiles: 1}, nil
}

func (f *fakeManager) GetBackupSize(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeManager) ReadManifest(_ context.Context, id string) (*backup.Manifest, error) {
	f.note("read " + id)
	if f.read != nil {
		return f.read(id)
	}
	return nil, backup.ErrBackupNotFound
}

func (f *fakeManager) CheckDiskSpace(context.Context) (*backup.DiskUsage, error) {
	if f.disk != nil {
		return f.disk()
	}
	return &backup.DiskUsage{Total: 100, Used: 40, Available: 60, UsagePercentage: 40}, nil
}

// archivingFake adds the archive lifecycle to fakeManager.
type archivingFake struct {
	*fakeManager
	failCompress error
}

func (a *archivingFake) CompressBackup(_ context.Context, id string) error {
	if a.failCompress != nil {
		return a.failCompress
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compressed = append(a.compressed, id)
	return nil
}

func (a *archivingFake) DecompressBackup(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decompressed = append(a.decompressed, id)
	return nil
}

func okBackup(env types.Environment, id string, files []string) *backup.BackupResult {
	recs := make([]backup.FileRecord, 0, len(files))
	for _, f := range files {
		recs = append(recs, backup.FileRecord{OriginalPath: f, Size: 1})
	}
	return &backup.BackupResult{
		BackupID:    id,
		Files:       recs,
		TotalSize:   int64(len(files)),
		Success:     true,
		Errors:      []string{},
		Environment: env,
	}
}

var errSSH = &backup.Error{Kind: backup.KindSSHConnectFailed, Environment: types.EnvRemote, Op: "create", Err: errors.New("connection refused")}

type memJournal struct {
	mu       sync.Mutex
	entries  map[string]journal.Entry
	beginErr error
}

func newMemJournal() *memJournal { return &memJournal{entries: map[string]journal.Entry{}} }

func (j *memJournal) Begin(e journal.Entry) error {
	if j.beginErr != nil {
		return j.beginErr
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.BackupID] = e
	return nil
}

func (j *memJournal) Complete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	return nil
}

func (j *memJournal) Pending() ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	return out, nil
}

type opRecord struct {
	op      string
	env     types.Environment
	outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	ops   []opRecord
	files map[string]int
}

func (r *fakeRecorder) RecordOperation(op string, env types.Environment, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, opRecord{op, env, outcome})
}

func (r *fakeRecorder) ObserveDuration(string, time.Duration) {}

func (r *fakeRecorder) RecordFiles(op string, env types.Environment, files int, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = map[string]int{}
	}
	r.files[op+"/"+env.String()] += files
}

func (r *fakeRecorder) has(op string, env types.Environment, outcome string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.ops {
		if rec == (opRecord{op, env, outcome}) {
			return true
		}
	}
	return false
}

func newTestOrchestrator(local, remote backup.Manager) *Orchestrator {
	o := New(local, remote, logging.Discard())
	o.SetClock(fixedClock{testNow})
	return o
}
