// Package orchestrator coordinates one local and one remote backup manager
// so that a single logical backup exists in both environments.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/journal"
	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/types"
)

// TimeProvider abstracts time acquisition for determinism in tests.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// Journal records integrated backups that are in flight.
type Journal interface {
	Begin(entry journal.Entry) error
	Complete(backupID string) error
	Pending() ([]journal.Entry, error)
}

// Recorder receives operation metrics. A nil Recorder is allowed.
type Recorder interface {
	RecordOperation(operation string, env types.Environment, outcome string)
	ObserveDuration(operation string, d time.Duration)
	RecordFiles(operation string, env types.Environment, files int, bytes int64)
}

// Outcome labels passed to Recorder.RecordOperation.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Orchestrator fans operations out to both environments.
type Orchestrator struct {
	local    backup.Manager
	remote   backup.Manager
	logger   *logging.Logger
	clock    TimeProvider
	journal  Journal
	recorder Recorder
}

// New creates an orchestrator over the given managers.
func New(local, remote backup.Manager, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Orchestrator{
		local:  local,
		remote: remote,
		logger: logger.WithPrefix("orchestrator"),
		clock:  realTimeProvider{},
	}
}

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(clock TimeProvider) {
	if clock == nil {
		clock = realTimeProvider{}
	}
	o.clock = clock
}

// SetJournal enables crash tracking for integrated backups.
func (o *Orchestrator) SetJournal(j Journal) {
	o.journal = j
}

// SetRecorder enables metrics reporting.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

// Local returns the local manager.
func (o *Orchestrator) Local() backup.Manager { return o.local }

// Remote returns the remote manager.
func (o *Orchestrator) Remote() backup.Manager { return o.remote }

func (o *Orchestrator) now() time.Time { return o.clock.Now() }

// CreateIntegratedBackup backs up localFiles locally and remoteFiles on the
// remote host under the ids <backupID>-local and <backupID>-remote. If
// either side fails outright, the side that succeeded is deleted again and
// a BACKUP_FAILED error carrying both causes is returned.
func (o *Orchestrator) CreateIntegratedBackup(ctx context.Context, localFiles, remoteFiles []string, backupID string) (*IntegratedBackupResult, error) {
	started := o.now()
	if err := backup.ValidateBackupID(backupID); err != nil {
		o.record("create", "", OutcomeFailure)
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "create integrated", BackupID: backupID, Err: err}
	}
	localID := backupID + types.EnvLocal.Suffix()
	remoteID := backupID + types.EnvRemote.Suffix()

	o.logger.Step("Creating integrated backup %s (%d local, %d remote files)", backupID, len(localFiles), len(remoteFiles))
	o.beginJournal(journal.Entry{BackupID: backupID, LocalID: localID, RemoteID: remoteID, StartedAt: started})

	l, r := settleBoth(ctx,
		func(ctx context.Context) (*backup.BackupResult, error) {
			return o.local.CreateBackup(ctx, localFiles, localID)
		},
		func(ctx context.Context) (*backup.BackupResult, error) {
			return o.remote.CreateBackup(ctx, remoteFiles, remoteID)
		},
	)
	defer o.observe("create", started)

	if l.OK() && r.OK() {
		o.completeJournal(backupID)
		result := &IntegratedBackupResult{
			BackupID: backupID,
			Local:    l.Value,
			Remote:   r.Value,
			Success:  l.Value.Success && r.Value.Success,
		}
		o.recordBackup(types.EnvLocal, l.Value)
		o.recordBackup(types.EnvRemote, r.Value)
		if result.Success {
			o.logger.Info("Integrated backup %s created", backupID)
		} else {
			o.logger.Warning("Integrated backup %s created with per-file errors", backupID)
		}
		return result, nil
	}

	var errs []error
	cleaned := true
	if l.OK() {
		cleaned = o.compensate(ctx, o.local, localID) && cleaned
	} else {
		o.record("create", types.EnvLocal, OutcomeFailure)
		errs = append(errs, l.Err)
	}
	if r.OK() {
		cleaned = o.compensate(ctx, o.remote, remoteID) && cleaned
	} else {
		o.record("create", types.EnvRemote, OutcomeFailure)
		errs = append(errs, r.Err)
	}
	if cleaned {
		o.completeJournal(backupID)
	}
	o.logger.Error("Integrated backup %s failed: %v", backupID, errors.Join(errs...))
	return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "create integrated", BackupID: backupID, Err: errors.Join(errs...)}
}

// compensate deletes the half of an integrated backup whose sibling failed.
// The journal entry stays pending if the delete fails so Reconcile can retry.
func (o *Orchestrator) compensate(ctx context.Context, m backup.Manager, id string) bool {
	env := m.Environment()
	o.record("create", env, OutcomeFailure)
	if err := m.DeleteBackup(ctx, id); err != nil {
		o.logger.Error("Compensating delete of %s backup %s failed: %v", env, id, err)
		return false
	}
	o.logger.Warning("Removed %s backup %s because its counterpart failed", env, id)
	return true
}

func (o *Orchestrator) beginJournal(entry journal.Entry) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Begin(entry); err != nil {
		o.logger.Warning("Journal unavailable, continuing without crash tracking: %v", err)
	}
}

func (o *Orchestrator) completeJournal(backupID string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Complete(backupID); err != nil {
		o.logger.Warning("Could not clear journal entry %s: %v", backupID, err)
	}
}

// Reconcile finishes integrated backups interrupted by a crash: both halves
// of every pending entry are deleted and the entry is cleared.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{Errors: []string{}}
	if o.journal == nil {
		o.logger.Skip("No journal configured, nothing to reconcile")
		return result, nil
	}
	entries, err := o.journal.Pending()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	result.Pending = len(entries)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		o.logger.Step("Reconciling interrupted backup %s", entry.BackupID)
		l, r := settleBoth(ctx,
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, deleteIfPresent(ctx, o.local, entry.LocalID)
			},
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, deleteIfPresent(ctx, o.remote, entry.RemoteID)
			},
		)
		if !l.OK() || !r.OK() {
			err := errors.Join(l.Err, r.Err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.BackupID, err))
			o.logger.Warning("Could not reconcile %s: %v", entry.BackupID, err)
			continue
		}
		if err := o.journal.Complete(entry.BackupID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.BackupID, err))
			continue
		}
		result.Reconciled++
	}
	return result, nil
}

// deleteIfPresent relies on DeleteBackup being a no-op for absent backups.
func deleteIfPresent(ctx context.Context, m backup.Manager, id string) error {
	if id == "" {
		return nil
	}
	return m.DeleteBackup(ctx, id)
}

func (o *Orchestrator) record(op string, env types.Environment, outcome string) {
	if o.recorder != nil {
		o.recorder.RecordOperation(op, env, outcome)
	}
}

func (o *Orchestrator) observe(op string, started time.Time) {
	if o.recorder != nil {
		o.recorder.ObserveDuration(op, o.now().Sub(started))
	}
}

func (o *Orchestrator) recordBackup(env types.Environment, res *backup.BackupResult) {
	if o.recorder == nil || res == nil {
		return
	}
	outcome := OutcomeSuccess
	if !res.Success {
		outcome = OutcomePartial
	}
	o.recorder.RecordOperation("create", env, outcome)
	o.recorder.RecordFiles("create", env, len(res.Files), res.TotalSize)
}
