package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/types"
)

// RestoreIntegratedBackup restores <backupID>-local and <backupID>-remote
// concurrently. Partial success is reported, never undone.
func (o *Orchestrator) RestoreIntegratedBackup(ctx context.Context, backupID string, opts RestoreOptions) (*IntegratedRestoreResult, error) {
	return o.restore(ctx, backupID, opts, "restore-")
}

// restore runs both environment restores under settle-both semantics.
func (o *Orchestrator) restore(ctx context.Context, backupID string, opts RestoreOptions, idPrefix string) (*IntegratedRestoreResult, error) {
	started := o.now()
	if err := backup.ValidateBackupID(backupID); err != nil {
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "restore integrated", BackupID: backupID, Err: err}
	}
	result := &IntegratedRestoreResult{
		RestoreID:   idPrefix + uuid.NewString(),
		Errors:      []string{},
		Warnings:    []string{},
		RestoreTime: started,
	}
	defer func() {
		result.ProcessingTime = o.now().Sub(started)
		o.observe("restore", started)
	}()

	o.logger.Step("Restoring integrated backup %s", backupID)
	if opts.OverwriteExisting {
		o.logger.Debug("Overwrite requested; existing files are always replaced")
	}

	if opts.DryRun {
		o.logger.Info("Dry run: no files will be touched")
		for _, env := range types.Environments {
			o.setEnvResult(result, env, &backup.RestoreResult{
				RestoreID:     fmt.Sprintf("dryrun-%s-%d", env, started.Unix()),
				Success:       true,
				RestoredFiles: []string{},
				RestoreTime:   started,
				Environment:   env,
			})
		}
		result.Success = true
		return result, nil
	}

	if opts.CreatePreRestoreBackup {
		id, err := o.createPreRestoreBackup(ctx, backupID)
		if err != nil {
			o.logger.Warning("Pre-restore backup failed, continuing: %v", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("pre-restore backup failed: %v", err))
		} else {
			result.PreRestoreBackupID = id
		}
	}

	restoreOne := func(env types.Environment) func(context.Context) (*backup.RestoreResult, error) {
		m := o.manager(env)
		return func(ctx context.Context) (*backup.RestoreResult, error) {
			return m.RestoreBackup(ctx, backupID+env.Suffix())
		}
	}

	l, r := settleBoth(ctx, restoreOne(types.EnvLocal), restoreOne(types.EnvRemote))
	o.processRestoreOutcome(result, types.EnvLocal, l)
	o.processRestoreOutcome(result, types.EnvRemote, r)

	if opts.VerifyAfterRestore {
		for _, env := range types.Environments {
			if res := o.envResult(result, env); res == nil || !res.Success {
				result.Errors = append(result.Errors, fmt.Sprintf("%s restore failed", env))
			}
		}
	}

	result.Success = len(result.Errors) == 0
	for _, env := range types.Environments {
		if res := o.envResult(result, env); res == nil || !res.Success {
			result.Success = false
		}
	}

	if result.Success {
		o.logger.Info("Restore %s of %s completed (%d files)", result.RestoreID, backupID, result.TotalRestoredFiles)
	} else {
		o.logger.Error("Restore %s of %s finished with errors: %v", result.RestoreID, backupID, result.Errors)
	}
	return result, nil
}

func (o *Orchestrator) processRestoreOutcome(result *IntegratedRestoreResult, env types.Environment, out Outcome[*backup.RestoreResult]) {
	res := out.Value
	switch {
	case out.Err != nil:
		result.Errors = append(result.Errors, fmt.Sprintf("%s restore error: %v", env, out.Err))
		res = &backup.RestoreResult{
			RestoreID:     "failed-" + env.String(),
			Success:       false,
			RestoredFiles: []string{},
			Error:         out.Err.Error(),
			RestoreTime:   o.now(),
			Environment:   env,
		}
		o.record("restore", env, OutcomeFailure)
	case res == nil:
		result.Errors = append(result.Errors, fmt.Sprintf("%s restore error: no result", env))
		res = &backup.RestoreResult{RestoreID: "failed-" + env.String(), RestoredFiles: []string{}, Error: "no result", RestoreTime: o.now(), Environment: env}
		o.record("restore", env, OutcomeFailure)
	case !res.Success:
		if res.Error != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s restore error: %s", env, res.Error))
		}
		o.record("restore", env, OutcomePartial)
	default:
		o.record("restore", env, OutcomeSuccess)
	}
	if o.recorder != nil && res.RestoredFileCount > 0 {
		o.recorder.RecordFiles("restore", env, res.RestoredFileCount, 0)
	}
	result.TotalRestoredFiles += res.RestoredFileCount
	o.setEnvResult(result, env, res)
}

// createPreRestoreBackup snapshots the current contents of every path the
// restore is about to overwrite, as an integrated backup of its own.
func (o *Orchestrator) createPreRestoreBackup(ctx context.Context, backupID string) (string, error) {
	l, r := settleBoth(ctx,
		func(ctx context.Context) (*backup.Manifest, error) {
			return o.local.ReadManifest(ctx, backupID+types.EnvLocal.Suffix())
		},
		func(ctx context.Context) (*backup.Manifest, error) {
			return o.remote.ReadManifest(ctx, backupID+types.EnvRemote.Suffix())
		},
	)
	if !l.OK() && !r.OK() {
		return "", fmt.Errorf("read manifests: local: %v; remote: %v", l.Err, r.Err)
	}

	id := fmt.Sprintf("pre-restore-%d", o.now().Unix())
	o.logger.Step("Creating pre-restore backup %s", id)
	res, err := o.CreateIntegratedBackup(ctx, originalPaths(l), originalPaths(r), id)
	if err != nil {
		return "", err
	}
	if !res.Success {
		o.logger.Warning("Pre-restore backup %s is incomplete", id)
	}
	return id, nil
}

func originalPaths(out Outcome[*backup.Manifest]) []string {
	if !out.OK() || out.Value == nil {
		return []string{}
	}
	paths := make([]string, 0, len(out.Value.Files))
	for _, f := range out.Value.Files {
		paths = append(paths, f.OriginalPath)
	}
	return paths
}

// ExecuteAutoRollback restores originalBackupID over whatever is there now,
// without taking another backup first.
func (o *Orchestrator) ExecuteAutoRollback(ctx context.Context, originalBackupID, reason string) (*IntegratedRestoreResult, error) {
	o.logger.Warning("Auto-rollback to %s: %s", originalBackupID, reason)
	result, err := o.RestoreIntegratedBackup(ctx, originalBackupID, RollbackOptions())
	if err != nil {
		o.record("rollback", "", OutcomeFailure)
		return nil, &backup.Error{Kind: backup.KindRollbackFailed, Op: "rollback", BackupID: originalBackupID, Err: err}
	}
	if result.Success {
		o.record("rollback", "", OutcomeSuccess)
		o.logger.Info("Auto-rollback to %s completed", originalBackupID)
	} else {
		o.record("rollback", "", OutcomePartial)
		o.logger.Error("Auto-rollback to %s incomplete: %v", originalBackupID, result.Errors)
	}
	return result, nil
}

// EmergencyRestore restores with no pre-restore backup and no result check.
// An empty target restores both environments; a named one restores only it.
func (o *Orchestrator) EmergencyRestore(ctx context.Context, backupID string, target types.Environment) (*IntegratedRestoreResult, error) {
	o.logger.Critical("Emergency restore of %s requested (target: %s)", backupID, targetLabel(target))
	if target == "" {
		return o.restore(ctx, backupID, EmergencyOptions(), "emergency-")
	}
	if !target.Valid() {
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "emergency restore", BackupID: backupID, Err: fmt.Errorf("unknown environment %q", target)}
	}

	started := o.now()
	res, err := o.manager(target).RestoreBackup(ctx, backupID+target.Suffix())
	if err != nil {
		o.record("emergency", target, OutcomeFailure)
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Environment: target, Op: "emergency restore", BackupID: backupID, Err: err}
	}
	result := &IntegratedRestoreResult{
		RestoreID:          "emergency-" + uuid.NewString(),
		Success:            res.Success,
		TotalRestoredFiles: res.RestoredFileCount,
		Errors:             []string{},
		Warnings:           []string{},
		RestoreTime:        started,
		ProcessingTime:     o.now().Sub(started),
	}
	if res.Error != "" {
		result.Errors = append(result.Errors, res.Error)
	}
	o.setEnvResult(result, target, res)
	if res.Success {
		o.record("emergency", target, OutcomeSuccess)
	} else {
		o.record("emergency", target, OutcomePartial)
	}
	return result, nil
}

func targetLabel(target types.Environment) string {
	if target == "" {
		return "all"
	}
	return target.String()
}

func (o *Orchestrator) manager(env types.Environment) backup.Manager {
	if env == types.EnvRemote {
		return o.remote
	}
	return o.local
}

func (o *Orchestrator) setEnvResult(result *IntegratedRestoreResult, env types.Environment, res *backup.RestoreResult) {
	if env == types.EnvRemote {
		result.EnvironmentResults.Remote = res
		return
	}
	result.EnvironmentResults.Local = res
}

func (o *Orchestrator) envResult(result *IntegratedRestoreResult, env types.Environment) *backup.RestoreResult {
	if env == types.EnvRemote {
		return result.EnvironmentResults.Remote
	}
	return result.EnvironmentResults.Local
}
