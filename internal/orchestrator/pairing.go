package orchestrator

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/types"
)

// ListIntegratedBackups lists both environments and pairs entries that share
// a base id. Either listing failing fails the call.
func (o *Orchestrator) ListIntegratedBackups(ctx context.Context) (*IntegratedListing, error) {
	l, r := settleBoth(ctx,
		func(ctx context.Context) ([]backup.BackupInfo, error) { return o.local.ListBackups(ctx) },
		func(ctx context.Context) ([]backup.BackupInfo, error) { return o.remote.ListBackups(ctx) },
	)
	if !l.OK() || !r.OK() {
		err := errors.Join(l.Err, r.Err)
		o.logger.Error("Listing backups failed: %v", err)
		return nil, &backup.Error{Kind: backup.KindBackupFailed, Op: "list integrated", Err: err}
	}
	listing := &IntegratedListing{
		Local:  nonNil(l.Value),
		Remote: nonNil(r.Value),
	}
	listing.Paired = PairBackups(listing.Local, listing.Remote)
	o.logger.Debug("Listed %d local, %d remote, %d paired backups", len(listing.Local), len(listing.Remote), len(listing.Paired))
	return listing, nil
}

type pairKey struct {
	base     string
	env      types.Environment
	suffixed bool
}

// PairBackups groups per-environment listings by base id. An id without the
// environment suffix is never paired and stands alone as incomplete. The
// result is newest first by the local timestamp, falling back to the remote
// one for remote-only pairs.
func PairBackups(local, remote []backup.BackupInfo) []PairedBackup {
	index := map[pairKey]int{}
	var pairs []PairedBackup

	slot := func(id string, env types.Environment) *PairedBackup {
		base, suffixed := splitEnvSuffix(id, env)
		k := pairKey{base: base, suffixed: suffixed}
		if !suffixed {
			k.env = env
		}
		if i, ok := index[k]; ok {
			return &pairs[i]
		}
		pairs = append(pairs, PairedBackup{BackupID: base})
		index[k] = len(pairs) - 1
		return &pairs[len(pairs)-1]
	}

	for i := range local {
		info := local[i]
		slot(info.BackupID, types.EnvLocal).LocalBackup = &info
	}
	for i := range remote {
		info := remote[i]
		slot(info.BackupID, types.EnvRemote).RemoteBackup = &info
	}

	for k, i := range index {
		p := &pairs[i]
		p.Complete = k.suffixed && p.LocalBackup != nil && p.RemoteBackup != nil
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		ti, tj := pairs[i].CreatedAt(), pairs[j].CreatedAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return pairs[i].BackupID < pairs[j].BackupID
	})
	if pairs == nil {
		pairs = []PairedBackup{}
	}
	return pairs
}

func splitEnvSuffix(id string, env types.Environment) (string, bool) {
	if base, ok := strings.CutSuffix(id, env.Suffix()); ok && base != "" {
		return base, true
	}
	return id, false
}

func nonNil(infos []backup.BackupInfo) []backup.BackupInfo {
	if infos == nil {
		return []backup.BackupInfo{}
	}
	return infos
}
