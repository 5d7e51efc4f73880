// Package journal keeps an on-disk record of integrated backups that have
// started but not yet completed, so that a crash between the two
// per-environment creates can be cleaned up later.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tis24dev/backupguard/internal/logging"
)

const keyPrefix = "pending:"

// Entry describes one in-flight integrated backup.
type Entry struct {
	BackupID  string    `json:"backupId"`
	LocalID   string    `json:"localId"`
	RemoteID  string    `json:"remoteId"`
	StartedAt time.Time `json:"startedAt"`
}

// Journal is a badger-backed set of pending entries keyed by backup id.
type Journal struct {
	db     *badger.DB
	logger *logging.Logger
}

// Open opens (or creates) the journal stored in dir.
func Open(dir string, logger *logging.Logger) (*Journal, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("journal directory is required")
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a journal that lives only for the life of the process.
func OpenInMemory(logger *logging.Logger) (*Journal, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	logger = logger.WithPrefix("journal")
	db, err := badger.Open(opts.WithLogger(badgerLogger{logger}))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Begin records entry as pending. A second Begin for the same id replaces
// the earlier entry.
func (j *Journal) Begin(entry Entry) error {
	if entry.BackupID == "" {
		return errors.New("journal entry needs a backup id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.BackupID), data)
	})
	if err != nil {
		return fmt.Errorf("journal begin %s: %w", entry.BackupID, err)
	}
	j.logger.Debug("Pending entry recorded for %s", entry.BackupID)
	return nil
}

// Complete removes the pending entry for backupID. Completing an unknown id
// is not an error.
func (j *Journal) Complete(backupID string) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(backupID))
	})
	if err != nil {
		return fmt.Errorf("journal complete %s: %w", backupID, err)
	}
	j.logger.Debug("Pending entry cleared for %s", backupID)
	return nil
}

// Pending returns every pending entry, oldest first.
func (j *Journal) Pending() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					j.logger.Warning("Skipping unreadable journal entry %s: %v", item.Key(), err)
					return nil
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal pending: %w", err)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].StartedAt.Before(entries[b].StartedAt)
	})
	return entries, nil
}

// Close flushes and closes the underlying store.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func key(backupID string) []byte {
	return []byte(keyPrefix + backupID)
}

// badgerLogger routes badger's internal messages into the project logger.
// Badger's info chatter is demoted to debug.
type badgerLogger struct {
	l *logging.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warning(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimRight(format, "\n"), args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimRight(format, "\n"), args...)
}
