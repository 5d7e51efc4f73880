// Package backup implements the per-environment backup managers: one working
// on the local filesystem and one driving a remote host through single shell
// commands. Both write the same manifest format and payload layout.
package backup

import (
	"time"

	"github.com/tis24dev/backupguard/internal/types"
)

const (
	// FormatVersion is written into every manifest.
	FormatVersion = "1.0.0"

	// ManifestName is the manifest file inside a backup directory.
	ManifestName = "metadata.json"

	// PayloadDir holds the copied files inside a backup directory.
	PayloadDir = "files"

	// ArchiveExt is appended to a remote backup id when it is archived.
	ArchiveExt = ".tar.gz"

	// DefaultMaxBackupSize caps the total size recorded in one manifest.
	DefaultMaxBackupSize int64 = 1 << 30
)

// ManifestState tells whether a backup is a directory or a single archive.
type ManifestState string

const (
	StateExpanded ManifestState = "EXPANDED"
	StateArchived ManifestState = "ARCHIVED"
)

// Manifest is the JSON document stored as <root>/<id>/metadata.json.
type Manifest struct {
	BackupID    string            `json:"backupId"`
	Timestamp   time.Time         `json:"timestamp"`
	Files       []FileRecord      `json:"files"`
	TotalSize   int64             `json:"totalSize"`
	Environment types.Environment `json:"environment"`
	Version     string            `json:"version"`
	State       ManifestState     `json:"state,omitempty"`
}

// FileRecord describes one copied source file.
type FileRecord struct {
	OriginalPath string    `json:"originalPath"`
	BackupPath   string    `json:"backupPath"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	BackupTime   time.Time `json:"backupTime"`
}

// BackupResult is returned by CreateBackup. Success is false when any
// per-file error was recorded.
type BackupResult struct {
	BackupID    string            `json:"backupId"`
	Timestamp   time.Time         `json:"timestamp"`
	Files       []FileRecord      `json:"files"`
	TotalSize   int64             `json:"totalSize"`
	Success     bool              `json:"success"`
	Errors      []string          `json:"errors"`
	Environment types.Environment `json:"environment"`
	BackupPath  string            `json:"backupPath"`
}

// RestoreResult reports a single-environment restore.
type RestoreResult struct {
	RestoreID         string            `json:"restoreId"`
	Success           bool              `json:"success"`
	RestoredFileCount int               `json:"restoredFileCount"`
	RestoredFiles     []string          `json:"restoredFiles"`
	Error             string            `json:"error,omitempty"`
	RestoreTime       time.Time         `json:"restoreTime"`
	Environment       types.Environment `json:"environment"`
}

// BackupInfo is the listing projection of a manifest.
type BackupInfo struct {
	BackupID    string            `json:"backupId"`
	CreatedAt   time.Time         `json:"createdAt"`
	FileCount   int               `json:"fileCount"`
	TotalSize   int64             `json:"totalSize"`
	Description string            `json:"description"`
	Environment types.Environment `json:"environment"`
	BackupPath  string            `json:"backupPath"`
	State       ManifestState     `json:"state"`
}

// VerifyResult reports a checksum sweep over one backup.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	CheckedFiles int      `json:"checkedFiles"`
}

// DiskUsage describes the filesystem holding a backup root. Sizes are bytes.
type DiskUsage struct {
	Available       int64   `json:"available"`
	Used            int64   `json:"used"`
	Total           int64   `json:"total"`
	UsagePercentage float64 `json:"usagePercentage"`
}
