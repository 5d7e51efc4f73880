package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a manifest. A missing state reads as EXPANDED.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if strings.TrimSpace(m.BackupID) == "" {
		return nil, errors.New("manifest has no backupId")
	}
	if m.State == "" {
		m.State = StateExpanded
	}
	if m.Files == nil {
		m.Files = []FileRecord{}
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return DecodeManifest(data)
}

// Info projects the manifest into a listing entry.
func (m *Manifest) Info(backupPath string) BackupInfo {
	return BackupInfo{
		BackupID:    m.BackupID,
		CreatedAt:   m.Timestamp,
		FileCount:   len(m.Files),
		TotalSize:   m.TotalSize,
		Description: describe(m),
		Environment: m.Environment,
		BackupPath:  backupPath,
		State:       m.State,
	}
}

func describe(m *Manifest) string {
	noun := "files"
	if len(m.Files) == 1 {
		noun = "file"
	}
	desc := fmt.Sprintf("%s backup (%d %s)", cases.Title(language.English).String(m.Environment.String()), len(m.Files), noun)
	if m.State == StateArchived {
		desc += ", archived"
	}
	return desc
}

// payloadName returns the stored file name for a source path. Only the base
// name is kept, so two sources with the same base name collide.
func payloadName(originalPath string) string {
	return path.Base(originalPath)
}

// duplicateBasenames returns base names that appear more than once in files.
func duplicateBasenames(files []string) []string {
	seen := make(map[string]int, len(files))
	var dups []string
	for _, f := range files {
		name := payloadName(f)
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
	}
	return dups
}
