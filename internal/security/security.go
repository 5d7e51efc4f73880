// Package security audits the permissions of files that hold secrets.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tis24dev/backupguard/internal/config"
	"github.com/tis24dev/backupguard/internal/logging"
)

type issueSeverity string

const (
	severityWarning issueSeverity = "warning"
	severityError   issueSeverity = "error"
)

type Issue struct {
	Severity issueSeverity
	Path     string
	Message  string
}

type Result struct {
	Issues []Issue
}

func (r *Result) add(sev issueSeverity, path, msg string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Path: path, Message: msg})
}

func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

func (r *Result) ErrorCount() int {
	return r.count(severityError)
}

func (r *Result) WarningCount() int {
	return r.count(severityWarning)
}

func (r *Result) count(sev issueSeverity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// File is a path that must not be readable by other users.
type File struct {
	Path        string
	MaxPerm     os.FileMode
	Description string
	Optional    bool
}

// FilesFor lists the sensitive files referenced by cfg.
func FilesFor(cfg *config.Config) []File {
	var files []File
	if cfg.ConfigPath != "" {
		files = append(files, File{Path: cfg.ConfigPath, MaxPerm: 0o640, Description: "configuration file"})
	}
	if cfg.Remote.KeyPath != "" {
		files = append(files, File{Path: cfg.Remote.KeyPath, MaxPerm: 0o600, Description: "SSH private key"})
	}
	if cfg.Remote.KnownHostsPath != "" {
		files = append(files, File{Path: cfg.Remote.KnownHostsPath, MaxPerm: 0o644, Description: "known_hosts file", Optional: true})
	}
	return files
}

// Checker audits a set of files.
type Checker struct {
	logger *logging.Logger
	uid    int
	result *Result
}

// CheckFiles audits files and logs every issue. Wrong modes and foreign
// owners are warnings; a path that is not a regular file is an error.
func CheckFiles(logger *logging.Logger, files []File) *Result {
	c := &Checker{logger: logger, uid: os.Geteuid(), result: &Result{}}
	for _, f := range files {
		c.checkFile(f)
	}
	if n := len(c.result.Issues); n > 0 {
		logger.Debug("Security audit: %d warning(s), %d error(s)", c.result.WarningCount(), c.result.ErrorCount())
	}
	return c.result
}

func (c *Checker) checkFile(f File) {
	path := filepath.Clean(f.Path)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if !f.Optional {
			c.addWarning(path, "%s %s does not exist", f.Description, path)
		}
		return
	}
	if err != nil {
		c.addWarning(path, "Cannot stat %s (%s): %v", path, f.Description, err)
		return
	}
	if !info.Mode().IsRegular() {
		c.addError(path, "%s %s is not a regular file", f.Description, path)
		return
	}

	if perm := info.Mode().Perm(); perm&^f.MaxPerm != 0 {
		c.addWarning(path, "%s %s should have permissions %o or stricter (current %o)", f.Description, path, f.MaxPerm, perm)
	}
	if owner, ok := fileOwner(info); ok && owner != c.uid && owner != 0 {
		c.addWarning(path, "%s %s is owned by uid %d, not by the current user", f.Description, path, owner)
	}
}

func (c *Checker) addWarning(path, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.result.add(severityWarning, path, msg)
	c.logger.Warning("%s", msg)
}

func (c *Checker) addError(path, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.result.add(severityError, path, msg)
	c.logger.Error("%s", msg)
}

func fileOwner(info os.FileInfo) (int, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return int(stat.Uid), true
}
