// Package checks runs the local preflight checks of a mutating command and
// holds the run lock that keeps two invocations from working on the same
// backup root at once.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/backupguard/internal/logging"
	"github.com/tis24dev/backupguard/internal/safefs"
	"github.com/tis24dev/backupguard/pkg/utils"
)

// LockFileName is the lock created in the backup root when no explicit
// path is configured.
const LockFileName = ".backupguard.lock"

// DefaultMaxLockAge is how old a lock must be before it is treated as stale.
const DefaultMaxLockAge = 6 * time.Hour

var (
	osStat     = os.Stat
	osRemove   = os.Remove
	osOpenFile = os.OpenFile
	osMkdirAll = os.MkdirAll
	statfs     = safefs.Statfs
	syncFile   = func(f *os.File) error { return f.Sync() }
	// processAlive reports whether pid still runs on this host.
	processAlive = func(pid int) bool {
		return utils.FileExists(filepath.Join("/proc", strconv.Itoa(pid)))
	}
)

// CheckerConfig holds the settings of the preflight checks.
type CheckerConfig struct {
	BackupPath   string
	LockFilePath string
	MinFreeBytes int64
	MaxLockAge   time.Duration
	FSTimeout    time.Duration
}

// Validate fills defaults and rejects impossible values.
func (c *CheckerConfig) Validate() error {
	if strings.TrimSpace(c.BackupPath) == "" {
		return errors.New("backup path cannot be empty")
	}
	if c.LockFilePath == "" {
		c.LockFilePath = filepath.Join(c.BackupPath, LockFileName)
	}
	if c.MinFreeBytes < 0 {
		return errors.New("minimum free space cannot be negative")
	}
	if c.MaxLockAge == 0 {
		c.MaxLockAge = DefaultMaxLockAge
	}
	if c.MaxLockAge < 0 {
		return errors.New("max lock age must be positive")
	}
	return nil
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// Checker runs the checks and owns the lock once acquired.
type Checker struct {
	logger *logging.Logger
	config *CheckerConfig
	locked bool
}

// NewChecker creates a checker.
func NewChecker(logger *logging.Logger, config *CheckerConfig) *Checker {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Checker{logger: logger.WithPrefix("checks"), config: config}
}

// RunAllChecks validates the config, then checks the backup directory, the
// free space and finally takes the lock. It stops at the first failure.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checker configuration: %w", err)
	}

	var results []CheckResult
	for _, check := range []func(context.Context) CheckResult{
		c.CheckDirectories,
		c.CheckDiskSpace,
		c.CheckLockFile,
	} {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := check(ctx)
		results = append(results, res)
		if !res.Passed {
			return results, fmt.Errorf("%s check failed: %s", strings.ToLower(res.Name), res.Message)
		}
	}
	c.logger.Debug("All preflight checks passed")
	return results, nil
}

// CheckDirectories makes sure the backup root exists.
func (c *Checker) CheckDirectories(context.Context) CheckResult {
	result := CheckResult{Name: "Directories"}
	if err := osMkdirAll(c.config.BackupPath, 0o755); err != nil {
		result.Error = fmt.Errorf("create %s: %w", c.config.BackupPath, err)
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = c.config.BackupPath + " present"
	return result
}

// CheckDiskSpace compares the free space of the backup root with
// MinFreeBytes. A zero minimum disables the check.
func (c *Checker) CheckDiskSpace(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Disk Space", Passed: true, Message: "minimum free space not configured"}
	if c.config.MinFreeBytes <= 0 {
		return result
	}

	st, err := statfs(ctx, c.config.BackupPath, c.config.FSTimeout)
	if err != nil {
		result.Passed = false
		result.Error = fmt.Errorf("statfs %s: %w", c.config.BackupPath, err)
		result.Message = result.Error.Error()
		return result
	}
	available := int64(st.Bavail) * int64(st.Bsize)
	c.logger.Debug("%s: %s available, %s required",
		c.config.BackupPath, utils.FormatBytes(available), utils.FormatBytes(c.config.MinFreeBytes))
	if available < c.config.MinFreeBytes {
		result.Passed = false
		result.Message = fmt.Sprintf("%s available on %s, %s required",
			utils.FormatBytes(available), c.config.BackupPath, utils.FormatBytes(c.config.MinFreeBytes))
		return result
	}
	result.Message = utils.FormatBytes(available) + " available"
	return result
}

// CheckLockFile takes the run lock. A lock older than MaxLockAge, or one
// whose owner process is gone, is removed first.
func (c *Checker) CheckLockFile(context.Context) CheckResult {
	result := CheckResult{Name: "Lock File"}
	lockPath := c.config.LockFilePath

	if info, err := osStat(lockPath); err == nil {
		age := time.Since(info.ModTime())
		pid := lockOwner(lockPath)
		switch {
		case age > c.config.MaxLockAge:
			c.logger.Warning("Removing stale lock file %s (age %s)", lockPath, age.Round(time.Second))
		case pid > 0 && pid != os.Getpid() && !processAlive(pid):
			c.logger.Warning("Removing lock file %s left by exited process %d", lockPath, pid)
		default:
			result.Message = fmt.Sprintf("another backupguard run holds %s (pid %d, age %s)", lockPath, pid, age.Round(time.Second))
			return result
		}
		if err := osRemove(lockPath); err != nil && !os.IsNotExist(err) {
			result.Error = fmt.Errorf("remove stale lock: %w", err)
			result.Message = result.Error.Error()
			return result
		}
	}

	f, err := osOpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			result.Message = "another backupguard run acquired the lock"
			return result
		}
		result.Error = fmt.Errorf("create lock file: %w", err)
		result.Message = result.Error.Error()
		return result
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		result.Error = fmt.Errorf("write lock file: %w", err)
		result.Message = result.Error.Error()
		_ = osRemove(lockPath)
		return result
	}
	if err := syncFile(f); err != nil {
		c.logger.Warning("Failed to sync lock file %s: %v", lockPath, err)
	}

	c.locked = true
	result.Passed = true
	result.Message = "lock acquired"
	c.logger.Debug("Lock file %s acquired", lockPath)
	return result
}

// ReleaseLock removes the lock taken by CheckLockFile. It is a no-op when
// the lock was never acquired.
func (c *Checker) ReleaseLock() error {
	if c == nil || !c.locked {
		return nil
	}
	if err := osRemove(c.config.LockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	c.locked = false
	c.logger.Debug("Lock file %s released", c.config.LockFilePath)
	return nil
}

// lockOwner returns the pid recorded in a lock file, or 0.
func lockOwner(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return pid
			}
		}
	}
	return 0
}
