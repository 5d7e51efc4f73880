package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/remote"
	"github.com/tis24dev/backupguard/internal/types"
	"github.com/tis24dev/backupguard/pkg/utils"
)

// Defaults applied when a key is absent.
const (
	DefaultLocalBackupDir  = "development/temp/backups"
	DefaultRemoteBackupDir = "/home/ubuntu/backups"
	DefaultRetentionDays   = 7
	DefaultLocalFSTimeout  = 10 * time.Second
	DefaultMetricsPath     = "/var/lib/prometheus/node-exporter"

	DefaultWebhookTimeout    = 10 * time.Second
	DefaultWebhookRetries    = 2
	DefaultWebhookRetryDelay = 2 * time.Second
)

// envKeys lists every key that may be overridden from the process environment.
var envKeys = []string{
	"LOCAL_BACKUP_DIR", "REMOTE_BACKUP_DIR", "MAX_BACKUP_SIZE",
	"REMOTE_HOST", "REMOTE_USER", "REMOTE_KEY_PATH", "REMOTE_PORT",
	"REMOTE_TIMEOUT", "REMOTE_TRANSPORT", "REMOTE_KNOWN_HOSTS", "REMOTE_RATE_LIMIT",
	"RETENTION_DAYS", "LOCAL_FS_TIMEOUT", "LOCK_PATH", "MIN_FREE_SPACE",
	"LOG_LEVEL", "USE_COLOR", "LOG_FILE",
	"METRICS_ENABLED", "METRICS_PATH",
	"JOURNAL_PATH",
	"WEBHOOK_URL", "WEBHOOK_TOKEN", "WEBHOOK_SECRET",
	"WEBHOOK_TIMEOUT", "WEBHOOK_RETRIES", "WEBHOOK_RETRY_DELAY",
}

// Config holds every setting of the backup tool.
type Config struct {
	ConfigPath string

	LocalBackupDir  string
	RemoteBackupDir string
	MaxBackupSize   int64
	RetentionDays   int
	LocalFSTimeout  time.Duration
	LockPath        string
	MinFreeSpace    int64

	Remote remote.Config

	LogLevel types.LogLevel
	UseColor bool
	LogFile  string

	MetricsEnabled bool
	MetricsPath    string

	JournalPath string

	Webhook WebhookConfig

	raw map[string]string
}

// WebhookConfig configures the end-of-run notification. An empty URL
// disables it.
type WebhookConfig struct {
	URL        string
	Token      string // sent as a bearer token
	Secret     string // HMAC-SHA256 key for the X-Signature header
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Enabled reports whether a webhook endpoint is configured.
func (w WebhookConfig) Enabled() bool {
	return strings.TrimSpace(w.URL) != ""
}

// LoadConfig reads configPath (KEY=VALUE env file, or YAML when the name
// ends in .yaml/.yml), applies environment overrides and parses the result.
// An empty path loads defaults plus the environment.
func LoadConfig(configPath string) (*Config, error) {
	raw := map[string]string{}
	if configPath != "" {
		if !utils.FileExists(configPath) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		var err error
		if isYAML(configPath) {
			raw, err = parseYAMLFile(configPath)
		} else {
			raw, err = parseEnvFile(configPath)
		}
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        raw,
	}

	// Environment variables take precedence over the file
	cfg.loadEnvOverrides()

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) loadEnvOverrides() {
	for _, key := range envKeys {
		if envValue := os.Getenv(key); envValue != "" {
			c.raw[key] = envValue
		}
	}
}

func (c *Config) parse() error {
	var errs []error

	c.LocalBackupDir = c.getString("LOCAL_BACKUP_DIR", DefaultLocalBackupDir)
	c.RemoteBackupDir = c.getString("REMOTE_BACKUP_DIR", DefaultRemoteBackupDir)

	c.MaxBackupSize = backup.DefaultMaxBackupSize
	if val, ok := c.raw["MAX_BACKUP_SIZE"]; ok && strings.TrimSpace(val) != "" {
		size, err := utils.ParseSize(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_BACKUP_SIZE: %w", err))
		} else if size > 0 {
			c.MaxBackupSize = size
		}
	}

	c.RetentionDays = c.getInt("RETENTION_DAYS", DefaultRetentionDays)
	c.LocalFSTimeout = c.getSeconds("LOCAL_FS_TIMEOUT", DefaultLocalFSTimeout)
	c.LockPath = c.getString("LOCK_PATH", "")
	if val, ok := c.raw["MIN_FREE_SPACE"]; ok && strings.TrimSpace(val) != "" {
		size, err := utils.ParseSize(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("MIN_FREE_SPACE: %w", err))
		} else {
			c.MinFreeSpace = size
		}
	}

	c.Remote = remote.Config{
		Host:           c.getString("REMOTE_HOST", ""),
		User:           c.getString("REMOTE_USER", ""),
		KeyPath:        c.getString("REMOTE_KEY_PATH", ""),
		Port:           c.getInt("REMOTE_PORT", remote.DefaultPort),
		Timeout:        c.getSeconds("REMOTE_TIMEOUT", remote.DefaultTimeout),
		KnownHostsPath: c.getString("REMOTE_KNOWN_HOSTS", ""),
		Transport:      c.getString("REMOTE_TRANSPORT", remote.TransportNative),
	}.WithDefaults()
	if val, ok := c.raw["REMOTE_RATE_LIMIT"]; ok && strings.TrimSpace(val) != "" {
		perSecond, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("REMOTE_RATE_LIMIT: %w", err))
		} else {
			c.Remote.CommandsPerSecond = perSecond
		}
	}

	level, err := c.getLogLevel("LOG_LEVEL", types.LogLevelInfo)
	if err != nil {
		errs = append(errs, err)
	}
	c.LogLevel = level
	c.UseColor = c.getBool("USE_COLOR", true)
	c.LogFile = c.getString("LOG_FILE", "")

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = c.getString("METRICS_PATH", DefaultMetricsPath)

	c.JournalPath = c.getString("JOURNAL_PATH", "")

	c.Webhook = WebhookConfig{
		URL:        c.getString("WEBHOOK_URL", ""),
		Token:      c.getString("WEBHOOK_TOKEN", ""),
		Secret:     c.getString("WEBHOOK_SECRET", ""),
		Timeout:    c.getSeconds("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),
		MaxRetries: c.getInt("WEBHOOK_RETRIES", DefaultWebhookRetries),
		RetryDelay: c.getSeconds("WEBHOOK_RETRY_DELAY", DefaultWebhookRetryDelay),
	}

	return errors.Join(errs...)
}

// Validate reports every setting that prevents the tool from running.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LocalBackupDir) == "" {
		errs = append(errs, errors.New("local backup directory is required"))
	}
	if strings.TrimSpace(c.RemoteBackupDir) == "" {
		errs = append(errs, errors.New("remote backup directory is required"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days must not be negative, got %d", c.RetentionDays))
	}
	if c.MaxBackupSize <= 0 {
		errs = append(errs, fmt.Errorf("max backup size must be positive, got %d", c.MaxBackupSize))
	}
	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Webhook.Enabled() {
		u, err := url.Parse(c.Webhook.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("webhook url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("webhook url must be http or https, got %q", u.Scheme))
		}
		if c.Webhook.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("webhook retries must not be negative, got %d", c.Webhook.MaxRetries))
		}
	}
	return errors.Join(errs...)
}

// LocalOptions returns the local manager options.
func (c *Config) LocalOptions() backup.Options {
	return backup.Options{Root: c.LocalBackupDir, MaxBackupSize: c.MaxBackupSize}
}

// RemoteOptions returns the remote manager options.
func (c *Config) RemoteOptions() backup.Options {
	return backup.Options{Root: c.RemoteBackupDir, MaxBackupSize: c.MaxBackupSize}
}

// Get returns a raw configuration value.
func (c *Config) Get(key string) (string, bool) {
	val, ok := c.raw[key]
	return val, ok
}

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok && val != "" {
		return expandEnvVars(val)
	}
	return defaultValue
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return utils.ParseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getSeconds reads a whole number of seconds, or a Go duration string.
func (c *Config) getSeconds(key string, defaultValue time.Duration) time.Duration {
	val, ok := c.raw[key]
	if !ok || strings.TrimSpace(val) == "" {
		return defaultValue
	}
	val = strings.TrimSpace(val)
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) (types.LogLevel, error) {
	val, ok := c.raw[key]
	if !ok || strings.TrimSpace(val) == "" {
		return defaultValue, nil
	}
	level, err := ParseLogLevel(val)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return level, nil
}

// ParseLogLevel accepts a numeric level (0-5) or its name.
func ParseLogLevel(s string) (types.LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(types.LogLevelNone) || n > int(types.LogLevelDebug) {
			return types.LogLevelInfo, fmt.Errorf("log level %d out of range", n)
		}
		return types.LogLevel(n), nil
	}
	switch s {
	case "debug":
		return types.LogLevelDebug, nil
	case "info":
		return types.LogLevelInfo, nil
	case "warning", "warn":
		return types.LogLevelWarning, nil
	case "error":
		return types.LogLevelError, nil
	case "critical":
		return types.LogLevelCritical, nil
	case "none", "off":
		return types.LogLevelNone, nil
	}
	return types.LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// expandEnvVars expands ${VAR} and $VAR references from the process environment.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
