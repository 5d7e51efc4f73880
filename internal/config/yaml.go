package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout. Every field maps onto one env-file key so
// both formats share a single parse path.
type fileConfig struct {
	Local struct {
		BackupDir    string `yaml:"backup_dir"`
		FSTimeout    string `yaml:"fs_timeout"`
		LockPath     string `yaml:"lock_path"`
		MinFreeSpace string `yaml:"min_free_space"`
	} `yaml:"local"`
	Remote struct {
		Host       string `yaml:"host"`
		User       string `yaml:"user"`
		KeyPath    string `yaml:"key_path"`
		Port       int    `yaml:"port"`
		Timeout    string `yaml:"timeout"`
		Transport  string `yaml:"transport"`
		KnownHosts string `yaml:"known_hosts"`
		BackupDir  string `yaml:"backup_dir"`
		RateLimit  string `yaml:"rate_limit"`
	} `yaml:"remote"`
	MaxBackupSize string `yaml:"max_backup_size"`
	RetentionDays *int   `yaml:"retention_days"`
	Logging       struct {
		Level string `yaml:"level"`
		Color *bool  `yaml:"color"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	JournalPath string `yaml:"journal_path"`
	Webhook     struct {
		URL        string `yaml:"url"`
		Token      string `yaml:"token"`
		Secret     string `yaml:"secret"`
		Timeout    string `yaml:"timeout"`
		Retries    *int   `yaml:"retries"`
		RetryDelay string `yaml:"retry_delay"`
	} `yaml:"webhook"`
}

func parseYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	raw := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			raw[key] = value
		}
	}
	set("LOCAL_BACKUP_DIR", fc.Local.BackupDir)
	set("LOCAL_FS_TIMEOUT", fc.Local.FSTimeout)
	set("LOCK_PATH", fc.Local.LockPath)
	set("MIN_FREE_SPACE", fc.Local.MinFreeSpace)
	set("REMOTE_HOST", fc.Remote.Host)
	set("REMOTE_USER", fc.Remote.User)
	set("REMOTE_KEY_PATH", fc.Remote.KeyPath)
	if fc.Remote.Port != 0 {
		set("REMOTE_PORT", strconv.Itoa(fc.Remote.Port))
	}
	set("REMOTE_TIMEOUT", fc.Remote.Timeout)
	set("REMOTE_TRANSPORT", fc.Remote.Transport)
	set("REMOTE_KNOWN_HOSTS", fc.Remote.KnownHosts)
	set("REMOTE_BACKUP_DIR", fc.Remote.BackupDir)
	set("REMOTE_RATE_LIMIT", fc.Remote.RateLimit)
	set("MAX_BACKUP_SIZE", fc.MaxBackupSize)
	if fc.RetentionDays != nil {
		set("RETENTION_DAYS", strconv.Itoa(*fc.RetentionDays))
	}
	set("LOG_LEVEL", fc.Logging.Level)
	if fc.Logging.Color != nil {
		set("USE_COLOR", strconv.FormatBool(*fc.Logging.Color))
	}
	set("LOG_FILE", fc.Logging.File)
	if fc.Metrics.Enabled != nil {
		set("METRICS_ENABLED", strconv.FormatBool(*fc.Metrics.Enabled))
	}
	set("METRICS_PATH", fc.Metrics.Path)
	set("JOURNAL_PATH", fc.JournalPath)
	set("WEBHOOK_URL", fc.Webhook.URL)
	set("WEBHOOK_TOKEN", fc.Webhook.Token)
	set("WEBHOOK_SECRET", fc.Webhook.Secret)
	set("WEBHOOK_TIMEOUT", fc.Webhook.Timeout)
	if fc.Webhook.Retries != nil {
		set("WEBHOOK_RETRIES", strconv.Itoa(*fc.Webhook.Retries))
	}
	set("WEBHOOK_RETRY_DELAY", fc.Webhook.RetryDelay)
	return raw, nil
}
