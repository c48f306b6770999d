package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: store.dir is read from
// ROSTER_STORE_DIR.
const EnvPrefix = "ROSTER"

// Config represents the complete roster configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Reaper  ReaperConfig  `mapstructure:"reaper" yaml:"reaper"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// StoreConfig selects the record store backend shared by all processes
type StoreConfig struct {
	// Backend is "file" (a directory of JSON records) or "sqlite"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Dir is the store directory; relative paths resolve against the working directory
	Dir string `mapstructure:"dir" yaml:"dir"`
	// SQLitePath is the database file for the sqlite backend (default: <dir>/roster.db)
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// SessionConfig controls heartbeats and liveness decisions.
//
// StalenessThreshold trades false positives against false negatives: a
// short threshold reclaims a crashed session's locks quickly but may
// reclaim from a live session that missed heartbeats under load.
type SessionConfig struct {
	// HeartbeatInterval is how often a running session renews its record (default: 10s)
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// StalenessThreshold is the heartbeat age after which a session is considered dead (default: 30s)
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold" yaml:"staleness_threshold"`
	// ProbeProcesses checks owner PIDs on the local host in addition to heartbeat age (default: true)
	ProbeProcesses bool `mapstructure:"probe_processes" yaml:"probe_processes"`
}

// LockConfig controls lock and claim acquisition
type LockConfig struct {
	// Manifest is a YAML file listing coordinated resource names; empty disables validation
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
	// MaxAttempts bounds retries of conflicting conditional writes (default: 5)
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RetryBackoff is the base delay between attempts, growing linearly (default: 20ms)
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// WatchConfig controls the change notifier
type WatchConfig struct {
	// PollInterval bounds how long a mutation can go unreported (default: 1s)
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// UseFsnotify enables OS file notifications for the file backend (default: true)
	UseFsnotify bool `mapstructure:"use_fsnotify" yaml:"use_fsnotify"`
}

// ReaperConfig controls the background sweep that terminates dead sessions
type ReaperConfig struct {
	// Schedule is a cron spec; descriptors such as "@every 30s" are accepted
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	// Concurrency bounds parallel terminations per sweep (default: 4)
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// PruneAfter deletes terminated session records older than this; 0 keeps them
	PruneAfter time.Duration `mapstructure:"prune_after" yaml:"prune_after"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz; empty disables the server
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is active (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the size at which the log file rotates; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "file",
			Dir:        ".roster",
			SQLitePath: "", // Empty means <dir>/roster.db
		},
		Session: SessionConfig{
			HeartbeatInterval:  10 * time.Second,
			StalenessThreshold: 30 * time.Second, // 3 missed heartbeats
			ProbeProcesses:     true,
		},
		Lock: LockConfig{
			Manifest:     "",
			MaxAttempts:  5,
			RetryBackoff: 20 * time.Millisecond,
		},
		Watch: WatchConfig{
			PollInterval: time.Second,
			UseFsnotify:  true,
		},
		Reaper: ReaperConfig{
			Schedule:    "@every 30s",
			Concurrency: 4,
			PruneAfter:  0,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// SetDefaults registers default values with viper and enables ROSTER_*
// environment overrides
func SetDefaults() {
	defaults := Default()

	// Store defaults
	viper.SetDefault("store.backend", defaults.Store.Backend)
	viper.SetDefault("store.dir", defaults.Store.Dir)
	viper.SetDefault("store.sqlite_path", defaults.Store.SQLitePath)

	// Session defaults
	viper.SetDefault("session.heartbeat_interval", defaults.Session.HeartbeatInterval)
	viper.SetDefault("session.staleness_threshold", defaults.Session.StalenessThreshold)
	viper.SetDefault("session.probe_processes", defaults.Session.ProbeProcesses)

	// Lock defaults
	viper.SetDefault("lock.manifest", defaults.Lock.Manifest)
	viper.SetDefault("lock.max_attempts", defaults.Lock.MaxAttempts)
	viper.SetDefault("lock.retry_backoff", defaults.Lock.RetryBackoff)

	// Watch defaults
	viper.SetDefault("watch.poll_interval", defaults.Watch.PollInterval)
	viper.SetDefault("watch.use_fsnotify", defaults.Watch.UseFsnotify)

	// Reaper defaults
	viper.SetDefault("reaper.schedule", defaults.Reaper.Schedule)
	viper.SetDefault("reaper.concurrency", defaults.Reaper.Concurrency)
	viper.SetDefault("reaper.prune_after", defaults.Reaper.PruneAfter)

	// Metrics defaults
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ResolveStoreDir returns the absolute store directory. A leading ~ expands
// to the user's home directory and relative paths resolve against baseDir.
func (s *StoreConfig) ResolveStoreDir(baseDir string) string {
	return resolvePath(s.Dir, baseDir, ".roster")
}

// ResolveSQLitePath returns the sqlite database path, defaulting to
// roster.db inside the store directory.
func (s *StoreConfig) ResolveSQLitePath(baseDir string) string {
	if s.SQLitePath == "" {
		return filepath.Join(s.ResolveStoreDir(baseDir), "roster.db")
	}
	return resolvePath(s.SQLitePath, baseDir, "roster.db")
}

// ResolveManifest returns the manifest path, or "" when none is configured.
func (l *LockConfig) ResolveManifest(baseDir string) string {
	if l.Manifest == "" {
		return ""
	}
	return resolvePath(l.Manifest, baseDir, "")
}

func resolvePath(path, baseDir, fallback string) string {
	if path == "" {
		path = fallback
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// If relative path, resolve relative to baseDir
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "roster")
	}
	// Fall back to ~/.config/roster
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roster"
	}
	return filepath.Join(home, ".config", "roster")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the list of valid store backends
func ValidBackends() []string {
	return []string{"file", "sqlite"}
}
