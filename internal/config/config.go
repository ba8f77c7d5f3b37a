// Package config loads audiosync settings from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
//
// Environment names used by earlier deployments (STORAGE_DIR, DB_HOST, ...)
// are bound as-is; everything else is reachable as AUDIOSYNC_<KEY> with dots
// replaced by underscores, e.g. AUDIOSYNC_WORKER_CONCURRENCY.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sciber-ai/audiosync/internal/sqldb"
)

// EnvPrefix is the prefix for environment overrides of any key.
const EnvPrefix = "AUDIOSYNC"

// Config is the full process configuration.
type Config struct {
	StorageDir string          `mapstructure:"storage_dir" yaml:"storage_dir" json:"storage_dir"`
	DB         DBConfig        `mapstructure:"db" yaml:"db" json:"db"`
	Watcher    WatcherConfig   `mapstructure:"watcher" yaml:"watcher" json:"watcher"`
	Worker     WorkerConfig    `mapstructure:"worker" yaml:"worker" json:"worker"`
	Pipeline   PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Dashboard  DashboardConfig `mapstructure:"dashboard" yaml:"dashboard" json:"dashboard"`
	Log        LogConfig       `mapstructure:"log" yaml:"log" json:"log"`
}

// DBConfig selects the metadata store. The work queue lives in the same
// database.
type DBConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver" json:"driver"`
	Path         string `mapstructure:"path" yaml:"path" json:"path"`
	Host         string `mapstructure:"host" yaml:"host" json:"host"`
	Port         int    `mapstructure:"port" yaml:"port" json:"port"`
	User         string `mapstructure:"user" yaml:"user" json:"user"`
	Password     string `mapstructure:"password" yaml:"-" json:"-"`
	Name         string `mapstructure:"name" yaml:"name" json:"name"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode" json:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
}

// WatcherConfig configures the reconciler.
type WatcherConfig struct {
	UsePolling    bool          `mapstructure:"use_polling" yaml:"use_polling" json:"use_polling"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	SyncInterval  time.Duration `mapstructure:"sync_interval" yaml:"sync_interval" json:"sync_interval"`
	InProcessSync bool          `mapstructure:"in_process_sync" yaml:"in_process_sync" json:"in_process_sync"`
	OwnerID       int64         `mapstructure:"owner_id" yaml:"owner_id" json:"owner_id"`
}

// WorkerConfig configures the worker pool and admission control.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after" yaml:"stale_after" json:"stale_after"`
	JobTimeout      time.Duration `mapstructure:"job_timeout" yaml:"job_timeout" json:"job_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	MinFreeMemoryMB uint64        `mapstructure:"min_free_memory_mb" yaml:"min_free_memory_mb" json:"min_free_memory_mb"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
}

// PipelineConfig selects the stage implementations. Without an API key the
// translation and summary stages are stubs.
type PipelineConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key" yaml:"-" json:"-"`
	Model           string `mapstructure:"model" yaml:"model" json:"model"`
	MaxTokens       int64  `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
}

// DashboardConfig configures the HTTP service.
type DashboardConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
}

// LogConfig configures the process log writer.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" json:"compress"`
	Quiet      bool   `mapstructure:"quiet" yaml:"quiet" json:"quiet"`
}

// legacyEnv maps keys to the environment names of earlier deployments.
var legacyEnv = map[string]string{
	"storage_dir":                "STORAGE_DIR",
	"watcher.use_polling":        "WATCHER_USE_POLLING",
	"watcher.in_process_sync":    "ENABLE_IN_PROCESS_WATCHER_SYNC",
	"db.host":                    "DB_HOST",
	"db.port":                    "DB_PORT",
	"db.user":                    "DB_USER",
	"db.password":                "DB_PASSWORD",
	"db.name":                    "DB_NAME",
	"pipeline.anthropic_api_key": "ANTHROPIC_API_KEY",
}

// syncIntervalEnv is given in seconds rather than as a duration. It replaces
// the default, so a config file, AUDIOSYNC_WATCHER_SYNC_INTERVAL or a flag
// still win over it.
const syncIntervalEnv = "WATCHER_SYNC_INTERVAL_SECONDS"

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage_dir", "storage")

	v.SetDefault("db.driver", string(sqldb.SQLite))
	v.SetDefault("db.path", "audiosync.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "audiosync")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 25)

	v.SetDefault("watcher.use_polling", false)
	v.SetDefault("watcher.poll_interval", 2*time.Second)
	v.SetDefault("watcher.debounce", 1500*time.Millisecond)
	v.SetDefault("watcher.sync_interval", 30*time.Second)
	v.SetDefault("watcher.in_process_sync", false)
	v.SetDefault("watcher.owner_id", 1)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("worker.stale_after", 30*time.Minute)
	v.SetDefault("worker.job_timeout", time.Duration(0))
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.min_free_memory_mb", 0)
	v.SetDefault("worker.retry_delay", 30*time.Second)

	v.SetDefault("pipeline.anthropic_api_key", "")
	v.SetDefault("pipeline.model", "")
	v.SetDefault("pipeline.max_tokens", 0)

	v.SetDefault("dashboard.addr", ":8080")
	v.SetDefault("dashboard.poll_interval", 2*time.Second)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)
}

// NewViper returns a viper instance with defaults and environment bindings.
// configFile, when set, is read explicitly; otherwise audiosync.{yaml,toml}
// is searched in the working directory and $HOME/.config/audiosync.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// The prefixed name wins when both are set.
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if raw, ok := os.LookupEnv(syncIntervalEnv); ok {
		secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", syncIntervalEnv, raw, err)
		}
		v.SetDefault("watcher.sync_interval", time.Duration(secs*float64(time.Second)))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("audiosync")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "audiosync"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StorageDir) == "" {
		return fmt.Errorf("storage_dir cannot be empty")
	}

	dialect, err := sqldb.ParseDialect(c.DB.Driver)
	if err != nil {
		return err
	}
	switch dialect {
	case sqldb.SQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path cannot be empty for sqlite")
		}
	case sqldb.Postgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("db.host and db.name are required for postgres")
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			return fmt.Errorf("db.port %d out of range", c.DB.Port)
		}
	}

	positive := map[string]time.Duration{
		"watcher.poll_interval":   c.Watcher.PollInterval,
		"watcher.debounce":        c.Watcher.Debounce,
		"watcher.sync_interval":   c.Watcher.SyncInterval,
		"worker.poll_interval":    c.Worker.PollInterval,
		"worker.stale_after":      c.Worker.StaleAfter,
		"worker.retry_delay":      c.Worker.RetryDelay,
		"dashboard.poll_interval": c.Dashboard.PollInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker.job_timeout cannot be negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Watcher.OwnerID <= 0 {
		return fmt.Errorf("watcher.owner_id must be positive")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings cannot be negative")
	}
	if c.Log.Quiet && c.Log.File == "" {
		return fmt.Errorf("log.quiet requires log.file, otherwise all output is discarded")
	}
	return nil
}

// Dialect returns the parsed database driver. Call after Validate.
func (c *Config) Dialect() sqldb.Dialect {
	d, _ := sqldb.ParseDialect(c.DB.Driver)
	return d
}

// PostgresDSN builds a postgres:// URL from the DB settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:   "/" + c.DB.Name,
	}
	if c.DB.Password != "" {
		u.User = url.UserPassword(c.DB.User, c.DB.Password)
	} else if c.DB.User != "" {
		u.User = url.User(c.DB.User)
	}
	if c.DB.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.DB.SSLMode}}.Encode()
	}
	return u.String()
}

// DBOptions returns the sqldb options for the configured database.
func (c *Config) DBOptions() sqldb.Options {
	opts := sqldb.Options{
		Dialect:      c.Dialect(),
		MaxOpenConns: c.DB.MaxOpenConns,
	}
	if opts.Dialect == sqldb.Postgres {
		opts.DSN = c.PostgresDSN()
	} else {
		opts.Path = c.DB.Path
	}
	return opts
}
