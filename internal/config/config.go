// Package config loads cutburn's settings.
//
// Sources, lowest precedence first: built-in defaults, the config file
// ($HOME/.cutburn/config.yaml, ./config.yaml or an explicit path), a .env
// file, and CUTBURN_* environment variables. Nested keys map to env vars by
// replacing dots with underscores: sync.backoff_base is CUTBURN_SYNC_BACKOFF_BASE.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/schema"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CUTBURN"

// Config is the validated configuration.
type Config struct {
	UserID       string             `mapstructure:"user_id" json:"user_id" yaml:"user_id" toml:"user_id"`
	DataDir      string             `mapstructure:"data_dir" json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	Remote       RemoteConfig       `mapstructure:"remote" json:"remote" yaml:"remote" toml:"remote"`
	Sync         SyncConfig         `mapstructure:"sync" json:"sync" yaml:"sync" toml:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" json:"connectivity" yaml:"connectivity" toml:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard" json:"dashboard" yaml:"dashboard" toml:"dashboard"`
	Log          LogConfig          `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" toml:"driver"`
	DSN      string `mapstructure:"dsn" json:"-" yaml:"-" toml:"-"`
	MaxConns int32  `mapstructure:"max_conns" json:"max_conns" yaml:"max_conns" toml:"max_conns"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	BackoffBase    time.Duration `mapstructure:"backoff_base" json:"backoff_base" yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" json:"backoff_max" yaml:"backoff_max" toml:"backoff_max"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout" yaml:"attempt_timeout" toml:"attempt_timeout"`
}

// ConnectivityConfig tunes the reachability prober.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval" yaml:"probe_interval" toml:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
}

// DashboardConfig configures the status feed.
type DashboardConfig struct {
	Host           string   `mapstructure:"host" json:"host" yaml:"host" toml:"host"`
	Port           int      `mapstructure:"port" json:"port" yaml:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// LogConfig selects the log sink. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file" json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" json:"compress" yaml:"compress" toml:"compress"`
}

// Options controls where Load looks.
type Options struct {
	// ConfigFile is an explicit config path; empty searches the defaults.
	ConfigFile string

	// EnvFile is a dotenv file; empty tries ./.env. A missing file is ignored.
	EnvFile string

	// Overrides take precedence over every other source, e.g. command-line
	// flags keyed by config key ("user_id").
	Overrides map[string]any

	// Logger for loader warnings (default: stderr logger)
	Logger *log.Logger
}

// Loader reads configuration and can watch the config file.
type Loader struct {
	v      *viper.Viper
	opts   Options
	logger *log.Logger
}

// NewLoader prepares a loader with defaults and env bindings.
func NewLoader(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cutburn"))
		}
		v.AddConfigPath(".")
	}

	return &Loader{v: v, opts: opts, logger: opts.Logger}
}

// Load reads every source and returns the validated configuration.
//
// Example:
//
//	cfg, err := config.Load(config.Options{ConfigFile: cfgFile})
//	if err != nil {
//	    return err
//	}
func Load(opts Options) (*Config, error) {
	return NewLoader(opts).Load()
}

// Load reads every source and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || l.opts.ConfigFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

// ConfigFileUsed returns the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the re-read configuration whenever the config file
// changes. It fails when no config file is in use.
func (l *Loader) Watch(fn func(cfg *Config, err error)) error {
	if l.v.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file to watch")
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.logger.Printf("Config file changed: %s", e.Name)
		fn(l.decode())
	})
	l.v.WatchConfig()
	return nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFile loads the dotenv file into the process environment. Variables
// already set are not overridden.
func (l *Loader) loadEnvFile() error {
	path := l.opts.EnvFile
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	dataDir := ".cutburn"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".cutburn")
	}

	v.SetDefault("user_id", "")
	v.SetDefault("data_dir", dataDir)

	v.SetDefault("remote.driver", "none")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.max_conns", 4)

	v.SetDefault("sync.backoff_base", 2*time.Second)
	v.SetDefault("sync.backoff_max", 5*time.Minute)
	v.SetDefault("sync.attempt_timeout", 10*time.Second)

	v.SetDefault("connectivity.probe_interval", 15*time.Second)
	v.SetDefault("connectivity.probe_timeout", 5*time.Second)

	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8787)
	v.SetDefault("dashboard.allowed_origins", []string{})

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

func (c *Config) normalize() {
	c.UserID = strings.TrimSpace(c.UserID)
	c.Remote.Driver = strings.ToLower(strings.TrimSpace(c.Remote.Driver))
	if c.DataDir != "" {
		c.DataDir = expandHome(c.DataDir)
	}
	if c.Log.File != "" {
		c.Log.File = expandHome(c.Log.File)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required (set CUTBURN_USER_ID or user_id in the config file)")
	}
	if err := schema.ValidateUserID(c.UserID); err != nil {
		return err
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Remote.Driver {
	case "none", "memory":
	case "postgres", "libsql", "sqlite":
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for driver %q", c.Remote.Driver)
		}
	default:
		return fmt.Errorf("invalid remote.driver %q (want postgres, libsql, sqlite, memory or none)", c.Remote.Driver)
	}
	if c.Remote.MaxConns < 0 {
		return fmt.Errorf("remote.max_conns must not be negative (got %d)", c.Remote.MaxConns)
	}

	if c.Sync.BackoffBase < 0 || c.Sync.BackoffMax < 0 {
		return fmt.Errorf("sync backoff durations must not be negative")
	}
	if c.Sync.BackoffBase > 0 && c.Sync.BackoffMax > 0 && c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max (%v) must be at least sync.backoff_base (%v)", c.Sync.BackoffMax, c.Sync.BackoffBase)
	}
	if c.Sync.AttemptTimeout <= 0 {
		return fmt.Errorf("sync.attempt_timeout must be positive (got %v)", c.Sync.AttemptTimeout)
	}

	if c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0 {
		return fmt.Errorf("connectivity probe interval and timeout must be positive")
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 0 and 65535 (got %d)", c.Dashboard.Port)
	}
	return nil
}

// Warnings lists settings that are valid but probably not what the user
// wants.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Remote.Driver == "memory" {
		warnings = append(warnings, "remote.driver=memory keeps synced records in this process only; they are lost on exit")
	}
	return warnings
}

// CachePath is the local cache database file.
func (c *Config) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Changed lists the top-level sections that differ between two configs,
// e.g. ["connectivity", "sync"].
func Changed(old, next *Config) []string {
	var out []string
	ov := reflect.ValueOf(*old)
	nv := reflect.ValueOf(*next)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			name := strings.Split(t.Field(i).Tag.Get("mapstructure"), ",")[0]
			out = append(out, name)
		}
	}
	return out
}

// Writer returns the log sink: stderr, or a size-rotated file.
func (lc LogConfig) Writer() io.Writer {
	if lc.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

// NewLogger returns a component logger writing to w with a bracketed prefix.
func NewLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
