// Package config loads sessionmesh settings from an optional YAML file and
// SESSIONMESH_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SESSIONMESH_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the full runtime configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Tasks  TasksConfig  `yaml:"tasks"`
	Report ReportConfig `yaml:"report"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

// StoreConfig selects and locates the session store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is a directory for file and badger, a database file for sqlite.
	Path         string `yaml:"path"`
	SQLiteDriver string `yaml:"sqlite_driver"`
}

type CacheConfig struct {
	MaxEntryBytes int `yaml:"max_entry_bytes"`
}

type TasksConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ReportConfig struct {
	Style string `yaml:"style"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store:  StoreConfig{Backend: BackendMemory, SQLiteDriver: "sqlite3"},
		Cache:  CacheConfig{MaxEntryBytes: 1 << 20},
		Tasks:  TasksConfig{MaxRetries: 3, StaleAfter: 5 * time.Minute},
		Report: ReportConfig{Style: string(core.StyleTable)},
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8742",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_PATH", &c.Store.Path)
	str("STORE_SQLITE_DRIVER", &c.Store.SQLiteDriver)
	num("CACHE_MAX_ENTRY_BYTES", &c.Cache.MaxEntryBytes)
	num("TASKS_MAX_RETRIES", &c.Tasks.MaxRetries)
	dur("TASKS_STALE_AFTER", &c.Tasks.StaleAfter)
	str("REPORT_STYLE", &c.Report.Style)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SERVER_ADDR", &c.Server.Addr)
	dur("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	dur("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	dur("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	return errors.Join(errs...)
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite, BackendBadger:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of memory, file, sqlite, badger, got %q", c.Store.Backend))
	}
	if c.Store.Backend == BackendSQLite && c.Store.SQLiteDriver != "sqlite3" && c.Store.SQLiteDriver != "sqlite" {
		errs = append(errs, fmt.Errorf("store.sqlite_driver must be sqlite3 or sqlite, got %q", c.Store.SQLiteDriver))
	}
	if c.Cache.MaxEntryBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entry_bytes must be positive, got %d", c.Cache.MaxEntryBytes))
	}
	if c.Tasks.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("tasks.max_retries must be positive, got %d", c.Tasks.MaxRetries))
	}
	if c.Tasks.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("tasks.stale_after must be positive, got %s", c.Tasks.StaleAfter))
	}
	if !core.ReportStyle(c.Report.Style).Valid() {
		errs = append(errs, fmt.Errorf("report.style must be table or list, got %q", c.Report.Style))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json, console or text, got %q", c.Log.Format))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	return errors.Join(errs...)
}
