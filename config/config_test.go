package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessionmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
  path: /tmp/mesh.db
tasks:
  max_retries: 5
  stale_after: 90s
log:
  level: debug
  format: console
`), 0o600))

	t.Setenv("SESSIONMESH_TASKS_MAX_RETRIES", "7")
	t.Setenv("SESSIONMESH_SERVER_ADDR", ":9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/mesh.db", cfg.Store.Path)
	assert.Equal(t, "sqlite3", cfg.Store.SQLiteDriver, "default kept")
	assert.Equal(t, 7, cfg.Tasks.MaxRetries, "env wins over file")
	assert.Equal(t, 90*time.Second, cfg.Tasks.StaleAfter)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"SESSIONMESH_CACHE_MAX_ENTRY_BYTES": "lots",
		"SESSIONMESH_TASKS_STALE_AFTER":     "soon",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSIONMESH_CACHE_MAX_ENTRY_BYTES")
	assert.Contains(t, err.Error(), "SESSIONMESH_TASKS_STALE_AFTER")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"UnknownBackend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"PathRequired", func(c *Config) { c.Store.Backend = BackendFile }, "store.path"},
		{"SQLiteDriver", func(c *Config) {
			c.Store = StoreConfig{Backend: BackendSQLite, Path: "x.db", SQLiteDriver: "pg"}
		}, "store.sqlite_driver"},
		{"CacheLimit", func(c *Config) { c.Cache.MaxEntryBytes = 0 }, "cache.max_entry_bytes"},
		{"Retries", func(c *Config) { c.Tasks.MaxRetries = -1 }, "tasks.max_retries"},
		{"ReportStyle", func(c *Config) { c.Report.Style = "html" }, "report.style"},
		{"LogLevel", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"LogFormat", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"Addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
