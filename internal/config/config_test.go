package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.Equal(t, 1000, cfg.Completion.MaxTokens)
	assert.Equal(t, BackendPostgREST, cfg.Ledger.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadWithoutFileUsesDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	dataDir := filepath.Join(home, ".chatledger")
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "session.json"), cfg.Identity.SessionPath)
	assert.Equal(t, filepath.Join(dataDir, "chatledger.log"), cfg.Log.Path)
	assert.Equal(t, filepath.Join(dataDir, "chatledger.db"), cfg.Ledger.SQLitePath)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
data_dir: /var/lib/chatledger
completion:
  model: gpt-4o
  max_tokens: 256
  timeout: 5s
ledger:
  backend: SQLite
log:
  level: debug
`)
	t.Setenv("CHATLEDGER_MAX_TOKENS", "512")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Equal(t, 512, cfg.Completion.MaxTokens)
	assert.Equal(t, 5*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Ledger.Backend)
	assert.Equal(t, "https://project.supabase.co", cfg.Ledger.SupabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/lib/chatledger/chatledger.db", cfg.Ledger.SQLitePath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "completion: [unclosed")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig()
		cfg.Ledger.SupabaseURL = "https://project.supabase.co"
		cfg.Ledger.SupabaseKey = "anon"
		cfg.ResolvePaths()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing supabase url", func(c *Config) { c.Ledger.SupabaseURL = "" }, false},
		{"missing supabase key", func(c *Config) { c.Ledger.SupabaseKey = "" }, false},
		{"postgres without dsn", func(c *Config) { c.Ledger.Backend = BackendPostgres }, false},
		{"postgres with dsn", func(c *Config) {
			c.Ledger.Backend = BackendPostgres
			c.Ledger.DatabaseURL = "postgres://localhost/chat"
		}, true},
		{"sqlite", func(c *Config) { c.Ledger.Backend = BackendSQLite }, true},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "firestore" }, false},
		{"empty model", func(c *Config) { c.Completion.Model = "" }, false},
		{"zero max tokens", func(c *Config) { c.Completion.MaxTokens = 0 }, false},
		{"bad port", func(c *Config) { c.Identity.CallbackPort = 70000 }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".chatledger"), expandHome("~/.chatledger"))
	assert.Equal(t, "/etc/chatledger", expandHome("/etc/chatledger"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
