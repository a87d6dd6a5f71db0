package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Ledger backends
const (
	BackendPostgREST = "postgrest"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// Directory for the session, log and local database files
	DataDir string `yaml:"data_dir" env:"CHATLEDGER_HOME"`

	Identity   IdentityConfig   `yaml:"identity"`
	Completion CompletionConfig `yaml:"completion"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Log        LogConfig        `yaml:"log"`

	// Set from the command line only
	Verbose bool `yaml:"-"`
}

// IdentityConfig configures Google sign-in
type IdentityConfig struct {
	ClientID     string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	CallbackPort int           `yaml:"callback_port" env:"CHATLEDGER_CALLBACK_PORT"`
	SessionPath  string        `yaml:"session_path" env:"CHATLEDGER_SESSION_PATH"`
	Timeout      time.Duration `yaml:"timeout" env:"CHATLEDGER_IDENTITY_TIMEOUT"`
}

// CompletionConfig configures the OpenAI-compatible completion endpoint
type CompletionConfig struct {
	APIKey    string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL   string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model     string        `yaml:"model" env:"CHATLEDGER_MODEL"`
	MaxTokens int           `yaml:"max_tokens" env:"CHATLEDGER_MAX_TOKENS"`
	Timeout   time.Duration `yaml:"timeout" env:"CHATLEDGER_COMPLETION_TIMEOUT"`
}

// LedgerConfig selects and configures the chat and login ledger
type LedgerConfig struct {
	Backend     string        `yaml:"backend" env:"CHATLEDGER_LEDGER"`
	SupabaseURL string        `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey string        `yaml:"supabase_key" env:"SUPABASE_ANON_KEY"`
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	SQLitePath  string        `yaml:"sqlite_path" env:"CHATLEDGER_SQLITE_PATH"`
	Timeout     time.Duration `yaml:"timeout" env:"CHATLEDGER_LEDGER_TIMEOUT"`
}

// LogConfig configures the application log
type LogConfig struct {
	Level string `yaml:"level" env:"CHATLEDGER_LOG_LEVEL"`
	Path  string `yaml:"path" env:"CHATLEDGER_LOG_PATH"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		DataDir: "~/.chatledger",

		Identity: IdentityConfig{
			CallbackPort: 0,
			Timeout:      30 * time.Second,
		},

		// OpenAI defaults
		Completion: CompletionConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 1000,
			Timeout:   60 * time.Second,
		},

		Ledger: LedgerConfig{
			Backend: BackendPostgREST,
			Timeout: 15 * time.Second,
		},

		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath is where Load looks for the config file when none is given
func DefaultPath() string {
	return expandHome("~/.chatledger/config.yaml")
}

// Load builds the configuration from defaults, a .env file in the working
// directory, the YAML config file and the environment, in that order.
// A missing config file is not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	err := cfg.loadFile(expandHome(path))
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.ResolvePaths()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ResolvePaths expands ~ and fills in file locations under DataDir.
// Call it again after changing DataDir.
func (c *Config) ResolvePaths() {
	c.DataDir = expandHome(c.DataDir)
	if c.Identity.SessionPath == "" {
		c.Identity.SessionPath = filepath.Join(c.DataDir, "session.json")
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join(c.DataDir, "chatledger.log")
	}
	if c.Ledger.SQLitePath == "" {
		c.Ledger.SQLitePath = filepath.Join(c.DataDir, "chatledger.db")
	}
	c.Identity.SessionPath = expandHome(c.Identity.SessionPath)
	c.Log.Path = expandHome(c.Log.Path)
	c.Ledger.SQLitePath = expandHome(c.Ledger.SQLitePath)
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendPostgREST:
		if c.Ledger.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required for the %s ledger", BackendPostgREST)
		}
		if c.Ledger.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY is required for the %s ledger", BackendPostgREST)
		}
	case BackendPostgres:
		if c.Ledger.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s ledger", BackendPostgres)
		}
	case BackendSQLite:
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	if c.Completion.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.Completion.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be at least 1")
	}
	if c.Identity.CallbackPort < 0 || c.Identity.CallbackPort > 65535 {
		return fmt.Errorf("callback port must be between 0 and 65535")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}

// expandHome expands the ~ in file paths to the user's home directory
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return filepath.Join(getHomeDir(), path[1:])
	}
	return path
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "."
}
