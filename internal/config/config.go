// Package config loads lens configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Config is the top-level lens configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Market    MarketConfig    `yaml:"market"`
	Answer    AnswerConfig    `yaml:"answer"`
	Autofetch AutofetchConfig `yaml:"autofetch"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StorageConfig selects where knowledge records live.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | supabase
	Path   string `yaml:"path"`   // sqlite database file

	SupabaseURL   string `yaml:"supabase_url"`
	SupabaseKey   string `yaml:"supabase_key"`
	SupabaseTable string `yaml:"supabase_table"`
}

// KnowledgeConfig controls the knowledge snapshot.
type KnowledgeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StrictWrites bool          `yaml:"strict_writes"`
	FoldCase     bool          `yaml:"fold_case"`
}

// MarketConfig controls the market-data collaborator.
type MarketConfig struct {
	URL          string        `yaml:"url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
}

// AnswerConfig points at the hosted answer workflow.
type AnswerConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Project  string `yaml:"project"`
}

// AutofetchConfig points at the ingestion webhook.
type AutofetchConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads .env (when present), then the YAML file at path (when non-empty),
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Addr, "LENS_ADDR")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.Storage.SupabaseURL, "SUPABASE_URL")
	set(&c.Storage.SupabaseKey, "SUPABASE_SERVICE_ROLE_KEY")
	set(&c.Answer.APIKey, "ANSWER_API_KEY")
	set(&c.Answer.Project, "ANSWER_PROJECT_ID")
	set(&c.Answer.Endpoint, "ANSWER_ENDPOINT")
	set(&c.Market.URL, "MARKET_URL")
	set(&c.Autofetch.WebhookURL, "AUTOFETCH_WEBHOOK_URL")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = "*"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Storage.Driver == "" {
		if c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != "" {
			c.Storage.Driver = DriverSupabase
		} else {
			c.Storage.Driver = DriverSQLite
		}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultDBPath()
	}
	if c.Knowledge.PollInterval <= 0 {
		c.Knowledge.PollInterval = 30 * time.Second
	}
	if c.Market.PollInterval <= 0 {
		c.Market.PollInterval = 15 * time.Second
	}
	if c.Market.RateLimit <= 0 {
		c.Market.RateLimit = 1
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverSupabase:
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			return fmt.Errorf("storage driver supabase needs supabase_url and supabase_key")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lens.db"
	}
	return filepath.Join(home, ".lens", "lens.db")
}
