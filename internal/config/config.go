package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/econpulse/internal/card"
	"github.com/abelbrown/econpulse/internal/cluster"
	"github.com/abelbrown/econpulse/internal/coord"
	"github.com/abelbrown/econpulse/internal/fetch"
)

// Environment variables that override the file.
const (
	EnvDatabase    = "ECONPULSE_DB"
	EnvAddr        = "ECONPULSE_ADDR"
	EnvLogLevel    = "ECONPULSE_LOG_LEVEL"
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvGeminiModel = "GEMINI_MODEL"
)

// Config is the persistent application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	RSS        RSSConfig        `yaml:"rss"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Cards      CardsConfig      `yaml:"cards"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig points at the SQLite file. ":memory:" is allowed.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RSSConfig lists the feeds to collect and how hard to hit them.
type RSSConfig struct {
	Feeds       []fetch.Feed  `yaml:"feeds"`
	Timeout     time.Duration `yaml:"timeout"`
	HostRate    float64       `yaml:"hostRate"` // requests per second per host
	Concurrency int           `yaml:"concurrency"`
}

// ClusteringConfig selects the article batch each clustering run reads.
type ClusteringConfig struct {
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
}

// CardsConfig holds card target selection and Gemini settings.
type CardsConfig struct {
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
	Gemini GeminiConfig  `yaml:"gemini"`
}

// GeminiConfig configures the card generator. APIKey is normally taken
// from the environment and never written back by Save.
type GeminiConfig struct {
	APIKey     string        `yaml:"-"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// ScheduleConfig holds the cron specs (with seconds) of the background jobs.
type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Pipeline  string `yaml:"pipeline"`
	Lifecycle string `yaml:"lifecycle"`
}

// ServerConfig configures the HTTP API and its RSS output.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	FeedTitle       string `yaml:"feedTitle"`
	FeedLink        string `yaml:"feedLink"`
	FeedDescription string `yaml:"feedDescription"`
}

// LoggingConfig is passed to logging.Init. An empty Dir logs to stderr.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(DataDir(), "econpulse.db")},
		RSS: RSSConfig{
			Timeout:     30 * time.Second,
			HostRate:    1,
			Concurrency: 4,
		},
		Clustering: ClusteringConfig{
			Window: cluster.DefaultWindow,
			Limit:  cluster.DefaultLimit,
		},
		Cards: CardsConfig{
			Window: card.DefaultWindow,
			Limit:  card.DefaultLimit,
			Gemini: GeminiConfig{
				Model:      card.DefaultModel,
				Timeout:    card.DefaultTimeout,
				MaxRetries: card.DefaultMaxRetries,
			},
		},
		Schedule: ScheduleConfig{
			Enabled:   true,
			Pipeline:  coord.DefaultPipelineSpec,
			Lifecycle: coord.DefaultLifecycleSpec,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			FeedTitle:       "EconPulse 경제 이슈",
			FeedLink:        "http://localhost:8080",
			FeedDescription: "여러 언론사가 함께 다룬 경제 이슈",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DataDir returns the directory holding the database and logs.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".econpulse"
	}
	return filepath.Join(home, ".econpulse")
}

// ConfigPath returns the default path to the config file
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load reads config from path, or returns defaults when the file does not
// exist. Keys missing from the file keep their default values. A .env file
// in the working directory is loaded first, then environment overrides
// are applied.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvGeminiKey); v != "" {
		c.Cards.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvGeminiModel); v != "" {
		c.Cards.Gemini.Model = v
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	for i, f := range c.RSS.Feeds {
		if f.URL == "" {
			return fmt.Errorf("config: rss.feeds[%d] has no url", i)
		}
		if f.Publisher == "" {
			return fmt.Errorf("config: rss.feeds[%d] (%s) has no publisher", i, f.URL)
		}
	}
	if c.Schedule.Enabled && (c.Schedule.Pipeline == "" || c.Schedule.Lifecycle == "") {
		return errors.New("config: schedule specs are required when the schedule is enabled")
	}
	return nil
}

// Save writes config to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
