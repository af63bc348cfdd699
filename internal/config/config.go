package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath          = "config.toml"
	DefaultHTTPAddr            = ":8080"
	DefaultPGHost              = "127.0.0.1"
	DefaultPGPort              = 5432
	DefaultPGUser              = "postgres"
	DefaultPGDatabase          = "pantryline"
	DefaultPGSSLMode           = "disable"
	DefaultLineAPIBase         = "https://api.line.me"
	DefaultLineDataAPIBase     = "https://api-data.line.me"
	DefaultDifyAPIBase         = "https://api.dify.ai"
	DefaultGeminiAPIBase       = "https://generativelanguage.googleapis.com"
	DefaultRecipeWindowSeconds = 2
	DefaultRecordWindowSeconds = 10
	DefaultFlushWorkers        = 8
	DefaultRetentionMinutes    = 30
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Line      LineConfig      `toml:"line"`
	Dify      DifyConfig      `toml:"dify"`
	Gemini    GeminiConfig    `toml:"gemini"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Aggregate AggregateConfig `toml:"aggregate"`
	Retention RetentionConfig `toml:"retention"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// BaseURL is the externally reachable origin used to build
	// generated-image links for the carousel. Must be HTTPS because the
	// platform rejects plain-HTTP image URLs.
	BaseURL string `toml:"base_url"`
}

type LineConfig struct {
	ChannelSecret      string `toml:"channel_secret" validate:"required"`
	ChannelAccessToken string `toml:"channel_access_token" validate:"required"`
	APIBase            string `toml:"api_base"`
	DataAPIBase        string `toml:"data_api_base"`
}

type DifyConfig struct {
	APIKey  string `toml:"api_key" validate:"required"`
	APIBase string `toml:"api_base"`
}

// GeminiConfig configures the image-generation collaborator. An empty key
// disables generation; the recipe flow then replies with text only.
type GeminiConfig struct {
	APIKey  string   `toml:"api_key"`
	APIBase string   `toml:"api_base"`
	Models  []string `toml:"models"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// AggregateConfig sets the debounce windows for the two media ingestion
// paths and the size of the flush worker pool.
type AggregateConfig struct {
	RecipeWindowSeconds int `toml:"recipe_window_seconds" validate:"gte=0"`
	RecordWindowSeconds int `toml:"record_window_seconds" validate:"gte=0"`
	FlushWorkers        int `toml:"flush_workers" validate:"gte=1"`
}

type RetentionConfig struct {
	GeneratedImageMinutes int `toml:"generated_image_minutes" validate:"gte=1"`
	RecipeMinutes         int `toml:"recipe_minutes" validate:"gte=1"`
	SessionIdleMinutes    int `toml:"session_idle_minutes" validate:"gte=1"`
}

func (c AggregateConfig) RecipeWindow() time.Duration {
	return time.Duration(c.RecipeWindowSeconds) * time.Second
}

func (c AggregateConfig) RecordWindow() time.Duration {
	return time.Duration(c.RecordWindowSeconds) * time.Second
}

func (c RetentionConfig) GeneratedImageTTL() time.Duration {
	return time.Duration(c.GeneratedImageMinutes) * time.Minute
}

func (c RetentionConfig) RecipeTTL() time.Duration {
	return time.Duration(c.RecipeMinutes) * time.Minute
}

func (c RetentionConfig) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Line: LineConfig{
			APIBase:     DefaultLineAPIBase,
			DataAPIBase: DefaultLineDataAPIBase,
		},
		Dify: DifyConfig{
			APIBase: DefaultDifyAPIBase,
		},
		Gemini: GeminiConfig{
			APIBase: DefaultGeminiAPIBase,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Aggregate: AggregateConfig{
			RecipeWindowSeconds: DefaultRecipeWindowSeconds,
			RecordWindowSeconds: DefaultRecordWindowSeconds,
			FlushWorkers:        DefaultFlushWorkers,
		},
		Retention: RetentionConfig{
			GeneratedImageMinutes: DefaultRetentionMinutes,
			RecipeMinutes:         DefaultRetentionMinutes,
			SessionIdleMinutes:    DefaultRetentionMinutes,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks that required collaborator credentials are present. Load
// stays lenient so tests and offline tooling can build partial configs;
// serve validates before wiring.
func Validate(cfg Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
