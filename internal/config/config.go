package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL      string `mapstructure:"POSTGRES_URL"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	ServerPort       string `mapstructure:"SERVER_PORT"`
	MaxRetries       int    `mapstructure:"MAX_RETRIES"`
	ScrapeWorkers    int    `mapstructure:"SCRAPE_WORKERS"`
	FetchTimeout     int    `mapstructure:"FETCH_TIMEOUT"`    // seconds
	ClassifyTimeout  int    `mapstructure:"CLASSIFY_TIMEOUT"` // seconds
	ClassifyMaxChars int    `mapstructure:"CLASSIFY_MAX_CHARS"`
	RetryBackoffMS   int    `mapstructure:"RETRY_BACKOFF_MS"`

	// Scrape rate budget per actor over a rolling window.
	RateLimit       int `mapstructure:"RATE_LIMIT"`
	RateWindowHours int `mapstructure:"RATE_WINDOW_HOURS"`

	// Recently-scraped sources are skipped for this many hours.
	DeduplicationHours int `mapstructure:"DEDUPLICATION_HOURS"`

	LLMEndpoint string `mapstructure:"LLM_ENDPOINT"`
	LLMModel    string `mapstructure:"LLM_MODEL"`
	LLMAPIKey   string `mapstructure:"LLM_API_KEY"`

	SearchAPIURL string `mapstructure:"SEARCH_API_URL"`
	SearchAPIKey string `mapstructure:"SEARCH_API_KEY"`

	// Comma-separated hosts appended to the built-in fetch allow-list.
	ExtraAllowedHosts string `mapstructure:"EXTRA_ALLOWED_HOSTS"`
	// Comma-separated hosts fetched through the headless renderer.
	RenderHosts string `mapstructure:"RENDER_HOSTS"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in
	// production.
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("MAX_RETRIES", 2)
	viper.SetDefault("SCRAPE_WORKERS", 4)
	viper.SetDefault("FETCH_TIMEOUT", 30)
	viper.SetDefault("CLASSIFY_TIMEOUT", 60)
	viper.SetDefault("CLASSIFY_MAX_CHARS", 12000)
	viper.SetDefault("RETRY_BACKOFF_MS", 2000)
	viper.SetDefault("RATE_LIMIT", 5)
	viper.SetDefault("RATE_WINDOW_HOURS", 24)
	viper.SetDefault("DEDUPLICATION_HOURS", 12)
	viper.SetDefault("LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions")
	viper.SetDefault("LLM_MODEL", "gpt-4o-mini")
	viper.SetDefault("SEARCH_API_URL", "https://api.sam.gov/opportunities/v2/search")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchTimeoutDuration returns the per-fetch deadline.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// ClassifyTimeoutDuration returns the per-classification deadline.
func (c *Config) ClassifyTimeoutDuration() time.Duration {
	return time.Duration(c.ClassifyTimeout) * time.Second
}

// RateWindow returns the rolling rate-limit window.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowHours) * time.Hour
}

// DeduplicationTTL returns how long a scraped source URL stays marked.
func (c *Config) DeduplicationTTL() time.Duration {
	return time.Duration(c.DeduplicationHours) * time.Hour
}

// RetryBackoff returns the delay between retry attempts for one source.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}
