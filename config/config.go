// Package config holds crawler and service configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds crawler, store, and server configuration.
type Config struct {
	BaseURL   string `yaml:"base_url"`
	MaxPages  int    `yaml:"max_pages"`
	UserAgent string `yaml:"user_agent"`

	Timeout      Duration `yaml:"timeout"`
	ImageTimeout Duration `yaml:"image_timeout"`

	// MaxAttempts is the total number of tries per URL, including the first.
	MaxAttempts     int      `yaml:"max_attempts"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
	RetryBackoffMax Duration `yaml:"retry_backoff_max"`

	// ItemDelay is slept between detail pages, PageDelay between listing pages.
	ItemDelay Duration `yaml:"item_delay"`
	PageDelay Duration `yaml:"page_delay"`

	SkipImages     bool `yaml:"skip_images"`
	ImageCacheSize int  `yaml:"image_cache_size"`

	// ExportDir, when set, receives per-run CSV and JSONL exports of the
	// crawled records.
	ExportDir string `yaml:"export_dir"`

	DatabaseDSN string `yaml:"database_dsn"`

	Media MediaConfig `yaml:"media"`

	APIAddr     string `yaml:"api_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	Verbose bool `yaml:"verbose"`
}

// MediaConfig selects where cover images are stored.
type MediaConfig struct {
	Backend string `yaml:"backend"` // minio or local
	Dir     string `yaml:"dir"`     // local backend

	Endpoint  string `yaml:"endpoint"` // minio backend
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://books.toscrape.com/",
		MaxPages:        5,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Timeout:         DurationFrom(10 * time.Second),
		ImageTimeout:    DurationFrom(15 * time.Second),
		MaxAttempts:     3,
		RetryBackoff:    DurationFrom(time.Second),
		RetryBackoffMax: DurationFrom(30 * time.Second),
		ItemDelay:       DurationFrom(time.Second),
		PageDelay:       DurationFrom(2 * time.Second),
		ImageCacheSize:  256,
		DatabaseDSN:     "",
		Media: MediaConfig{
			Backend: "local",
			Dir:     "media/book_covers",
			Bucket:  "book-covers",
		},
		APIAddr:     ":8080",
		MetricsAddr: "",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ImageTimeout.Duration <= 0 {
		return fmt.Errorf("image timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff.Duration < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax.Duration < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax.Duration > 0 && c.RetryBackoff.Duration > c.RetryBackoffMax.Duration {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.ItemDelay.Duration < 0 {
		return fmt.Errorf("item delay cannot be negative")
	}
	if c.PageDelay.Duration < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.ImageCacheSize <= 0 {
		return fmt.Errorf("image cache size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	switch c.Media.Backend {
	case "local":
		if c.Media.Dir == "" {
			return fmt.Errorf("media dir cannot be empty for local backend")
		}
	case "minio":
		if c.Media.Endpoint == "" {
			return fmt.Errorf("minio endpoint cannot be empty")
		}
		if c.Media.Bucket == "" {
			return fmt.Errorf("minio bucket cannot be empty")
		}
	default:
		return fmt.Errorf("media backend must be local or minio")
	}

	if c.APIAddr == "" {
		return fmt.Errorf("api listen address cannot be empty")
	}

	return nil
}

// EnvString reads a string environment variable.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// EnvInt reads an integer environment variable.
func EnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, true, nil
}
