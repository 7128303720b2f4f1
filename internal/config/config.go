// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PoolConfig sizes the browser session pool.
type PoolConfig struct {
	Size              int    `mapstructure:"size"`
	MaxAgeSeconds     int    `mapstructure:"max_age_seconds"`
	MaxUses           int    `mapstructure:"max_uses"`
	UserAgent         string `mapstructure:"user_agent"`
	BreakerThreshold  int    `mapstructure:"breaker_threshold"`
	BreakerCooldownMs int    `mapstructure:"breaker_cooldown_ms"`
}

// FetchConfig governs headless navigation defaults.
type FetchConfig struct {
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	DefaultWait    string `mapstructure:"default_wait"`
	DefaultDelayMs int    `mapstructure:"default_delay_ms"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
}

// ProbeConfig governs the plain HTTP fallback fetcher.
type ProbeConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
}

// CrawlerConfig governs orchestrator scheduling and retries.
type CrawlerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	MinArticleLength int `mapstructure:"min_article_length"`
}

// CacheConfig controls result freshness and stale retention.
type CacheConfig struct {
	TTLSeconds         int `mapstructure:"ttl_seconds"`
	StaleWindowSeconds int `mapstructure:"stale_window_seconds"`
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational record archive.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 90)
	v.SetDefault("pool.size", 2)
	v.SetDefault("pool.max_age_seconds", 600)
	v.SetDefault("pool.max_uses", 50)
	v.SetDefault("pool.user_agent", "article-crawler/0.1")
	v.SetDefault("pool.breaker_threshold", 3)
	v.SetDefault("pool.breaker_cooldown_ms", 5000)
	v.SetDefault("fetch.nav_timeout_seconds", 45)
	v.SetDefault("fetch.default_wait", "dom-ready")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.viewport_width", 1280)
	v.SetDefault("fetch.viewport_height", 800)
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.user_agent", "article-crawler/0.1")
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("probe.max_redirects", 10)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.min_article_length", 100)
	v.SetDefault("cache.ttl_seconds", 900)
	v.SetDefault("cache.stale_window_seconds", 3600)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.local_dir", "./data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.table", "records")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "none", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of none, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local backend")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// CacheTTL returns the freshness window as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// StaleWindow returns the post-TTL retention window as a duration.
func (c Config) StaleWindow() time.Duration {
	return time.Duration(c.Cache.StaleWindowSeconds) * time.Second
}

// NavTimeout returns the headless navigation budget as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSec) * time.Second
}
