// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FetchConfig governs plain HTTP fetching of profile pages.
type FetchConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitSelector      string        `mapstructure:"wait_selector"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	BodyThreshold     int           `mapstructure:"body_threshold"`
}

// ExtractConfig bounds what a single scrape extracts.
type ExtractConfig struct {
	SourceDomain string `mapstructure:"source_domain"`
	PostLimit    int    `mapstructure:"post_limit"`
	CommentLimit int    `mapstructure:"comment_limit"`
	MaxFollowers int    `mapstructure:"max_followers"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Backend                string        `mapstructure:"backend"`
	DSN                    string        `mapstructure:"dsn"`
	URI                    string        `mapstructure:"uri"`
	Database               string        `mapstructure:"database"`
	MaxConns               int           `mapstructure:"max_conns"`
	MinConns               int           `mapstructure:"min_conns"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`
	TextSearch             bool          `mapstructure:"text_search"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryDelayMS           int           `mapstructure:"retry_delay_ms"`
}

// RetryDelay converts RetryDelayMS to a duration.
func (s StoreConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// CacheConfig sizes the page document cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where raw markup snapshots are written.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
}

// EventsConfig holds metadata for ingestion notifications.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSIGHTS")
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

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("fetch.base_url", "https://www.facebook.com")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout", "15s")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.rate_per_second", 1.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "45s")
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_delay", "500ms")
	v.SetDefault("headless.body_threshold", 2048)
	v.SetDefault("extract.source_domain", "facebook.com")
	v.SetDefault("extract.post_limit", 30)
	v.SetDefault("extract.comment_limit", 100)
	v.SetDefault("extract.max_followers", 1000)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.uri", "")
	v.SetDefault("store.database", "facebook_insights")
	v.SetDefault("store.max_conns", 50)
	v.SetDefault("store.min_conns", 10)
	v.SetDefault("store.connect_timeout", "5s")
	v.SetDefault("store.server_selection_timeout", "5s")
	v.SetDefault("store.text_search", true)
	v.SetDefault("store.max_retries", 3)
	v.SetDefault("store.retry_delay_ms", 2000)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", "300s")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.base_dir", "data/raw")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("events.backend", BackendNone)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "page-ingested")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "page-insights")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url must be set")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Store.MaxRetries <= 0 {
		return fmt.Errorf("store.max_retries must be > 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	case BackendMongo:
		if c.Store.URI == "" || c.Store.Database == "" {
			return fmt.Errorf("store.uri and store.database must be set for the mongo backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Cache.Enabled && (c.Cache.Capacity <= 0 || c.Cache.TTL <= 0) {
		return fmt.Errorf("cache.capacity and cache.ttl must be > 0 when the cache is enabled")
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Events.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend %q is not supported", c.Events.Backend)
	}
	return nil
}
