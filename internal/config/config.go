// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COLLECTOR_DB_DSN.
const EnvPrefix = "COLLECTOR"

// Storage backends for run archives.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Collector CollectorConfig `mapstructure:"collector"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Web       WebConfig       `mapstructure:"web"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// RequestTimeout bounds non-streaming API routes.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CollectorConfig tunes runs and source jobs.
type CollectorConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	SourceTimeout      time.Duration `mapstructure:"source_timeout"`
	SlowThreshold      time.Duration `mapstructure:"slow_threshold"`
	MaxBodyChars       int           `mapstructure:"max_body_chars"`
	SummaryChars       int           `mapstructure:"summary_chars"`
	PreviewChars       int           `mapstructure:"preview_chars"`
	StatusWriteTimeout time.Duration `mapstructure:"status_write_timeout"`
}

// HTTPConfig configures outbound fetching.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxRedirects   int           `mapstructure:"max_redirects"`
	UserAgent      string        `mapstructure:"user_agent"`
	Accept         string        `mapstructure:"accept"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// FeedConfig tunes the feed extractor.
type FeedConfig struct {
	RecencyMonths   int `mapstructure:"recency_months"`
	MinContentChars int `mapstructure:"min_content_chars"`
}

// WebConfig tunes the web extractor.
type WebConfig struct {
	MinArticleChars int           `mapstructure:"min_article_chars"`
	MinDetailChars  int           `mapstructure:"min_detail_chars"`
	MaxLinks        int           `mapstructure:"max_links"`
	DetailDelay     time.Duration `mapstructure:"detail_delay"`
}

// RateLimitConfig paces requests per host. Zero RPS means unlimited.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// repositories.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig selects where run archives go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds the completion notification topic. An empty topic
// disables notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the telemetry hub and client streams.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	StreamBuffer   int           `mapstructure:"stream_buffer"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// ProjectID enables export to Google Cloud Trace.
	ProjectID string `mapstructure:"project_id"`
}

// SearchPaths lists the directories Discover checks, in order.
func SearchPaths() []string {
	paths := []string{".", "/etc/content-collector"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".content-collector"))
	}
	return paths
}

// Discover returns the first config.yaml found in SearchPaths, or "".
func Discover() string {
	for _, dir := range SearchPaths() {
		candidate := filepath.Join(dir, "config.yaml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Load builds a Config from defaults, an optional file, and COLLECTOR_*
// environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("collector.concurrency", 3)
	v.SetDefault("collector.source_timeout", "15s")
	v.SetDefault("collector.slow_threshold", "8s")
	v.SetDefault("collector.max_body_chars", 50000)
	v.SetDefault("collector.summary_chars", 200)
	v.SetDefault("collector.preview_chars", 100)
	v.SetDefault("collector.status_write_timeout", "5s")

	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial", "1s")
	v.SetDefault("http.backoff_max", "8s")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.accept", "")
	v.SetDefault("http.accept_language", "")
	v.SetDefault("http.respect_robots", false)

	v.SetDefault("feed.recency_months", 2)
	v.SetDefault("feed.min_content_chars", 200)
	v.SetDefault("web.min_article_chars", 200)
	v.SetDefault("web.min_detail_chars", 100)
	v.SetDefault("web.max_links", 10)
	v.SetDefault("web.detail_delay", "500ms")

	v.SetDefault("rate_limit.default_rps", 0)
	v.SetDefault("rate_limit.default_burst", 1)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", false)

	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.stream_buffer", 64)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "content-collector")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Collector.Concurrency <= 0 {
		errs = append(errs, errors.New("collector.concurrency must be > 0"))
	}
	if c.Collector.SourceTimeout <= 0 {
		errs = append(errs, errors.New("collector.source_timeout must be > 0"))
	}
	if c.Collector.SlowThreshold <= 0 || c.Collector.SlowThreshold >= c.Collector.SourceTimeout {
		errs = append(errs, errors.New("collector.slow_threshold must be > 0 and below collector.source_timeout"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("http.max_attempts must be > 0"))
	}
	if c.RateLimit.DefaultRPS < 0 {
		errs = append(errs, errors.New("rate_limit.default_rps must be >= 0"))
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub.topic_name is set"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
