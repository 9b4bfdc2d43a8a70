// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Auth      AuthConfig             `mapstructure:"auth"`
	Logging   LoggingConfig          `mapstructure:"logging"`
	Tracing   TracingConfig          `mapstructure:"tracing"`
	Crawler   CrawlerConfig          `mapstructure:"crawler"`
	Render    RenderConfig           `mapstructure:"render"`
	Challenge ChallengeConfig        `mapstructure:"challenge"`
	Extract   ExtractConfig          `mapstructure:"extract"`
	Storage   StorageConfig          `mapstructure:"storage"`
	Store     StoreConfig            `mapstructure:"store"`
	Lock      LockConfig             `mapstructure:"lock"`
	Events    EventsConfig           `mapstructure:"events"`
	RateLimit RateLimitConfig        `mapstructure:"ratelimit"`
	Templates map[string]JobTemplate `mapstructure:"templates"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls span sampling. Finished spans are logged at debug.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// CrawlerConfig governs the worker pool and the job defaults.
type CrawlerConfig struct {
	Concurrency            int     `mapstructure:"concurrency"`
	QueueDepth             int     `mapstructure:"queue_depth"`
	UserAgent              string  `mapstructure:"user_agent"`
	MaxPagesDefault        int     `mapstructure:"max_pages_default"`
	MaxDepthDefault        int     `mapstructure:"max_depth_default"`
	DelaySeconds           float64 `mapstructure:"delay_seconds"`
	TimeoutSeconds         float64 `mapstructure:"timeout_seconds"`
	RespectRobots          bool    `mapstructure:"respect_robots"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	MaxFailureRatio        float64 `mapstructure:"max_failure_ratio"`
	// SortQuery sorts query parameters during URL normalization instead of
	// preserving their order.
	SortQuery bool `mapstructure:"sort_query"`
}

// RenderConfig selects and tunes the RenderPort backend.
type RenderConfig struct {
	Backend          string  `mapstructure:"backend"`
	MaxParallel      int     `mapstructure:"max_parallel"`
	Window           string  `mapstructure:"window"`
	Headless         bool    `mapstructure:"headless"`
	Screenshot       bool    `mapstructure:"screenshot"`
	SettleMillis     int     `mapstructure:"settle_ms"`
	ExecPath         string  `mapstructure:"exec_path"`
	NavTimeoutSec    float64 `mapstructure:"nav_timeout_seconds"`
	StaticTimeoutSec float64 `mapstructure:"static_timeout_seconds"`
}

// ChallengeConfig overrides the detector's weights and thresholds.
type ChallengeConfig struct {
	MinConfidence      float64            `mapstructure:"min_confidence"`
	HaltThreshold      float64            `mapstructure:"halt_threshold"`
	SignalWeights      map[string]float64 `mapstructure:"signal_weights"`
	TypeWeights        map[string]float64 `mapstructure:"type_weights"`
	SlowResponseMillis int                `mapstructure:"slow_response_ms"`
}

// ExtractConfig tunes the content extractor.
type ExtractConfig struct {
	LinksPerPage   int  `mapstructure:"links_per_page"`
	AllowExternal  bool `mapstructure:"allow_external"`
	DetectLanguage bool `mapstructure:"detect_language"`
}

// StorageConfig sets the artifact blob backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// StoreConfig selects the job/page/event repository.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LockConfig selects the per-job lock registry.
type LockConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

// EventsConfig tunes the progress hub and the optional event publisher.
type EventsConfig struct {
	BufferSize       int      `mapstructure:"buffer_size"`
	MaxBatchEvents   int      `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int      `mapstructure:"max_batch_wait_ms"`
	Publisher        string   `mapstructure:"publisher"`
	Topic            string   `mapstructure:"topic"`
	ProjectID        string   `mapstructure:"project_id"`
	Brokers          []string `mapstructure:"brokers"`
	AlertErrorRate   float64  `mapstructure:"alert_error_rate"`
	AlertMinPages    int      `mapstructure:"alert_min_pages"`
	AlertStuckMins   int      `mapstructure:"alert_stuck_minutes"`
	PrometheusEnable bool     `mapstructure:"prometheus"`
}

// RateLimitConfig is the cross-job per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Backends recognized by the wiring layer.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendChromedp = "chromedp"
	BackendStatic   = "static"
	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherPubSub = "pubsub"
	PublisherKafka  = "kafka"
)

// searchPaths are tried, in order, for crawl-orchestrator.yaml when Load gets
// no explicit path.
var searchPaths = []string{".", "$HOME/.crawl-orchestrator", "/etc/crawl-orchestrator"}

// Load builds a Config from disk/environment. Without a path the first
// crawl-orchestrator.yaml found on the search path is used, if any.
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
	} else {
		v.SetConfigName("crawl-orchestrator")
		v.SetConfigType("yaml")
		for _, dir := range searchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Templates = withBuiltinTemplates(cfg.Templates)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", "crawl-orchestrator/0.1")
	v.SetDefault("crawler.max_pages_default", crawler.DefaultMaxPages)
	v.SetDefault("crawler.max_depth_default", crawler.DefaultMaxDepth)
	v.SetDefault("crawler.delay_seconds", crawler.DefaultDelay.Seconds())
	v.SetDefault("crawler.timeout_seconds", crawler.DefaultTimeout.Seconds())
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_consecutive_failures", crawler.DefaultMaxConsecutiveFailures)
	v.SetDefault("crawler.max_failure_ratio", crawler.DefaultMaxFailureRatio)
	v.SetDefault("render.backend", BackendChromedp)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.window", crawler.DefaultWindow.String())
	v.SetDefault("render.headless", true)
	v.SetDefault("render.screenshot", true)
	v.SetDefault("render.settle_ms", 500)
	v.SetDefault("render.nav_timeout_seconds", 30)
	v.SetDefault("render.static_timeout_seconds", 15)
	v.SetDefault("challenge.min_confidence", 0.3)
	v.SetDefault("challenge.halt_threshold", 0.7)
	v.SetDefault("challenge.slow_response_ms", 8000)
	v.SetDefault("extract.links_per_page", 50)
	v.SetDefault("extract.detect_language", true)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.local_dir", "artifacts")
	v.SetDefault("storage.prefix", "jobs")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.sqlite_path", "crawl.db")
	v.SetDefault("lock.backend", BackendMemory)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.prefix", "crawl:lock:")
	v.SetDefault("lock.ttl_seconds", 30)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch_events", 500)
	v.SetDefault("events.max_batch_wait_ms", 250)
	v.SetDefault("events.publisher", PublisherNone)
	v.SetDefault("events.topic", "crawl-events")
	v.SetDefault("events.alert_error_rate", 0.5)
	v.SetDefault("events.alert_min_pages", 10)
	v.SetDefault("events.alert_stuck_minutes", 30)
	v.SetDefault("events.prometheus", true)
	v.SetDefault("ratelimit.rps", 2.0)
	v.SetDefault("ratelimit.burst", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := crawler.ParseWindowSize(c.Render.Window); err != nil {
		return fmt.Errorf("render.window: %w", err)
	}
	if err := oneOf("render.backend", c.Render.Backend, BackendChromedp, BackendStatic); err != nil {
		return err
	}
	if err := oneOf("storage.backend", c.Storage.Backend, BackendMemory, BackendLocal, BackendGCS); err != nil {
		return err
	}
	if c.Storage.Backend == BackendGCS && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for the gcs backend")
	}
	if err := oneOf("store.backend", c.Store.Backend, BackendMemory, BackendPostgres, BackendSQLite); err != nil {
		return err
	}
	if c.Store.Backend == BackendPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set for the postgres backend")
	}
	if err := oneOf("lock.backend", c.Lock.Backend, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0")
	}
	if err := oneOf("events.publisher", c.Events.Publisher, PublisherNone, PublisherMemory, PublisherPubSub, PublisherKafka); err != nil {
		return err
	}
	switch {
	case c.Events.Publisher == PublisherPubSub && c.Events.ProjectID == "":
		return fmt.Errorf("events.project_id must be set for the pubsub publisher")
	case c.Events.Publisher == PublisherKafka && len(c.Events.Brokers) == 0:
		return fmt.Errorf("events.brokers must be set for the kafka publisher")
	}
	if c.Events.AlertStuckMins < 0 {
		return fmt.Errorf("events.alert_stuck_minutes must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}
	if err := c.JobDefaults().Validate(); err != nil {
		return fmt.Errorf("crawler defaults: %w", err)
	}
	for name, tpl := range c.Templates {
		if _, err := tpl.JobConfig(c.JobDefaults()); err != nil {
			return fmt.Errorf("templates.%s: %w", name, err)
		}
	}
	return nil
}

// JobDefaults converts the crawler section into the job config applied to
// fields a create request leaves unset.
func (c Config) JobDefaults() crawler.JobConfig {
	window, err := crawler.ParseWindowSize(c.Render.Window)
	if err != nil {
		window = crawler.DefaultWindow
	}
	return crawler.JobConfig{
		MaxPages:               c.Crawler.MaxPagesDefault,
		MaxDepth:               c.Crawler.MaxDepthDefault,
		Delay:                  crawler.SecondsToDuration(c.Crawler.DelaySeconds),
		Timeout:                crawler.SecondsToDuration(c.Crawler.TimeoutSeconds),
		UserAgent:              c.Crawler.UserAgent,
		Headless:               c.Render.Headless,
		Window:                 window,
		Priority:               crawler.PriorityNormal,
		RespectRobots:          c.Crawler.RespectRobots,
		AllowExternal:          c.Extract.AllowExternal,
		MaxConsecutiveFailures: c.Crawler.MaxConsecutiveFailures,
		MaxFailureRatio:        c.Crawler.MaxFailureRatio,
	}.WithDefaults()
}

// JobTemplates resolves every named template against the job defaults.
func (c Config) JobTemplates() (map[string]crawler.JobConfig, error) {
	out := make(map[string]crawler.JobConfig, len(c.Templates))
	for name, tpl := range c.Templates {
		cfg, err := tpl.JobConfig(c.JobDefaults())
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

// QueryMode maps crawler.sort_query onto URL normalization.
func (c Config) QueryMode() crawler.QueryMode {
	if c.Crawler.SortQuery {
		return crawler.QuerySort
	}
	return crawler.QueryPreserve
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// LockTTL is the lease length for a running job's lock token.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value)
}
