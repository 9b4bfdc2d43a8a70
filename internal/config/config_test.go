package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/challenge"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  queue_depth: 128
  user_agent: real-agent
  max_pages_default: 25
  max_depth_default: 0
  delay_seconds: 0.5
  timeout_seconds: 12
  respect_robots: false
  max_consecutive_failures: 3
render:
  backend: static
  window: 1280x720
challenge:
  halt_threshold: 0.8
  signal_weights:
    dom: 0.5
  type_weights:
    HCAPTCHA: 0.9
storage:
  backend: local
  local_dir: /tmp/artifacts
store:
  backend: sqlite
  sqlite_path: jobs.db
lock:
  backend: redis
  redis_addr: redis:6379
events:
  publisher: kafka
  brokers: ["kafka:9092"]
templates:
  price-refresh:
    max_pages: 7
    max_depth: 0
    delay_seconds: 4
    priority: URGENT
    config:
      collect: prices
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.QueueDepth != 128 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}

	defaults := cfg.JobDefaults()
	if defaults.MaxPages != 25 || defaults.MaxDepth != 0 {
		t.Fatalf("unexpected limits: %+v", defaults)
	}
	if defaults.Delay != 500*time.Millisecond || defaults.Timeout != 12*time.Second {
		t.Fatalf("unexpected pacing: delay=%v timeout=%v", defaults.Delay, defaults.Timeout)
	}
	if defaults.Window != (crawler.WindowSize{Width: 1280, Height: 720}) {
		t.Fatalf("unexpected window %v", defaults.Window)
	}
	if defaults.RespectRobots || defaults.MaxConsecutiveFailures != 3 {
		t.Fatalf("expected robots off and 3 failures: %+v", defaults)
	}

	det := cfg.DetectorConfig()
	if det.HaltThreshold != 0.8 || det.SignalWeights[challenge.SignalDOM] != 0.5 {
		t.Fatalf("expected detector overrides: %+v", det)
	}
	if det.TypeWeights[crawler.ChallengeHCaptcha] != 0.9 {
		t.Fatalf("expected case-insensitive type weight, got %v", det.TypeWeights)
	}
	if det.SignalWeights[challenge.SignalScript] != challenge.DefaultConfig().SignalWeights[challenge.SignalScript] {
		t.Fatalf("expected untouched weights to keep defaults")
	}

	templates, err := cfg.JobTemplates()
	if err != nil {
		t.Fatalf("JobTemplates() error = %v", err)
	}
	refresh, ok := templates["price-refresh"]
	if !ok {
		t.Fatalf("expected custom template, got %v", templates)
	}
	if refresh.MaxPages != 7 || refresh.MaxDepth != 0 || refresh.Priority != crawler.PriorityUrgent {
		t.Fatalf("unexpected template: %+v", refresh)
	}
	if refresh.Delay != 4*time.Second || refresh.Timeout != 12*time.Second {
		t.Fatalf("template should inherit timeout: %+v", refresh)
	}
	if refresh.Extra["collect"] != "prices" {
		t.Fatalf("expected template config map, got %v", refresh.Extra)
	}
	if _, ok := templates["ecommerce_scraping"]; !ok {
		t.Fatal("expected builtin templates to remain available")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Render.Backend != BackendChromedp || cfg.Store.Backend != BackendMemory {
		t.Fatalf("unexpected backends: render=%s store=%s", cfg.Render.Backend, cfg.Store.Backend)
	}
	if got := cfg.LockTTL(); got != 30*time.Second {
		t.Fatalf("expected 30s lock ttl, got %v", got)
	}
	if cfg.QueryMode() != crawler.QueryPreserve {
		t.Fatalf("expected preserved query order by default")
	}
	defaults := cfg.JobDefaults()
	if err := defaults.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if defaults.MaxPages != crawler.DefaultMaxPages || defaults.MaxDepth != crawler.DefaultMaxDepth {
		t.Fatalf("unexpected default limits: %+v", defaults)
	}

	templates, err := cfg.JobTemplates()
	if err != nil {
		t.Fatalf("JobTemplates() error = %v", err)
	}
	form := templates["form_testing"]
	if form.Headless || form.MaxDepth != 1 || form.Priority != crawler.PriorityHigh {
		t.Fatalf("unexpected form_testing template: %+v", form)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "negative stuck alert", mutate: func(c *Config) { c.Events.AlertStuckMins = -1 }, want: "events.alert_stuck_minutes"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "bad window", mutate: func(c *Config) { c.Render.Window = "wide" }, want: "render.window"},
		{name: "unknown render backend", mutate: func(c *Config) { c.Render.Backend = "firefox" }, want: "render.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.bucket"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, want: "store.dsn"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Events.Publisher = PublisherKafka }, want: "events.brokers"},
		{name: "threshold out of range", mutate: func(c *Config) { c.Challenge.HaltThreshold = 1.5 }, want: "challenge.halt_threshold"},
		{name: "failure ratio", mutate: func(c *Config) { c.Crawler.MaxFailureRatio = 2 }, want: "max_failure_ratio"},
		{
			name: "bad template priority",
			mutate: func(c *Config) {
				c.Templates = map[string]JobTemplate{"x": {Priority: "SOON"}}
			},
			want: "templates.x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
