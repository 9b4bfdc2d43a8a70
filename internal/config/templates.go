package config

import (
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// JobTemplate is a named job preset. Zero values inherit the crawler
// defaults; MaxDepth and Headless are pointers because zero and false are
// meaningful.
type JobTemplate struct {
	Description            string         `mapstructure:"description"`
	MaxPages               int            `mapstructure:"max_pages"`
	MaxDepth               *int           `mapstructure:"max_depth"`
	DelaySeconds           float64        `mapstructure:"delay_seconds"`
	TimeoutSeconds         float64        `mapstructure:"timeout_seconds"`
	UserAgent              string         `mapstructure:"user_agent"`
	Headless               *bool          `mapstructure:"headless"`
	Window                 string         `mapstructure:"window_size"`
	Priority               string         `mapstructure:"priority"`
	RespectRobots          *bool          `mapstructure:"respect_robots"`
	MaxConsecutiveFailures int            `mapstructure:"max_consecutive_failures"`
	Config                 map[string]any `mapstructure:"config"`
}

// JobConfig overlays the template onto defaults and validates the result.
func (t JobTemplate) JobConfig(defaults crawler.JobConfig) (crawler.JobConfig, error) {
	cfg := defaults.Clone()
	if t.MaxPages != 0 {
		cfg.MaxPages = t.MaxPages
	}
	if t.MaxDepth != nil {
		cfg.MaxDepth = *t.MaxDepth
	}
	if t.DelaySeconds != 0 {
		cfg.Delay = crawler.SecondsToDuration(t.DelaySeconds)
	}
	if t.TimeoutSeconds != 0 {
		cfg.Timeout = crawler.SecondsToDuration(t.TimeoutSeconds)
	}
	if t.UserAgent != "" {
		cfg.UserAgent = t.UserAgent
	}
	if t.Headless != nil {
		cfg.Headless = *t.Headless
	}
	if t.Window != "" {
		window, err := crawler.ParseWindowSize(t.Window)
		if err != nil {
			return crawler.JobConfig{}, err
		}
		cfg.Window = window
	}
	if t.Priority != "" {
		cfg.Priority = crawler.Priority(t.Priority)
	}
	if t.RespectRobots != nil {
		cfg.RespectRobots = *t.RespectRobots
	}
	if t.MaxConsecutiveFailures != 0 {
		cfg.MaxConsecutiveFailures = t.MaxConsecutiveFailures
	}
	if len(t.Config) > 0 {
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any, len(t.Config))
		}
		for k, v := range t.Config {
			cfg.Extra[k] = v
		}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return crawler.JobConfig{}, err
	}
	return cfg, nil
}

// withBuiltinTemplates adds the stock presets the file did not redefine.
func withBuiltinTemplates(templates map[string]JobTemplate) map[string]JobTemplate {
	if templates == nil {
		templates = map[string]JobTemplate{}
	}
	for name, tpl := range builtinTemplates() {
		if _, ok := templates[name]; !ok {
			templates[name] = tpl
		}
	}
	return templates
}

func builtinTemplates() map[string]JobTemplate {
	depth := func(n int) *int { return &n }
	on, off := true, false
	return map[string]JobTemplate{
		"ecommerce_scraping": {
			Description:  "Scrape product information from e-commerce websites",
			MaxPages:     10,
			MaxDepth:     depth(3),
			DelaySeconds: 2,
			Headless:     &on,
			Priority:     string(crawler.PriorityNormal),
			Config: map[string]any{
				"extract_products": true,
				"extract_prices":   true,
				"extract_images":   true,
			},
		},
		"lead_generation": {
			Description:  "Extract contact information and business details",
			MaxPages:     5,
			MaxDepth:     depth(2),
			DelaySeconds: 3,
			Headless:     &on,
			Priority:     string(crawler.PriorityNormal),
			Config: map[string]any{
				"extract_contacts":      true,
				"extract_social_links":  true,
				"extract_contact_forms": true,
			},
		},
		"competitor_analysis": {
			Description:  "Analyze competitor pricing, features and content",
			MaxPages:     15,
			MaxDepth:     depth(4),
			DelaySeconds: 2.5,
			Headless:     &on,
			Priority:     string(crawler.PriorityHigh),
			Config:       map[string]any{"analyze_pricing": true, "analyze_seo": true},
		},
		"content_audit": {
			Description:  "Audit SEO, accessibility and content quality",
			MaxPages:     20,
			MaxDepth:     depth(3),
			DelaySeconds: 1.5,
			Headless:     &on,
			Priority:     string(crawler.PriorityNormal),
			Config: map[string]any{
				"analyze_seo":             true,
				"check_accessibility":     true,
				"analyze_content_quality": true,
			},
		},
		"form_testing": {
			Description:  "Inspect forms with a visible browser",
			MaxPages:     5,
			MaxDepth:     depth(1),
			DelaySeconds: 2,
			Headless:     &off,
			Priority:     string(crawler.PriorityHigh),
			Config:       map[string]any{"extract_form_fields": true},
		},
	}
}
