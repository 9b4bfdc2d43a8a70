package config

import (
	"strings"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/challenge"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/extract"
)

// DetectorConfig overlays the challenge section on the detector defaults.
// Weight keys are matched case-insensitively.
func (c Config) DetectorConfig() challenge.Config {
	cfg := challenge.DefaultConfig()
	if c.Challenge.MinConfidence > 0 {
		cfg.MinConfidence = c.Challenge.MinConfidence
	}
	if c.Challenge.HaltThreshold > 0 {
		cfg.HaltThreshold = c.Challenge.HaltThreshold
	}
	for k, w := range c.Challenge.SignalWeights {
		cfg.SignalWeights[challenge.Signal(strings.ToLower(k))] = w
	}
	for k, w := range c.Challenge.TypeWeights {
		cfg.TypeWeights[crawler.ChallengeType(strings.ToLower(k))] = w
	}
	if c.Challenge.SlowResponseMillis > 0 {
		cfg.SlowResponse = time.Duration(c.Challenge.SlowResponseMillis) * time.Millisecond
	}
	return cfg
}

// ExtractorConfig maps the extract section onto the extractor.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		LinksPerPage:   c.Extract.LinksPerPage,
		DetectLanguage: c.Extract.DetectLanguage,
		QueryMode:      c.QueryMode(),
	}
}
