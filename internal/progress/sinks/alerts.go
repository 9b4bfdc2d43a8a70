package sinks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
)

// AlertConfig tunes the operator alert rules.
type AlertConfig struct {
	// ErrorRate alerts once per job when failed/total exceeds it.
	ErrorRate float64 `mapstructure:"error_rate"`
	// MinPages is how many pages a job needs before the error rate counts.
	MinPages int `mapstructure:"min_pages"`
	// StuckAfter alerts once per run when a job stays RUNNING longer.
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

// DefaultAlertConfig alerts on >50% errors after more than 10 pages and on
// jobs RUNNING for over 30 minutes.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{ErrorRate: 0.5, MinPages: 10, StuckAfter: 30 * time.Minute}
}

// Alert is one fired rule.
type Alert struct {
	Rule    string
	JobID   string
	Message string
}

// AlertSink evaluates alert rules over the event stream and logs them. An
// optional notify hook receives each alert as well.
type AlertSink struct {
	cfg    AlertConfig
	logger *zap.Logger
	notify func(Alert)

	mu   sync.Mutex
	jobs map[string]*jobTally
}

type jobTally struct {
	pages   int
	failed  int
	alerted bool

	runningSince time.Time
	stuckAlerted bool
}

// NewAlertSink builds an AlertSink. notify may be nil.
func NewAlertSink(cfg AlertConfig, logger *zap.Logger, notify func(Alert)) *AlertSink {
	def := DefaultAlertConfig()
	if cfg.ErrorRate <= 0 {
		cfg.ErrorRate = def.ErrorRate
	}
	if cfg.MinPages <= 0 {
		cfg.MinPages = def.MinPages
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = def.StuckAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertSink{
		cfg:    cfg,
		logger: logger.Named("alerts"),
		notify: notify,
		jobs:   make(map[string]*jobTally),
	}
}

// Consume applies the rules to each event. The newest event time in the batch
// also drives the stuck-job check.
func (s *AlertSink) Consume(_ context.Context, batch []progress.Event) error {
	var latest time.Time
	for _, evt := range batch {
		if evt.At.After(latest) {
			latest = evt.At
		}
		switch evt.Kind {
		case crawler.EventPageLoaded, crawler.EventPageFailed:
			s.countPage(evt)
		case crawler.EventCaptchaDetected:
			if evt.Finding == nil {
				continue
			}
			s.fire(Alert{
				Rule:    "captcha_detected",
				JobID:   evt.JobID,
				Message: "human intervention required: " + string(evt.Finding.Type) + " on " + evt.URL,
			}, zap.Float64("confidence", evt.Finding.Confidence))
		case crawler.EventStateChanged:
			if evt.To.Terminal() {
				s.finish(evt)
				continue
			}
			s.trackRunning(evt)
		}
	}
	if !latest.IsZero() {
		s.Sweep(latest)
	}
	return nil
}

func (s *AlertSink) trackRunning(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tally := s.tally(evt.JobID)
	if evt.To != crawler.StateRunning {
		tally.runningSince = time.Time{}
		return
	}
	if tally.runningSince.IsZero() {
		tally.runningSince = evt.At
		tally.stuckAlerted = false
	}
}

// Sweep fires task_stuck for every job that has been RUNNING for longer than
// StuckAfter at now. It is called per batch and periodically by the service,
// since a stuck job may emit nothing at all.
func (s *AlertSink) Sweep(now time.Time) {
	type stuck struct {
		jobID   string
		elapsed time.Duration
	}
	var fired []stuck
	s.mu.Lock()
	for jobID, tally := range s.jobs {
		if tally.runningSince.IsZero() || tally.stuckAlerted {
			continue
		}
		if d := now.Sub(tally.runningSince); d > s.cfg.StuckAfter {
			tally.stuckAlerted = true
			fired = append(fired, stuck{jobID: jobID, elapsed: d})
		}
	}
	s.mu.Unlock()

	for _, f := range fired {
		s.fire(Alert{Rule: "task_stuck", JobID: f.jobID, Message: "job has been running for over " + s.cfg.StuckAfter.String()},
			zap.Duration("running_for", f.elapsed))
	}
}

func (s *AlertSink) tally(jobID string) *jobTally {
	tally, ok := s.jobs[jobID]
	if !ok {
		tally = &jobTally{}
		s.jobs[jobID] = tally
	}
	return tally
}

func (s *AlertSink) countPage(evt progress.Event) {
	s.mu.Lock()
	tally := s.tally(evt.JobID)
	tally.pages++
	if evt.Kind == crawler.EventPageFailed {
		tally.failed++
	}
	rate := float64(tally.failed) / float64(tally.pages)
	fire := !tally.alerted && tally.pages > s.cfg.MinPages && rate > s.cfg.ErrorRate
	if fire {
		tally.alerted = true
	}
	pages := tally.pages
	s.mu.Unlock()

	if fire {
		s.fire(Alert{Rule: "high_error_rate", JobID: evt.JobID, Message: "page error rate above threshold"},
			zap.Float64("error_rate", rate), zap.Int("pages", pages))
	}
}

func (s *AlertSink) finish(evt progress.Event) {
	s.mu.Lock()
	delete(s.jobs, evt.JobID)
	s.mu.Unlock()

	fields := []zap.Field{zap.String("state", string(evt.To))}
	if evt.Stats != nil {
		fields = append(fields,
			zap.Int("pages_visited", evt.Stats.PagesVisited),
			zap.Int("failed", evt.Stats.Failed),
			zap.Float64("success_rate", evt.Stats.SuccessRate),
			zap.Float64("avg_duration_ms", evt.Stats.AvgDurationMs),
		)
	}
	s.logger.Info("job finished", append(fields, zap.String("job_id", evt.JobID))...)
	if s.notify != nil {
		s.notify(Alert{Rule: "job_finished", JobID: evt.JobID, Message: "job reached " + string(evt.To)})
	}
}

func (s *AlertSink) fire(alert Alert, fields ...zap.Field) {
	s.logger.Warn(alert.Message,
		append(fields, zap.String("rule", alert.Rule), zap.String("job_id", alert.JobID))...)
	if s.notify != nil {
		s.notify(alert)
	}
}

// Close does nothing.
func (s *AlertSink) Close(context.Context) error {
	return nil
}
