package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
)

// PrometheusSink derives crawl metrics from the event stream.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	jobsFinal   *prometheus.CounterVec
	jobsRunning prometheus.Gauge

	pages         *prometheus.CounterVec
	pageTypes     *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration *prometheus.HistogramVec
	challenges    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_job_transitions_total",
			Help: "Job state transitions partitioned by target state.",
		}, []string{"state"}),
		jobsFinal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_jobs_finished_total",
			Help: "Jobs that reached a terminal state.",
		}, []string{"state"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawl_jobs_running",
			Help: "Jobs currently in RUNNING.",
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Page fetch attempts partitioned by outcome and status class.",
		}, []string{"outcome", "status_class"}),
		pageTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_page_classifications_total",
			Help: "Successfully extracted pages by classification.",
		}, []string{"page_type"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawl_rendered_bytes_total",
			Help: "Rendered DOM bytes.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Render duration partitioned by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_challenges_detected_total",
			Help: "Challenges that halted a job, by type.",
		}, []string{"type"}),
		tracker: &runTracker{running: make(map[string]struct{})},
	}
	for _, collector := range []prometheus.Collector{
		s.transitions, s.jobsFinal, s.jobsRunning,
		s.pages, s.pageTypes, s.fetchBytes, s.fetchDuration, s.challenges,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case crawler.EventStateChanged:
			s.handleTransition(evt)
		case crawler.EventPageLoaded, crawler.EventPageFailed:
			s.handlePage(evt)
		case crawler.EventCaptchaDetected:
			if evt.Finding != nil {
				s.challenges.WithLabelValues(string(evt.Finding.Type)).Inc()
			}
		}
	}
	return nil
}

func (s *PrometheusSink) handleTransition(evt progress.Event) {
	s.transitions.WithLabelValues(string(evt.To)).Inc()
	if evt.To == crawler.StateRunning {
		if s.tracker.enter(evt.JobID) {
			s.jobsRunning.Inc()
		}
		return
	}
	if s.tracker.leave(evt.JobID) {
		s.jobsRunning.Dec()
	}
	if evt.To.Terminal() {
		s.jobsFinal.WithLabelValues(string(evt.To)).Inc()
	}
}

func (s *PrometheusSink) handlePage(evt progress.Event) {
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	s.pages.WithLabelValues(outcome, string(progress.ClassifyStatus(evt.Status))).Inc()
	if evt.Duration > 0 {
		s.fetchDuration.WithLabelValues(outcome).Observe(evt.Duration.Seconds())
	}
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if evt.Page != "" {
		s.pageTypes.WithLabelValues(string(evt.Page)).Inc()
	}
}

// Close does nothing.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func (t *runTracker) enter(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) leave(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
