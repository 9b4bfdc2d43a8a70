// Package orchestrator is the command surface of the crawl engine. It owns
// the runtime of every live job, applies lifecycle commands, and executes a
// claimed job under its lock token so at most one runner is active per job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/crawl-orchestrator/internal/scheduler"
)

const (
	defaultLockTTL  = 30 * time.Second
	observerTimeout = 10 * time.Second
)

// EventLog is the append-only record as used by the engine.
type EventLog interface {
	Append(ctx context.Context, evt crawler.Event) (crawler.Event, error)
	List(ctx context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error)
	Forget(jobID string)
}

// Config controls engine behavior.
type Config struct {
	LockTTL time.Duration
	// Defaults fill limits a create request leaves unset.
	Defaults  crawler.JobConfig
	Templates map[string]crawler.JobConfig
	QueryMode crawler.QueryMode
}

// Deps are the engine collaborators.
type Deps struct {
	Repo      crawler.Repository
	Events    EventLog
	Scheduler *scheduler.Scheduler
	Queue     crawler.Queue
	Locks     lifecycle.LockRegistry
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// CreateRequest describes a new job.
type CreateRequest struct {
	StartURL string
	Config   crawler.JobConfig
}

// TemplateRequest creates a job from a named template. Non-zero fields
// override the template.
type TemplateRequest struct {
	Template string
	StartURL string
	Priority crawler.Priority
	MaxPages int
	Extra    map[string]any
}

// Engine applies commands to jobs and executes them.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	runtimes map[string]*scheduler.Runtime
	queued   map[string]bool
}

// New builds an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock
	}
	if deps.Locks == nil {
		deps.Locks = lifecycle.NewMemoryLocks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.Named("orchestrator"),
		runtimes: make(map[string]*scheduler.Runtime),
		queued:   make(map[string]bool),
	}
}

// Create validates req and stores a PENDING job. Configuration problems are
// returned as *crawler.ConfigurationError before anything is persisted.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (crawler.Job, error) {
	if err := crawler.ValidateStartURL(req.StartURL); err != nil {
		return crawler.Job{}, err
	}
	startURL, err := crawler.NormalizeURLMode(req.StartURL, e.cfg.QueryMode)
	if err != nil {
		return crawler.Job{}, &crawler.ConfigurationError{Field: "start_url", Reason: err.Error()}
	}
	cfg := mergeDefaults(req.Config.Clone(), e.cfg.Defaults).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return crawler.Job{}, err
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := e.deps.Clock.Now()
	job := crawler.Job{
		ID:        id,
		StartURL:  startURL,
		Config:    cfg,
		State:     crawler.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.deps.Repo.SaveJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("save job: %w", err)
	}
	e.mu.Lock()
	e.runtimes[id] = e.newRuntime(job)
	e.mu.Unlock()

	e.appendEvent(ctx, crawler.Event{JobID: id, Kind: crawler.EventStateChanged, To: crawler.StatePending, At: now})
	e.logger.Info("job created",
		zap.String("job_id", id),
		zap.String("url", startURL),
		zap.String("priority", string(cfg.Priority)),
	)
	return job, nil
}

// CreateFromTemplate creates a job from a configured template.
func (e *Engine) CreateFromTemplate(ctx context.Context, req TemplateRequest) (crawler.Job, error) {
	tmpl, ok := e.cfg.Templates[req.Template]
	if !ok {
		return crawler.Job{}, &crawler.ConfigurationError{Field: "template", Reason: fmt.Sprintf("unknown template %q", req.Template)}
	}
	cfg := tmpl.Clone()
	if req.Priority != "" {
		cfg.Priority = req.Priority
	}
	if req.MaxPages > 0 {
		cfg.MaxPages = req.MaxPages
	}
	if len(req.Extra) > 0 {
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]any, len(req.Extra))
		}
		for k, v := range req.Extra {
			cfg.Extra[k] = v
		}
	}
	if cfg.Extra == nil {
		cfg.Extra = map[string]any{}
	}
	cfg.Extra["template"] = req.Template
	return e.Create(ctx, CreateRequest{StartURL: req.StartURL, Config: cfg})
}

// Start queues a PENDING job. Starting a job twice is rejected.
func (e *Engine) Start(ctx context.Context, jobID string) error {
	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	if state := rt.Machine.State(); state != crawler.StatePending {
		return fmt.Errorf("start job %s in %s: %w", jobID, state, crawler.ErrInvalidTransition)
	}
	return e.enqueue(ctx, rt)
}

// Pause asks a RUNNING job to park at its next loop boundary.
func (e *Engine) Pause(ctx context.Context, jobID string) error {
	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	if err := rt.Machine.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Resume returns a PAUSED job to RUNNING. A resume for a job that is already
// RUNNING is rejected rather than queued.
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	needsRunner, err := rt.Machine.Resume()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if needsRunner {
		return e.enqueue(ctx, rt)
	}
	return nil
}

// Cancel moves a job to CANCELLED. A running loop observes it at the next
// loop boundary.
func (e *Engine) Cancel(ctx context.Context, jobID, reason string) error {
	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	if err := rt.Machine.Cancel(reason); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if !rt.Machine.Attached() {
		e.drop(jobID)
	}
	return nil
}

// MarkCaptchaSolved is the human confirmation that releases a halted job.
// The job continues at the next unvisited frontier entry. The challenged page
// is not refetched and its links were never extracted, so a job halted on its
// start page has nothing left and completes with that one page. The
// captcha_solved event carries the remaining frontier size and next URL.
func (e *Engine) MarkCaptchaSolved(ctx context.Context, jobID string) error {
	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	needsRunner, err := rt.Machine.SolveCaptcha()
	if err != nil {
		return fmt.Errorf("mark captcha solved: %w", err)
	}
	resume := map[string]string{"pending": strconv.Itoa(rt.Frontier.Pending())}
	if next, ok := rt.Frontier.Peek(); ok {
		resume["next_url"] = next.URL
	} else {
		e.logger.Info("captcha solved with empty frontier; job will complete",
			zap.String("job_id", jobID))
	}
	e.appendEvent(ctx, crawler.Event{JobID: jobID, Kind: crawler.EventCaptchaSolved, Extra: resume})
	if needsRunner {
		return e.enqueue(ctx, rt)
	}
	return nil
}

// Get returns the stored job.
func (e *Engine) Get(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := e.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns stored jobs, newest first, optionally filtered by state.
func (e *Engine) List(ctx context.Context, state *crawler.JobState, limit, offset int) ([]crawler.Job, error) {
	jobs, err := e.deps.Repo.ListJobs(ctx, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Pages returns the page results of a job in sequence order.
func (e *Engine) Pages(ctx context.Context, jobID string) ([]crawler.PageResult, error) {
	if _, err := e.Get(ctx, jobID); err != nil {
		return nil, err
	}
	pages, err := e.deps.Repo.ListPages(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// Events returns the event record of a job after afterSeq.
func (e *Engine) Events(ctx context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error) {
	if _, err := e.Get(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := e.deps.Events.List(ctx, jobID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Stats recomputes JobStats from the page history.
func (e *Engine) Stats(ctx context.Context, jobID string) (crawler.JobStats, error) {
	pages, err := e.Pages(ctx, jobID)
	if err != nil {
		return crawler.JobStats{}, err
	}
	return crawler.ComputeStats(pages), nil
}

// Execute runs a queued job until it finishes, parks, or ctx ends. The job
// lock is held for the whole run and refreshed in the background; losing it
// stops the run at the next loop boundary.
func (e *Engine) Execute(ctx context.Context, jobID string) error {
	e.mu.Lock()
	delete(e.queued, jobID)
	e.mu.Unlock()

	rt, err := e.runtime(ctx, jobID)
	if err != nil {
		return err
	}
	token, err := e.deps.Locks.Acquire(ctx, jobID, e.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("execute %s: %w", jobID, err)
	}
	defer func() {
		// The release must happen even when ctx is already done.
		if err := e.deps.Locks.Release(context.WithoutCancel(ctx), jobID, token); err != nil {
			e.logger.Warn("release job lock failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()

	claimed, err := rt.Machine.Claim()
	if err != nil {
		return fmt.Errorf("execute %s: %w", jobID, err)
	}
	if !claimed {
		e.logger.Debug("job not runnable", zap.String("job_id", jobID), zap.String("state", string(rt.Machine.State())))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		e.refreshLock(runCtx, cancel, jobID, token)
	}()

	outcome := scheduler.Finished
	func() {
		// Detach must run even if the loop panics, or the job could never be
		// claimed again in this process.
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("job runner panicked", zap.String("job_id", jobID), zap.Any("panic", r))
				if err := rt.Machine.Fail(&crawler.FatalJobError{Reason: fmt.Sprintf("runner panic: %v", r)}); err != nil {
					e.logger.Warn("fail after panic skipped", zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}()
		outcome = e.deps.Scheduler.Run(runCtx, rt)
	}()
	cancel()
	<-refreshDone

	requeue := rt.Machine.Detach()
	e.logger.Info("job runner detached",
		zap.String("job_id", jobID),
		zap.String("outcome", outcome.String()),
		zap.String("state", string(rt.Machine.State())),
	)
	switch {
	case rt.Machine.State().Terminal():
		e.drop(jobID)
	case requeue && outcome == scheduler.Parked:
		// Resumed while the runner was parking.
		return e.enqueue(context.WithoutCancel(ctx), rt)
	}
	return nil
}

// Recover requeues jobs left RUNNING by a previous process. Their runtimes
// are rebuilt from the stored page history.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	running := crawler.StateRunning
	jobs, err := e.deps.Repo.ListJobs(ctx, &running, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		rt, err := e.runtime(ctx, job.ID)
		if err != nil {
			e.logger.Error("recover job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := e.enqueue(ctx, rt); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		e.logger.Info("recovered running jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (e *Engine) refreshLock(ctx context.Context, stop context.CancelFunc, jobID, token string) {
	ticker := time.NewTicker(e.cfg.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.deps.Locks.Refresh(ctx, jobID, token, e.cfg.LockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Error("job lock lost", zap.String("job_id", jobID), zap.Error(err))
				stop()
				return
			}
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, rt *scheduler.Runtime) error {
	e.mu.Lock()
	if e.queued[rt.Job.ID] {
		e.mu.Unlock()
		return fmt.Errorf("job %s already queued: %w", rt.Job.ID, crawler.ErrInvalidTransition)
	}
	e.queued[rt.Job.ID] = true
	e.mu.Unlock()

	item := crawler.QueueItem{JobID: rt.Job.ID, Priority: rt.Job.Config.Priority}
	if err := e.deps.Queue.Enqueue(ctx, item); err != nil {
		e.mu.Lock()
		delete(e.queued, rt.Job.ID)
		e.mu.Unlock()
		return fmt.Errorf("enqueue job %s: %w", rt.Job.ID, err)
	}
	e.logger.Debug("job queued", zap.String("job_id", rt.Job.ID), zap.String("priority", string(item.Priority)))
	return nil
}

// runtime returns the live runtime of jobID, loading it from the repository
// when this process has not seen the job yet.
func (e *Engine) runtime(ctx context.Context, jobID string) (*scheduler.Runtime, error) {
	e.mu.Lock()
	rt, ok := e.runtimes[jobID]
	e.mu.Unlock()
	if ok {
		return rt, nil
	}

	job, err := e.deps.Repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	rt = e.newRuntime(job)
	if !job.State.Terminal() && job.State != crawler.StatePending {
		pages, err := e.deps.Repo.ListPages(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("load pages: %w", err)
		}
		if err := e.deps.Scheduler.Restore(ctx, rt, pages); err != nil {
			return nil, fmt.Errorf("restore job: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.runtimes[jobID]; ok {
		return existing, nil
	}
	if !job.State.Terminal() {
		e.runtimes[jobID] = rt
	}
	return rt, nil
}

// drop forgets the runtime of a finished job.
func (e *Engine) drop(jobID string) {
	e.mu.Lock()
	delete(e.runtimes, jobID)
	e.mu.Unlock()
	e.deps.Events.Forget(jobID)
}

func (e *Engine) newRuntime(job crawler.Job) *scheduler.Runtime {
	machine := lifecycle.NewMachine(job.ID, job.State, e.deps.Clock, e.observe)
	return scheduler.NewRuntime(job, machine, e.cfg.QueryMode)
}

// observe persists every transition to the job record and the event log.
// Terminal transitions carry the recomputed JobStats.
func (e *Engine) observe(tr lifecycle.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	logger := e.logger.With(zap.String("job_id", tr.JobID))

	job, err := e.deps.Repo.GetJob(ctx, tr.JobID)
	if err != nil {
		logger.Error("load job for transition failed", zap.Error(err))
		return
	}
	job.State = tr.To
	job.UpdatedAt = tr.At
	if tr.Cause != "" || tr.To.Terminal() {
		job.Cause = tr.Cause
	}
	if tr.To == crawler.StateRunning && job.StartedAt == nil {
		at := tr.At
		job.StartedAt = &at
	}
	evt := crawler.Event{
		JobID:   tr.JobID,
		Kind:    crawler.EventStateChanged,
		At:      tr.At,
		From:    tr.From,
		To:      tr.To,
		Cause:   tr.Cause,
		Finding: tr.Finding,
	}
	if tr.To.Terminal() {
		at := tr.At
		job.FinishedAt = &at
		if pages, err := e.deps.Repo.ListPages(ctx, tr.JobID); err == nil {
			stats := crawler.ComputeStats(pages)
			evt.Stats = &stats
		}
	}
	if err := e.deps.Repo.SaveJob(ctx, job); err != nil {
		logger.Error("persist transition failed", zap.Error(err))
	}
	e.appendEvent(ctx, evt)

	fields := []zap.Field{zap.String("from", string(tr.From)), zap.String("state", string(tr.To))}
	if tr.Cause != "" {
		fields = append(fields, zap.String("cause", tr.Cause))
	}
	if tr.To == crawler.StateFailed {
		logger.Error("job transition", fields...)
		return
	}
	logger.Info("job transition", fields...)
}

func (e *Engine) appendEvent(ctx context.Context, evt crawler.Event) {
	if _, err := e.deps.Events.Append(ctx, evt); err != nil {
		e.logger.Error("append event failed",
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.Error(err),
		)
	}
}

// IsConflict reports whether err is a state or lock conflict.
func IsConflict(err error) bool {
	return errors.Is(err, crawler.ErrInvalidTransition) || errors.Is(err, crawler.ErrLockHeld)
}

// mergeDefaults fills zero fields of cfg from defaults. MaxDepth is left
// alone because zero is a meaningful depth.
func mergeDefaults(cfg, defaults crawler.JobConfig) crawler.JobConfig {
	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.Delay == 0 {
		cfg.Delay = defaults.Delay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Window == (crawler.WindowSize{}) {
		cfg.Window = defaults.Window
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if cfg.MaxFailureRatio == 0 {
		cfg.MaxFailureRatio = defaults.MaxFailureRatio
	}
	return cfg
}
