// Package scheduler runs the per-job crawl loop: pace, render, detect,
// extract, enqueue, persist. One loop runs per job and pages are fetched
// strictly one at a time.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/artifact"
	"github.com/JakeFAU/crawl-orchestrator/internal/challenge"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/extract"
	"github.com/JakeFAU/crawl-orchestrator/internal/lifecycle"
)

// Outcome tells the caller why Run returned.
type Outcome int

// Run outcomes.
const (
	// Finished means the job reached a terminal state.
	Finished Outcome = iota
	// Parked means the job is PAUSED or CAPTCHA_DETECTED and keeps its
	// frontier position for the next runner.
	Parked
	// Interrupted means ctx ended while the job was still RUNNING.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Finished:
		return "finished"
	case Parked:
		return "parked"
	default:
		return "interrupted"
	}
}

// EventAppender is the event log as seen by the loop.
type EventAppender interface {
	Append(ctx context.Context, evt crawler.Event) (crawler.Event, error)
}

// Deps are the collaborators of a Scheduler. Artifacts, Limiter, Robots and
// Tracer may be nil.
type Deps struct {
	Render    crawler.RenderPort
	Detector  *challenge.Detector
	Extractor *extract.Extractor
	Artifacts *artifact.Store
	Pages     crawler.PageRepository
	Events    EventAppender
	Limiter   crawler.HostLimiter
	Robots    crawler.RobotsPolicy
	Clock     crawler.Clock
	Tracer    trace.Tracer
}

// Scheduler is shared by every job; per-job state lives in Runtime.
type Scheduler struct {
	deps   Deps
	logger *zap.Logger
}

// New builds a Scheduler.
func New(deps Deps, logger *zap.Logger) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = crawler.SystemClock
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/JakeFAU/crawl-orchestrator/internal/scheduler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{deps: deps, logger: logger.Named("scheduler")}
}

// Run drives rt until the job finishes, parks, or ctx ends. The caller must
// have claimed rt.Machine.
func (s *Scheduler) Run(ctx context.Context, rt *Runtime) Outcome {
	logger := s.logger.With(zap.String("job_id", rt.Job.ID))
	if !rt.seeded {
		if !s.seed(ctx, rt) {
			return Finished
		}
	}
	for {
		switch rt.Machine.Checkpoint() {
		case lifecycle.Park:
			logger.Info("job parked", zap.String("state", string(rt.Machine.State())))
			return Parked
		case lifecycle.Stop:
			return Finished
		}
		if ctx.Err() != nil {
			return Interrupted
		}

		next, ok := rt.Frontier.Peek()
		if !ok {
			if s.finish(ctx, rt) {
				return Finished
			}
			continue
		}
		if err := s.pace(ctx, rt, next.URL); err != nil {
			logger.Debug("pacing interrupted", zap.Error(err))
			return Interrupted
		}
		// A cancel or pause that arrived while pacing wins over the fetch.
		if rt.Machine.Checkpoint() != lifecycle.Continue {
			continue
		}
		entry, ok := rt.Frontier.Next()
		if !ok {
			continue
		}
		s.visit(ctx, rt, entry)
	}
}

// seed admits and enqueues the start URL. A start URL that cannot be
// enqueued fails the job.
func (s *Scheduler) seed(ctx context.Context, rt *Runtime) bool {
	start := rt.Job.StartURL
	if !s.admit(ctx, rt, start) {
		s.fail(ctx, rt, &crawler.FatalJobError{Reason: "start url rejected by crawl policy: " + start})
		return false
	}
	if _, err := rt.Frontier.Enqueue(start, 0, ""); err != nil {
		s.fail(ctx, rt, &crawler.FatalJobError{Reason: "enqueue start url", Cause: err})
		return false
	}
	rt.seeded = true
	return true
}

// pace waits out the politeness delay measured from the end of the previous
// fetch, then the cross-job host limiter. A robots.txt Crawl-delay longer than
// the job delay wins when the job respects robots.txt.
func (s *Scheduler) pace(ctx context.Context, rt *Runtime, target string) error {
	delay := rt.Job.Config.Delay
	if rt.Job.Config.RespectRobots && s.deps.Robots != nil {
		delay = max(delay, s.deps.Robots.CrawlDelay(ctx, target))
	}
	wait := crawler.RemainingDelay(rt.lastFetchEnd, s.deps.Clock.Now(), delay)
	if err := crawler.Pause(ctx, wait); err != nil {
		return err
	}
	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, target); err != nil {
			return fmt.Errorf("host limiter: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) visit(ctx context.Context, rt *Runtime, entry crawler.FrontierEntry) {
	ctx, span := s.deps.Tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("crawl.job_id", rt.Job.ID),
		attribute.String("crawl.url", entry.URL),
		attribute.Int("crawl.depth", entry.Depth),
	))
	defer span.End()

	cfg := rt.Job.Config
	page := crawler.PageResult{
		JobID: rt.Job.ID,
		Seq:   rt.lastSeq + 1,
		URL:   entry.URL,
		Depth: entry.Depth,
	}

	start := s.deps.Clock.Now()
	snap, err := s.render(ctx, entry.URL, cfg)
	end := s.deps.Clock.Now()
	rt.lastFetchEnd = end
	page.FetchedAt = end
	if err != nil {
		fetchErr := crawler.AsPageFetchError(entry.URL, err)
		page.Outcome = fetchErr.Outcome()
		page.Error = fetchErr.Error()
		page.Duration = end.Sub(start)
		span.SetStatus(codes.Error, string(page.Outcome))
		s.recordFailure(ctx, rt, page, fetchErr)
		return
	}

	page.Outcome = crawler.OutcomeSuccess
	page.FinalURL = snap.FinalURL
	page.StatusCode = snap.StatusCode
	page.Duration = snap.Elapsed
	span.SetAttributes(attribute.Int("http.status_code", snap.StatusCode))

	// Detection always runs before extraction so a challenge halts the job
	// even when the page would have extracted cleanly.
	findings, halt := s.deps.Detector.Detect(snap)
	page.Findings = findings
	if halt != nil {
		page.Challenge = &halt.Finding
		span.AddEvent("challenge detected", trace.WithAttributes(
			attribute.String("challenge.type", string(halt.Finding.Type)),
			attribute.Float64("challenge.confidence", halt.Finding.Confidence),
		))
		page.Artifacts = s.saveArtifacts(ctx, rt, page.Seq,
			artifact.Artifact{Kind: artifact.KindScreenshot, Data: snap.Screenshot},
			artifact.Artifact{Kind: artifact.KindDOM, Data: []byte(snap.DOM)},
		)
		s.recordHalt(ctx, rt, page, *halt)
		return
	}

	res := s.deps.Extractor.Extract(snap, extract.Options{AllowExternal: cfg.AllowExternal})
	page.Classification = res.Classification
	page.Data = res.Data
	added := s.enqueueLinks(ctx, rt, entry, res.Data)

	data, err := json.Marshal(res.Data)
	if err != nil {
		s.logger.Warn("encode extracted data failed", zap.String("job_id", rt.Job.ID), zap.Error(err))
	}
	page.Artifacts = s.saveArtifacts(ctx, rt, page.Seq,
		artifact.Artifact{Kind: artifact.KindScreenshot, Data: snap.Screenshot},
		artifact.Artifact{Kind: artifact.KindDOM, Data: []byte(snap.DOM)},
		artifact.Artifact{Kind: artifact.KindData, Data: data},
	)
	if !s.persist(ctx, rt, page) {
		return
	}
	s.logger.Debug("page loaded",
		zap.String("job_id", rt.Job.ID),
		zap.String("url", entry.URL),
		zap.Int("depth", entry.Depth),
		zap.Int("status", snap.StatusCode),
		zap.Int("links_enqueued", added),
	)
	s.append(ctx, crawler.Event{
		JobID:    rt.Job.ID,
		Kind:     crawler.EventPageLoaded,
		URL:      entry.URL,
		Depth:    entry.Depth,
		Outcome:  page.Outcome,
		Status:   page.StatusCode,
		Duration: page.Duration,
		Bytes:    int64(len(snap.DOM)),
		Page:     page.Classification,
	})
}

// render applies the job timeout to the RenderPort call. A deadline hit by
// the scheduler is reported as a timeout even when the port returned an
// untyped error.
func (s *Scheduler) render(ctx context.Context, target string, cfg crawler.JobConfig) (crawler.Snapshot, error) {
	renderCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	snap, err := s.deps.Render.Load(renderCtx, crawler.RenderRequest{
		URL:       target,
		Timeout:   cfg.Timeout,
		Headless:  cfg.Headless,
		Window:    cfg.Window,
		UserAgent: cfg.UserAgent,
	})
	if err == nil {
		return snap, nil
	}
	var fetchErr *crawler.PageFetchError
	if !errors.As(err, &fetchErr) && errors.Is(renderCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return snap, &crawler.PageFetchError{URL: target, Kind: crawler.FetchTimeout, Err: err}
	}
	return snap, err
}

func (s *Scheduler) recordFailure(ctx context.Context, rt *Runtime, page crawler.PageResult, fetchErr *crawler.PageFetchError) {
	if !s.persist(ctx, rt, page) {
		return
	}
	s.logger.Warn("page fetch failed",
		zap.String("job_id", rt.Job.ID),
		zap.String("url", page.URL),
		zap.Int("depth", page.Depth),
		zap.String("outcome", string(page.Outcome)),
		zap.Error(fetchErr),
	)
	s.append(ctx, crawler.Event{
		JobID:    rt.Job.ID,
		Kind:     crawler.EventPageFailed,
		URL:      page.URL,
		Depth:    page.Depth,
		Outcome:  page.Outcome,
		Duration: page.Duration,
		Cause:    fetchErr.Error(),
	})

	switch {
	case fetchErr.Fatal():
		s.fail(ctx, rt, &crawler.FatalJobError{Reason: "renderer unavailable", Cause: fetchErr})
	case page.Depth == 0 && rt.visited == 1:
		s.fail(ctx, rt, &crawler.FatalJobError{Reason: "start url failed", Cause: fetchErr})
	case rt.consecutive >= rt.Job.Config.MaxConsecutiveFailures:
		s.fail(ctx, rt, &crawler.FatalJobError{
			Reason: fmt.Sprintf("%d consecutive page failures", rt.consecutive),
			Cause:  fetchErr,
		})
	}
}

func (s *Scheduler) recordHalt(ctx context.Context, rt *Runtime, page crawler.PageResult, halt crawler.ChallengeHalt) {
	if !s.persist(ctx, rt, page) {
		return
	}
	finding := halt.Finding
	s.logger.Warn("challenge detected, halting job",
		zap.String("job_id", rt.Job.ID),
		zap.String("url", halt.URL),
		zap.String("type", string(finding.Type)),
		zap.Float64("confidence", finding.Confidence),
	)
	s.append(ctx, crawler.Event{
		JobID:   rt.Job.ID,
		Kind:    crawler.EventCaptchaDetected,
		URL:     page.URL,
		Depth:   page.Depth,
		Outcome: page.Outcome,
		Status:  page.StatusCode,
		Finding: &finding,
	})
	if err := rt.Machine.Halt(halt); err != nil {
		// The job left RUNNING while the page was in flight; the next
		// checkpoint observes that state instead.
		s.logger.Info("halt skipped", zap.String("job_id", rt.Job.ID), zap.Error(err))
	}
}

// persist saves the page result. A repository failure is a resource failure
// and ends the job.
func (s *Scheduler) persist(ctx context.Context, rt *Runtime, page crawler.PageResult) bool {
	if err := s.deps.Pages.SavePage(ctx, page); err != nil {
		rt.lastSeq = page.Seq
		s.fail(ctx, rt, &crawler.FatalJobError{Reason: "persist page result", Cause: err})
		return false
	}
	rt.record(page)
	return true
}

func (s *Scheduler) enqueueLinks(ctx context.Context, rt *Runtime, entry crawler.FrontierEntry, data *crawler.ExtractedData) int {
	if data == nil || entry.Depth+1 > rt.Job.Config.MaxDepth {
		return 0
	}
	added := 0
	for _, link := range data.Links {
		if rt.Frontier.Seen(link) || !s.admit(ctx, rt, link) {
			continue
		}
		ok, err := rt.Frontier.Enqueue(link, entry.Depth+1, entry.URL)
		if err != nil {
			s.logger.Debug("link rejected", zap.String("url", link), zap.Error(err))
			continue
		}
		if ok {
			added++
		}
	}
	return added
}

// admit applies the job's deny list and, when enabled, robots.txt.
func (s *Scheduler) admit(ctx context.Context, rt *Runtime, target string) bool {
	if rt.deny.Matches(crawler.Host(target)) {
		return false
	}
	if rt.Job.Config.RespectRobots && s.deps.Robots != nil && !s.deps.Robots.Allowed(ctx, target) {
		return false
	}
	return true
}

func (s *Scheduler) saveArtifacts(ctx context.Context, rt *Runtime, seq int, items ...artifact.Artifact) []crawler.ArtifactRef {
	if s.deps.Artifacts == nil {
		return nil
	}
	refs, err := s.deps.Artifacts.SaveAll(ctx, rt.Job.ID, seq, items...)
	if err != nil {
		s.logger.Warn("artifact save failed",
			zap.String("job_id", rt.Job.ID),
			zap.Int("seq", seq),
			zap.Error(err),
		)
	}
	return refs
}

// finish closes a job whose frontier is exhausted or whose page limit is
// reached. It returns false when the job left RUNNING concurrently.
func (s *Scheduler) finish(ctx context.Context, rt *Runtime) bool {
	ratio := rt.failureRatio()
	if ratio > rt.Job.Config.MaxFailureRatio {
		s.fail(ctx, rt, &crawler.FatalJobError{
			Reason: fmt.Sprintf("failure ratio %.2f exceeds %.2f", ratio, rt.Job.Config.MaxFailureRatio),
		})
		return rt.Machine.State().Terminal()
	}
	if err := rt.Machine.Complete(); err != nil {
		s.logger.Debug("complete skipped", zap.String("job_id", rt.Job.ID), zap.Error(err))
		return false
	}
	s.logger.Info("job completed",
		zap.String("job_id", rt.Job.ID),
		zap.Int("pages", rt.visited),
		zap.Int("failed", rt.failed),
	)
	return true
}

func (s *Scheduler) fail(ctx context.Context, rt *Runtime, cause *crawler.FatalJobError) {
	if err := rt.Machine.Fail(cause); err != nil {
		s.logger.Info("fail skipped", zap.String("job_id", rt.Job.ID), zap.Error(err))
		return
	}
	s.logger.Error("job failed", zap.String("job_id", rt.Job.ID), zap.Error(cause))
	s.append(ctx, crawler.Event{
		JobID: rt.Job.ID,
		Kind:  crawler.EventJobFailed,
		Cause: cause.Error(),
	})
}

func (s *Scheduler) append(ctx context.Context, evt crawler.Event) {
	if s.deps.Events == nil {
		return
	}
	if _, err := s.deps.Events.Append(ctx, evt); err != nil {
		s.logger.Error("append event failed",
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.Error(err),
		)
	}
}
