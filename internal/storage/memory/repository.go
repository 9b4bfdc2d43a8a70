package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Repository implements crawler.Repository in memory.
type Repository struct {
	mu     sync.RWMutex
	jobs   map[string]crawler.Job
	pages  map[string][]crawler.PageResult
	events map[string][]crawler.Event
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		jobs:   make(map[string]crawler.Job),
		pages:  make(map[string][]crawler.PageResult),
		events: make(map[string][]crawler.Event),
	}
}

// SaveJob inserts or replaces a job record.
func (r *Repository) SaveJob(_ context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job.Config = job.Config.Clone()
	r.jobs[job.ID] = job
	return nil
}

// GetJob returns crawler.ErrJobNotFound for unknown ids.
func (r *Repository) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Config = job.Config.Clone()
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (r *Repository) ListJobs(_ context.Context, state *crawler.JobState, limit, offset int) ([]crawler.Job, error) {
	r.mu.RLock()
	out := make([]crawler.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if state != nil && job.State != *state {
			continue
		}
		out = append(out, job)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return window(out, limit, offset), nil
}

// SavePage appends a page result. Results are immutable, so a repeated
// (job, seq) pair is rejected.
func (r *Repository) SavePage(_ context.Context, page crawler.PageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pages[page.JobID] {
		if existing.Seq == page.Seq {
			return fmt.Errorf("page %s/%d already recorded", page.JobID, page.Seq)
		}
	}
	r.pages[page.JobID] = append(r.pages[page.JobID], page)
	return nil
}

// ListPages returns a copy of the job's page results in sequence order.
func (r *Repository) ListPages(_ context.Context, jobID string) ([]crawler.PageResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]crawler.PageResult(nil), r.pages[jobID]...), nil
}

// AppendEvent stores an event; Seq must increase per job.
func (r *Repository) AppendEvent(_ context.Context, evt crawler.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.events[evt.JobID]
	if n := len(existing); n > 0 && existing[n-1].Seq >= evt.Seq {
		return fmt.Errorf("event seq %d for job %s is not increasing", evt.Seq, evt.JobID)
	}
	r.events[evt.JobID] = append(existing, evt)
	return nil
}

// ListEvents returns events with Seq > afterSeq, at most limit when limit > 0.
func (r *Repository) ListEvents(_ context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.events[jobID]
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > afterSeq })
	out := append([]crawler.Event(nil), events[start:]...)
	return window(out, limit, 0), nil
}

// LastEventSeq returns the highest stored Seq for the job, or zero.
func (r *Repository) LastEventSeq(_ context.Context, jobID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.events[jobID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Seq, nil
}

// Close is a no-op.
func (r *Repository) Close() error {
	return nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
