// Package eventlog is the append-only record of job transitions and page
// outcomes. Append persists synchronously and assigns a per-job sequence
// number; only then is the event handed to the progress hub.
package eventlog

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
)

// Log sequences and persists events.
type Log struct {
	repo    crawler.EventRepository
	emitter progress.Emitter
	clock   crawler.Clock
	logger  *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobSeq
}

type jobSeq struct {
	mu     sync.Mutex
	loaded bool
	last   int64
}

// New builds a Log. emitter may be nil.
func New(repo crawler.EventRepository, emitter progress.Emitter, clock crawler.Clock, logger *zap.Logger) *Log {
	if clock == nil {
		clock = crawler.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		repo:    repo,
		emitter: emitter,
		clock:   clock,
		logger:  logger.Named("eventlog"),
		jobs:    make(map[string]*jobSeq),
	}
}

// Append assigns the next Seq for evt.JobID, stamps At when unset, persists
// the event and then emits it. Appends for one job are serialized so Seq is
// strictly increasing with no gaps.
func (l *Log) Append(ctx context.Context, evt crawler.Event) (crawler.Event, error) {
	if evt.JobID == "" {
		return crawler.Event{}, fmt.Errorf("append event: job id is required")
	}
	seq := l.seqFor(evt.JobID)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	if !seq.loaded {
		last, err := l.repo.LastEventSeq(ctx, evt.JobID)
		if err != nil {
			return crawler.Event{}, fmt.Errorf("load event seq: %w", err)
		}
		seq.last = last
		seq.loaded = true
	}
	evt.Seq = seq.last + 1
	if evt.At.IsZero() {
		evt.At = l.clock.Now()
	}
	if err := l.repo.AppendEvent(ctx, evt); err != nil {
		return crawler.Event{}, fmt.Errorf("append event %s/%d: %w", evt.JobID, evt.Seq, err)
	}
	seq.last = evt.Seq
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
	return evt, nil
}

// List returns events after afterSeq, at most limit when limit > 0.
func (l *Log) List(ctx context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error) {
	events, err := l.repo.ListEvents(ctx, jobID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Forget drops the cached sequence of a finished job.
func (l *Log) Forget(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, jobID)
}

func (l *Log) seqFor(jobID string) *jobSeq {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.jobs[jobID]
	if !ok {
		seq = &jobSeq{}
		l.jobs[jobID] = seq
	}
	return seq
}
