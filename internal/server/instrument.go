package server

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
	queuemem "github.com/JakeFAU/crawl-orchestrator/internal/queue/memory"
	"github.com/JakeFAU/crawl-orchestrator/internal/worker"
)

// observedQueue reports the ready-queue depth after every change.
type observedQueue struct {
	*queuemem.Queue
}

func (q observedQueue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	err := q.Queue.Enqueue(ctx, item)
	metrics.SetJobsQueued(q.Len())
	return err //nolint:wrapcheck // queue errors are already wrapped
}

func (q observedQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	item, err := q.Queue.Dequeue(ctx)
	metrics.SetJobsQueued(q.Len())
	return item, err //nolint:wrapcheck // queue errors are already wrapped
}

// conflictCounter counts executions rejected because another runner holds
// the job lock.
type conflictCounter struct {
	next worker.Executor
}

func (c conflictCounter) Execute(ctx context.Context, jobID string) error {
	err := c.next.Execute(ctx, jobID)
	if errors.Is(err, crawler.ErrLockHeld) {
		metrics.ObserveLockConflict()
	}
	return err //nolint:wrapcheck // passthrough
}

func workerHooks() worker.Hooks {
	return worker.Hooks{
		Busy: metrics.IncActiveWorkers,
		Idle: metrics.DecActiveWorkers,
	}
}
