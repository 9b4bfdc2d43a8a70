// Package worker implements one execution slot of the job pool.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Executor runs one claimed job to a stopping point.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// Hooks observe worker activity. Any field may be nil.
type Hooks struct {
	Busy func()
	Idle func()
}

// Worker consumes queue items and executes them one at a time.
type Worker struct {
	id       int
	queue    crawler.Queue
	executor Executor
	hooks    Hooks
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, executor Executor, hooks Hooks, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		executor: executor,
		hooks:    hooks,
		logger:   logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	if w.hooks.Busy != nil {
		w.hooks.Busy()
	}
	if w.hooks.Idle != nil {
		defer w.hooks.Idle()
	}
	start := time.Now()
	if err := w.executor.Execute(ctx, item.JobID); err != nil {
		level := w.logger.Error
		if errors.Is(err, crawler.ErrLockHeld) {
			// Another runner owns the job; the duplicate item is dropped.
			level = w.logger.Warn
		}
		level("job execution failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("job execution returned",
		zap.String("job_id", item.JobID),
		zap.Duration("elapsed", time.Since(start)),
	)
}
