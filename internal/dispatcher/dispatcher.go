// Package dispatcher manages worker fan-out over the ready-job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. The pool size bounds
// how many jobs execute at once.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds a Dispatcher with size workers sharing one executor.
func NewPool(size int, queue crawler.Queue, exec worker.Executor, hooks worker.Hooks, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i+1, queue, exec, hooks, logger))
	}
	return New(queue, workers)
}

// Size is the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Dequeue proxies to the underlying queue.
func (d *Dispatcher) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	item, err := d.queue.Dequeue(ctx)
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("queue dequeue: %w", err)
	}
	return item, nil
}
