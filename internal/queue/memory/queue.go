// Package memory provides the in-process ready-job queue.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Queue is a bounded priority queue. Higher priorities dequeue first and
// items of equal priority leave in arrival order.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
	seq      int64
	closed   bool
	// changed is closed and replaced on every state change to wake waiters.
	changed chan struct{}
}

// NewQueue constructs a queue holding at most capacity items. A capacity
// below one is treated as one.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// Enqueue adds item, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return fmt.Errorf("enqueue %s: %w", item.JobID, crawler.ErrQueueClosed)
		}
		if len(q.items) < q.capacity {
			q.seq++
			item.Enqueued = q.seq
			heap.Push(&q.items, item)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Dequeue pops the highest-priority item, blocking while the queue is empty.
// Items left at Close are still handed out before ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(crawler.QueueItem)
			q.broadcast()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len reports the number of waiting items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

// broadcast must be called with mu held.
func (q *Queue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

type itemHeap []crawler.QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ri, rj := h[i].Priority.Rank(), h[j].Priority.Rank()
	if ri != rj {
		return ri > rj
	}
	return h[i].Enqueued < h[j].Enqueued
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(crawler.QueueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
