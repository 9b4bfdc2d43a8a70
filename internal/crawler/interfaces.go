package crawler

import (
	"context"
	"time"
)

// RenderPort loads a URL in a rendering engine and returns the snapshot or a
// *PageFetchError.
type RenderPort interface {
	Load(ctx context.Context, req RenderRequest) (Snapshot, error)
}

// BlobStore persists raw bytes and returns a retrievable URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// JobRepository persists job records.
type JobRepository interface {
	SaveJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, state *JobState, limit, offset int) ([]Job, error)
}

// PageRepository persists immutable page results.
type PageRepository interface {
	SavePage(ctx context.Context, page PageResult) error
	ListPages(ctx context.Context, jobID string) ([]PageResult, error)
}

// EventRepository persists the append-only event record.
type EventRepository interface {
	AppendEvent(ctx context.Context, evt Event) error
	ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]Event, error)
	LastEventSeq(ctx context.Context, jobID string) (int64, error)
}

// Repository bundles every persistence concern behind one backend.
type Repository interface {
	JobRepository
	PageRepository
	EventRepository
	Close() error
}

// Queue holds ready jobs for the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// HostLimiter throttles fetches per host across jobs.
type HostLimiter interface {
	Wait(ctx context.Context, url string) error
}

// RobotsPolicy decides whether a URL may be fetched under robots.txt and how
// long the host asks crawlers to wait between requests.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}

// Hasher produces content hashes for artifact keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reports wall time in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// IDGenerator produces job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
