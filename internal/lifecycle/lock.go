package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// LockRegistry hands out per-job lock tokens. A job may be executed only by
// the holder of its current token.
type LockRegistry interface {
	// Acquire returns a fresh token or crawler.ErrLockHeld.
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, error)
	// Refresh extends the lease when token still owns the lock.
	Refresh(ctx context.Context, jobID, token string, ttl time.Duration) error
	// Release drops the lock when token still owns it. Stale tokens are a no-op.
	Release(ctx context.Context, jobID, token string) error
}

type lease struct {
	token   string
	expires time.Time
}

// MemoryLocks is an in-process LockRegistry.
type MemoryLocks struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLocks builds an empty registry.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire implements LockRegistry.
func (l *MemoryLocks) Acquire(_ context.Context, jobID string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[jobID]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return "", fmt.Errorf("acquire %s: %w", jobID, crawler.ErrLockHeld)
	}
	token := uuid.NewString()
	l.leases[jobID] = lease{token: token, expires: expiry(now, ttl)}
	return token, nil
}

// Refresh implements LockRegistry.
func (l *MemoryLocks) Refresh(_ context.Context, jobID, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[jobID]
	if !ok || cur.token != token {
		return fmt.Errorf("refresh %s: %w", jobID, crawler.ErrLockHeld)
	}
	cur.expires = expiry(l.now(), ttl)
	l.leases[jobID] = cur
	return nil
}

// Release implements LockRegistry.
func (l *MemoryLocks) Release(_ context.Context, jobID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[jobID]; ok && cur.token == token {
		delete(l.leases, jobID)
	}
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
