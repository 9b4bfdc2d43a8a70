// Package redislock implements lifecycle.LockRegistry on Redis so several
// orchestrator processes can share one set of job locks.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
	refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

// client is the subset of redis.UniversalClient the registry needs.
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Close() error
}

// Locks stores one key per job holding the current token.
type Locks struct {
	client client
	prefix string
}

// New dials addr lazily; go-redis connects on first use.
func New(addr, password string, db int, prefix string) *Locks {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

// NewWithClient wraps an existing client. Tests pass a fake.
func NewWithClient(c client, prefix string) *Locks {
	if prefix == "" {
		prefix = "crawl:lock:"
	}
	return &Locks{client: c, prefix: prefix}
}

// Close closes the Redis client.
func (l *Locks) Close() error {
	return l.client.Close()
}

// Acquire implements lifecycle.LockRegistry.
func (l *Locks) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+jobID, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx %s: %w", jobID, err)
	}
	if !ok {
		return "", fmt.Errorf("acquire %s: %w", jobID, crawler.ErrLockHeld)
	}
	return token, nil
}

// Refresh implements lifecycle.LockRegistry.
func (l *Locks) Refresh(ctx context.Context, jobID, token string, ttl time.Duration) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.prefix + jobID}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis refresh %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh %s: %w", jobID, crawler.ErrLockHeld)
	}
	return nil
}

// Release implements lifecycle.LockRegistry.
func (l *Locks) Release(ctx context.Context, jobID, token string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.prefix + jobID}, token).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", jobID, err)
	}
	return nil
}
