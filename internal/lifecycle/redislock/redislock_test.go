package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

type fakeClient struct {
	values map[string]string
	err    error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	token, _ := args[0].(string)
	if f.values[keys[0]] != token {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == releaseScript {
		delete(f.values, keys[0])
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestLocksAcquireRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeClient()
	locks := NewWithClient(fake, "")

	token, err := locks.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, token, fake.values["crawl:lock:job-1"])

	_, err = locks.Acquire(ctx, "job-1", time.Minute)
	require.ErrorIs(t, err, crawler.ErrLockHeld)

	require.NoError(t, locks.Refresh(ctx, "job-1", token, time.Minute))
	require.ErrorIs(t, locks.Refresh(ctx, "job-1", "other", time.Minute), crawler.ErrLockHeld)

	require.NoError(t, locks.Release(ctx, "job-1", "other"))
	require.Contains(t, fake.values, "crawl:lock:job-1")
	require.NoError(t, locks.Release(ctx, "job-1", token))
	require.NotContains(t, fake.values, "crawl:lock:job-1")

	require.NoError(t, locks.Close())
	require.True(t, fake.closed)
}

func TestLocksPropagatesRedisErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.err = errors.New("connection refused")
	locks := NewWithClient(fake, "p:")

	_, err := locks.Acquire(context.Background(), "job", time.Minute)
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrLockHeld)
	require.Error(t, locks.Release(context.Background(), "job", "t"))
}
