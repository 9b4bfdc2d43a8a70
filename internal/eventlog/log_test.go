package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []crawler.Event
}

func (r *recordingEmitter) Emit(evt crawler.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []crawler.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crawler.Event(nil), r.events...)
}

type failingRepo struct {
	*memory.Repository
}

func (failingRepo) AppendEvent(context.Context, crawler.Event) error {
	return errors.New("disk full")
}

var fixed = crawler.ClockFunc(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) })

func TestAppendSequencesPerJob(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	log := New(memory.NewRepository(), emitter, fixed, nil)
	ctx := context.Background()

	a1, err := log.Append(ctx, crawler.Event{JobID: "a", Kind: crawler.EventPageLoaded, URL: "https://x/"})
	require.NoError(t, err)
	b1, err := log.Append(ctx, crawler.Event{JobID: "b", Kind: crawler.EventPageLoaded, URL: "https://y/"})
	require.NoError(t, err)
	a2, err := log.Append(ctx, crawler.Event{JobID: "a", Kind: crawler.EventPageFailed, URL: "https://x/2"})
	require.NoError(t, err)

	require.EqualValues(t, 1, a1.Seq)
	require.EqualValues(t, 1, b1.Seq)
	require.EqualValues(t, 2, a2.Seq)
	require.Equal(t, fixed.Now(), a1.At)
	require.Len(t, emitter.Events(), 3)

	events, err := log.List(ctx, "a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, crawler.EventPageFailed, events[1].Kind)
}

func TestAppendResumesFromStoredSequence(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.AppendEvent(ctx, crawler.Event{JobID: "a", Seq: 7, Kind: crawler.EventJobFailed}))

	log := New(repo, nil, fixed, nil)
	evt, err := log.Append(ctx, crawler.Event{JobID: "a", Kind: crawler.EventCaptchaSolved})
	require.NoError(t, err)
	require.EqualValues(t, 8, evt.Seq)

	log.Forget("a")
	evt, err = log.Append(ctx, crawler.Event{JobID: "a", Kind: crawler.EventCaptchaSolved})
	require.NoError(t, err)
	require.EqualValues(t, 9, evt.Seq)
}

func TestAppendConcurrentIsGapFree(t *testing.T) {
	t.Parallel()

	log := New(memory.NewRepository(), nil, nil, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := log.Append(ctx, crawler.Event{JobID: "a", Kind: crawler.EventJobFailed})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := log.List(ctx, "a", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 50)
	for i, evt := range events {
		require.EqualValues(t, i+1, evt.Seq)
	}
}

func TestAppendFailureDoesNotEmitOrAdvance(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	log := New(failingRepo{memory.NewRepository()}, emitter, fixed, nil)
	_, err := log.Append(context.Background(), crawler.Event{JobID: "a", Kind: crawler.EventJobFailed})
	require.Error(t, err)
	require.Empty(t, emitter.Events())

	_, err = log.Append(context.Background(), crawler.Event{Kind: crawler.EventJobFailed})
	require.Error(t, err)
}
