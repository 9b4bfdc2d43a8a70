package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
	"github.com/JakeFAU/crawl-orchestrator/internal/publisher/memory"
)

func pageEvent(seq int64, kind crawler.EventKind) progress.Event {
	return progress.Event{JobID: "j", Seq: seq, At: time.Now(), Kind: kind, URL: "https://a.example/"}
}

func TestAlertSinkHighErrorRateFiresOnce(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		alerts []Alert
	)
	sink := NewAlertSink(AlertConfig{}, nil, func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
	})

	var batch []progress.Event
	for i := int64(1); i <= 10; i++ {
		batch = append(batch, pageEvent(i, crawler.EventPageFailed))
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Empty(t, alerts, "needs more than ten pages")

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		pageEvent(11, crawler.EventPageFailed),
		pageEvent(12, crawler.EventPageFailed),
	}))
	require.Len(t, alerts, 1)
	require.Equal(t, "high_error_rate", alerts[0].Rule)
}

func TestAlertSinkCaptchaAndCompletion(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	var alerts []Alert
	sink := NewAlertSink(DefaultAlertConfig(), zap.New(core), func(a Alert) { alerts = append(alerts, a) })

	finding := &crawler.ChallengeFinding{Type: crawler.ChallengeHCaptcha, Confidence: 1}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", Seq: 1, At: time.Now(), Kind: crawler.EventCaptchaDetected, URL: "https://a.example/", Finding: finding},
		{JobID: "j", Seq: 2, At: time.Now(), Kind: crawler.EventStateChanged, From: crawler.StateRunning,
			To: crawler.StateCompleted, Stats: &crawler.JobStats{PagesVisited: 3, SuccessRate: 1}},
	}))

	require.Len(t, alerts, 2)
	require.Equal(t, "captcha_detected", alerts[0].Rule)
	require.Equal(t, "job_finished", alerts[1].Rule)
	require.Equal(t, 1, logs.FilterMessage("job finished").Len())
	require.Equal(t, 1, logs.FilterLevelExact(zap.WarnLevel).Len())
}

func TestAlertSinkTaskStuck(t *testing.T) {
	t.Parallel()

	var alerts []Alert
	sink := NewAlertSink(AlertConfig{StuckAfter: 30 * time.Minute}, nil, func(a Alert) { alerts = append(alerts, a) })
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", Seq: 1, At: started, Kind: crawler.EventStateChanged, From: crawler.StatePending, To: crawler.StateRunning},
		{JobID: "j", Seq: 2, At: started.Add(10 * time.Minute), Kind: crawler.EventPageLoaded},
	}))
	require.Empty(t, alerts)

	// Quiet jobs are still caught by the periodic sweep.
	sink.Sweep(started.Add(31 * time.Minute))
	require.Len(t, alerts, 1)
	require.Equal(t, "task_stuck", alerts[0].Rule)
	require.Equal(t, "j", alerts[0].JobID)

	sink.Sweep(started.Add(45 * time.Minute))
	require.Len(t, alerts, 1, "fires once per run")

	// Pausing clears the run; a new run is measured from its own start.
	restarted := started.Add(50 * time.Minute)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", Seq: 3, At: restarted, Kind: crawler.EventStateChanged, From: crawler.StateRunning, To: crawler.StatePaused},
		{JobID: "j", Seq: 4, At: restarted, Kind: crawler.EventStateChanged, From: crawler.StatePaused, To: crawler.StateRunning},
	}))
	sink.Sweep(restarted.Add(20 * time.Minute))
	require.Len(t, alerts, 1)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", Seq: 5, At: restarted.Add(35 * time.Minute), Kind: crawler.EventPageLoaded},
	}))
	require.Len(t, alerts, 2)

	// Finished jobs are forgotten.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "j", Seq: 6, At: restarted.Add(40 * time.Minute), Kind: crawler.EventStateChanged, From: crawler.StateRunning, To: crawler.StateCompleted},
	}))
	sink.Sweep(restarted.Add(10 * time.Hour))
	require.Len(t, alerts, 3)
	require.Equal(t, "job_finished", alerts[2].Rule)
}

type flakyPublisher struct {
	calls int
}

func (p *flakyPublisher) Publish(context.Context, string, any) (string, error) {
	p.calls++
	if p.calls == 1 {
		return "", errors.New("broker unavailable")
	}
	return "ok", nil
}

func TestPublishSink(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	closed := false
	sink := NewPublishSink(pub, "crawl-events", func() error { closed = true; return nil })
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		pageEvent(1, crawler.EventPageLoaded),
		pageEvent(2, crawler.EventPageLoaded),
	}))
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-events", msgs[0].Topic)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, closed)

	flaky := &flakyPublisher{}
	err := NewPublishSink(flaky, "t", nil).Consume(context.Background(), []progress.Event{
		pageEvent(1, crawler.EventPageLoaded),
		pageEvent(2, crawler.EventPageLoaded),
	})
	require.Error(t, err)
	require.Equal(t, 2, flaky.calls)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		pageEvent(1, crawler.EventPageLoaded),
		{JobID: "j", Seq: 2, At: time.Now(), Kind: crawler.EventStateChanged, From: crawler.StatePending, To: crawler.StateRunning},
	}))
	require.Equal(t, 2, logs.Len())
	require.Equal(t, zap.DebugLevel, logs.All()[0].Level)
	require.Equal(t, zap.InfoLevel, logs.All()[1].Level)
}
