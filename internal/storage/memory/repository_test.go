package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func TestRepositoryJobs(t *testing.T) {
	t.Parallel()

	repo := NewRepository()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := repo.GetJob(ctx, "missing")
	require.True(t, errors.Is(err, crawler.ErrJobNotFound))

	for i, id := range []string{"a", "b", "c"} {
		job := crawler.Job{ID: id, State: crawler.StatePending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if id == "b" {
			job.State = crawler.StateRunning
		}
		require.NoError(t, repo.SaveJob(ctx, job))
	}

	all, err := repo.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, jobIDs(all))

	pending := crawler.StatePending
	filtered, err := repo.ListJobs(ctx, &pending, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, jobIDs(filtered))

	job, err := repo.GetJob(ctx, "b")
	require.NoError(t, err)
	job.State = crawler.StateCompleted
	require.NoError(t, repo.SaveJob(ctx, job))
	job, err = repo.GetJob(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, crawler.StateCompleted, job.State)
}

func TestRepositoryJobConfigIsCopied(t *testing.T) {
	t.Parallel()

	repo := NewRepository()
	ctx := context.Background()
	cfg := crawler.JobConfig{DenyDomains: []string{"ads.example"}}
	require.NoError(t, repo.SaveJob(ctx, crawler.Job{ID: "j", Config: cfg}))
	cfg.DenyDomains[0] = "mutated"

	job, err := repo.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, []string{"ads.example"}, job.Config.DenyDomains)
}

func TestRepositoryPagesAreImmutable(t *testing.T) {
	t.Parallel()

	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.SavePage(ctx, crawler.PageResult{JobID: "j", Seq: 1, URL: "https://a.example/"}))
	require.Error(t, repo.SavePage(ctx, crawler.PageResult{JobID: "j", Seq: 1, URL: "https://b.example/"}))

	pages, err := repo.ListPages(ctx, "j")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	pages[0].URL = "changed"
	again, err := repo.ListPages(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, "https://a.example/", again[0].URL)
}

func TestRepositoryEvents(t *testing.T) {
	t.Parallel()

	repo := NewRepository()
	ctx := context.Background()
	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, repo.AppendEvent(ctx, crawler.Event{JobID: "j", Seq: seq, Kind: crawler.EventPageLoaded}))
	}
	require.Error(t, repo.AppendEvent(ctx, crawler.Event{JobID: "j", Seq: 3}))

	last, err := repo.LastEventSeq(ctx, "j")
	require.NoError(t, err)
	require.EqualValues(t, 5, last)

	events, err := repo.ListEvents(ctx, "j", 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 3, events[0].Seq)
	require.EqualValues(t, 4, events[1].Seq)

	none, err := repo.ListEvents(ctx, "other", 0, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func jobIDs(jobs []crawler.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
