package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })
	return repo
}

func TestJobsRoundTripAndOrdering(t *testing.T) {
	t.Parallel()

	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"j1", "j2", "j3"} {
		job := crawler.Job{
			ID:        id,
			StartURL:  "https://example.com/" + id,
			State:     crawler.StatePending,
			Config:    crawler.JobConfig{MaxPages: i + 1, Extra: map[string]any{"tag": id}},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.SaveJob(ctx, job))
	}

	job, err := repo.GetJob(ctx, "j2")
	require.NoError(t, err)
	require.Equal(t, 2, job.Config.MaxPages)
	require.Equal(t, "j2", job.Config.Extra["tag"])

	finished := base.Add(time.Minute)
	job.State = crawler.StateCompleted
	job.FinishedAt = &finished
	require.NoError(t, repo.SaveJob(ctx, job))

	all, err := repo.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "j3", all[0].ID)
	require.Equal(t, "j1", all[2].ID)

	pending := crawler.StatePending
	onlyPending, err := repo.ListJobs(ctx, &pending, 10, 0)
	require.NoError(t, err)
	require.Len(t, onlyPending, 2)

	completed := crawler.StateCompleted
	done, err := repo.ListJobs(ctx, &completed, 0, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.NotNil(t, done[0].FinishedAt)
	require.True(t, finished.Equal(*done[0].FinishedAt))

	_, err = repo.GetJob(ctx, "missing")
	require.True(t, errors.Is(err, crawler.ErrJobNotFound))
}

func TestPagesAreAppendOnly(t *testing.T) {
	t.Parallel()

	repo := openTestRepo(t)
	ctx := context.Background()
	page := crawler.PageResult{
		JobID:   "j",
		Seq:     1,
		URL:     "https://example.com/",
		Outcome: crawler.OutcomeSuccess,
		Data:    &crawler.ExtractedData{Links: []string{"https://example.com/a"}},
	}
	require.NoError(t, repo.SavePage(ctx, page))
	require.Error(t, repo.SavePage(ctx, page))

	page.Seq = 2
	page.Outcome = crawler.OutcomeTimeout
	page.Data = nil
	require.NoError(t, repo.SavePage(ctx, page))

	pages, err := repo.ListPages(ctx, "j")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, []string{"https://example.com/a"}, pages[0].Data.Links)
	require.Equal(t, crawler.OutcomeTimeout, pages[1].Outcome)
}

func TestEventsPaging(t *testing.T) {
	t.Parallel()

	repo := openTestRepo(t)
	ctx := context.Background()

	last, err := repo.LastEventSeq(ctx, "j")
	require.NoError(t, err)
	require.Zero(t, last)

	for seq := int64(1); seq <= 4; seq++ {
		require.NoError(t, repo.AppendEvent(ctx, crawler.Event{JobID: "j", Seq: seq, Kind: crawler.EventPageLoaded}))
	}
	require.Error(t, repo.AppendEvent(ctx, crawler.Event{JobID: "j", Seq: 2}))

	events, err := repo.ListEvents(ctx, "j", 1, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.EqualValues(t, 2, events[0].Seq)
	require.EqualValues(t, 3, events[1].Seq)

	last, err = repo.LastEventSeq(ctx, "j")
	require.NoError(t, err)
	require.EqualValues(t, 4, last)
}
