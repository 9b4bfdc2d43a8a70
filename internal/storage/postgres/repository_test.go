package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo, err := NewWithPool(mock)
	require.NoError(t, err)
	return repo, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestSaveJobUpserts(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	now := time.Unix(1700000000, 0).UTC()
	job := crawler.Job{
		ID:        "job-1",
		StartURL:  "https://example.com",
		State:     crawler.StateRunning,
		Config:    crawler.JobConfig{MaxPages: 3},
		CreatedAt: now,
		StartedAt: &now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "https://example.com", "RUNNING", "", pgxmock.AnyArg(),
			now, job.StartedAt, job.FinishedAt, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	now := time.Unix(1700000000, 0).UTC()
	cfg, err := json.Marshal(crawler.JobConfig{MaxPages: 7, Priority: crawler.PriorityHigh})
	require.NoError(t, err)

	rows := mock.NewRows([]string{
		"id", "start_url", "state", "cause", "config", "created_at", "started_at", "finished_at", "updated_at",
	}).AddRow("job-1", "https://example.com", "CAPTCHA_DETECTED", "recaptcha_v2 detected", cfg,
		now, &now, (*time.Time)(nil), now)
	mock.ExpectQuery("SELECT .* FROM crawl_jobs WHERE id").WithArgs("job-1").WillReturnRows(rows)

	job, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.StateCaptchaDetected, job.State)
	require.Equal(t, 7, job.Config.MaxPages)
	require.Equal(t, crawler.PriorityHigh, job.Config.Priority)
	require.NotNil(t, job.StartedAt)
	require.Nil(t, job.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .* FROM crawl_jobs WHERE id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetJob(context.Background(), "nope")
	require.True(t, errors.Is(err, crawler.ErrJobNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePageAndList(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	now := time.Unix(1700000000, 0).UTC()
	page := crawler.PageResult{
		JobID:          "job-1",
		Seq:            2,
		URL:            "https://example.com/b",
		Depth:          1,
		Outcome:        crawler.OutcomeSuccess,
		StatusCode:     200,
		Classification: crawler.PageBlog,
		FetchedAt:      now,
	}
	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs("job-1", 2, "https://example.com/b", 1, "success", 200, "blog", now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SavePage(context.Background(), page))

	body, err := json.Marshal(page)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT body FROM crawl_pages").WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"body"}).AddRow(body))
	pages, err := repo.ListPages(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, page.URL, pages[0].URL)
	require.Equal(t, crawler.PageBlog, pages[0].Classification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEvents(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	now := time.Unix(1700000000, 0).UTC()
	evt := crawler.Event{JobID: "job-1", Seq: 4, Kind: crawler.EventStateChanged, At: now,
		From: crawler.StatePending, To: crawler.StateRunning}

	mock.ExpectExec("INSERT INTO crawl_events").
		WithArgs("job-1", int64(4), "state_changed", now, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.AppendEvent(context.Background(), evt))

	body, err := json.Marshal(evt)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT body FROM crawl_events").WithArgs("job-1", int64(3), pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"body"}).AddRow(body))
	events, err := repo.ListEvents(context.Background(), "job-1", 3, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, crawler.StateRunning, events[0].To)

	mock.ExpectQuery("SELECT COALESCE").WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"max"}).AddRow(int64(4)))
	last, err := repo.LastEventSeq(context.Background(), "job-1")
	require.NoError(t, err)
	require.EqualValues(t, 4, last)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
