// Package postgres provides the Postgres-backed crawl repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Repository implements crawler.Repository on Postgres.
type Repository struct {
	pool pool
}

// Schema creates the tables the repository reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id          TEXT PRIMARY KEY,
	start_url   TEXT NOT NULL,
	state       TEXT NOT NULL,
	cause       TEXT NOT NULL DEFAULT '',
	config      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS crawl_jobs_state_idx ON crawl_jobs (state, created_at DESC);
CREATE TABLE IF NOT EXISTS crawl_pages (
	job_id         TEXT NOT NULL REFERENCES crawl_jobs (id),
	seq            INTEGER NOT NULL,
	url            TEXT NOT NULL,
	depth          INTEGER NOT NULL,
	outcome        TEXT NOT NULL,
	status_code    INTEGER NOT NULL DEFAULT 0,
	classification TEXT NOT NULL DEFAULT '',
	fetched_at     TIMESTAMPTZ NOT NULL,
	body           JSONB NOT NULL,
	PRIMARY KEY (job_id, seq)
);
CREATE TABLE IF NOT EXISTS crawl_events (
	job_id  TEXT NOT NULL,
	seq     BIGINT NOT NULL,
	kind    TEXT NOT NULL,
	at      TIMESTAMPTZ NOT NULL,
	body    JSONB NOT NULL,
	PRIMARY KEY (job_id, seq)
);`

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool wraps an existing pool, primarily for tests.
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

const upsertJob = `
INSERT INTO crawl_jobs (id, start_url, state, cause, config, created_at, started_at, finished_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	cause = EXCLUDED.cause,
	config = EXCLUDED.config,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	updated_at = EXCLUDED.updated_at`

// SaveJob upserts the job record.
func (r *Repository) SaveJob(ctx context.Context, job crawler.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	_, err = r.pool.Exec(ctx, upsertJob,
		job.ID, job.StartURL, string(job.State), job.Cause, cfg,
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, start_url, state, cause, config, created_at, started_at, finished_at, updated_at`

// GetJob loads one job or returns crawler.ErrJobNotFound.
func (r *Repository) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (r *Repository) ListJobs(ctx context.Context, state *crawler.JobState, limit, offset int) ([]crawler.Job, error) {
	var filter *string
	if state != nil {
		s := string(*state)
		filter = &s
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM crawl_jobs
WHERE ($1::text IS NULL OR state = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, filter, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job   crawler.Job
		state string
		cfg   []byte
	)
	err := row.Scan(&job.ID, &job.StartURL, &state, &job.Cause, &cfg,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.UpdatedAt)
	if err != nil {
		return crawler.Job{}, err
	}
	job.State = crawler.JobState(state)
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job config: %w", err)
	}
	return job, nil
}

// SavePage inserts an immutable page result.
func (r *Repository) SavePage(ctx context.Context, page crawler.PageResult) error {
	body, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO crawl_pages (job_id, seq, url, depth, outcome, status_code, classification, fetched_at, body)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		page.JobID, page.Seq, page.URL, page.Depth, string(page.Outcome),
		page.StatusCode, string(page.Classification), page.FetchedAt, body,
	)
	if err != nil {
		return fmt.Errorf("insert page %s/%d: %w", page.JobID, page.Seq, err)
	}
	return nil
}

// ListPages returns the job's page results in sequence order.
func (r *Repository) ListPages(ctx context.Context, jobID string) ([]crawler.PageResult, error) {
	rows, err := r.pool.Query(ctx, `SELECT body FROM crawl_pages WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var out []crawler.PageResult
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		var page crawler.PageResult
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// AppendEvent inserts one event; the primary key rejects a reused Seq.
func (r *Repository) AppendEvent(ctx context.Context, evt crawler.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO crawl_events (job_id, seq, kind, at, body) VALUES ($1,$2,$3,$4,$5)`,
		evt.JobID, evt.Seq, string(evt.Kind), evt.At, body)
	if err != nil {
		return fmt.Errorf("insert event %s/%d: %w", evt.JobID, evt.Seq, err)
	}
	return nil
}

// ListEvents returns events after afterSeq in order.
func (r *Repository) ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT body FROM crawl_events WHERE job_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		jobID, afterSeq, lim)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []crawler.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var evt crawler.Event
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LastEventSeq returns the highest stored Seq for the job, or zero.
func (r *Repository) LastEventSeq(ctx context.Context, jobID string) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM crawl_events WHERE job_id = $1`, jobID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}
