// Package sqlite provides a single-file crawl repository on modernc.org/sqlite.
// It is the default store for one-shot crawls run from the command line.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Fixed width so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	body       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs (state, created_at);
CREATE TABLE IF NOT EXISTS pages (
	job_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	url    TEXT NOT NULL,
	body   TEXT NOT NULL,
	PRIMARY KEY (job_id, seq)
);
CREATE TABLE IF NOT EXISTS events (
	job_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	kind   TEXT NOT NULL,
	body   TEXT NOT NULL,
	PRIMARY KEY (job_id, seq)
);`

// Repository implements crawler.Repository on SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection avoids SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	repo := &Repository{db: db}
	if err := repo.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := r.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	if _, err := r.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Repository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveJob upserts the job record.
func (r *Repository) SaveJob(ctx context.Context, job crawler.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO jobs (id, state, created_at, body) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET state = excluded.state, body = excluded.body`,
		job.ID, string(job.State), job.CreatedAt.UTC().Format(timeLayout), string(body))
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job or returns crawler.ErrJobNotFound.
func (r *Repository) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = ?`, jobID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var job crawler.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by state.
func (r *Repository) ListJobs(ctx context.Context, state *crawler.JobState, limit, offset int) ([]crawler.Job, error) {
	var filter any
	if state != nil {
		filter = string(*state)
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT body FROM jobs WHERE (?1 IS NULL OR state = ?1)
ORDER BY created_at DESC, id DESC LIMIT ?2 OFFSET ?3`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return decodeRows[crawler.Job](rows, "job")
}

// SavePage inserts an immutable page result.
func (r *Repository) SavePage(ctx context.Context, page crawler.PageResult) error {
	body, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO pages (job_id, seq, url, body) VALUES (?, ?, ?, ?)`,
		page.JobID, page.Seq, page.URL, string(body))
	if err != nil {
		return fmt.Errorf("insert page %s/%d: %w", page.JobID, page.Seq, err)
	}
	return nil
}

// ListPages returns the job's page results in sequence order.
func (r *Repository) ListPages(ctx context.Context, jobID string) ([]crawler.PageResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT body FROM pages WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return decodeRows[crawler.PageResult](rows, "page")
}

// AppendEvent inserts one event; the primary key rejects a reused Seq.
func (r *Repository) AppendEvent(ctx context.Context, evt crawler.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO events (job_id, seq, kind, body) VALUES (?, ?, ?, ?)`,
		evt.JobID, evt.Seq, string(evt.Kind), string(body))
	if err != nil {
		return fmt.Errorf("insert event %s/%d: %w", evt.JobID, evt.Seq, err)
	}
	return nil
}

// ListEvents returns events after afterSeq in order.
func (r *Repository) ListEvents(ctx context.Context, jobID string, afterSeq int64, limit int) ([]crawler.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM events WHERE job_id = ? AND seq > ? ORDER BY seq LIMIT ?`, jobID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return decodeRows[crawler.Event](rows, "event")
}

// LastEventSeq returns the highest stored Seq for the job, or zero.
func (r *Repository) LastEventSeq(ctx context.Context, jobID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE job_id = ?`, jobID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last event seq: %w", err)
	}
	return seq, nil
}

func decodeRows[T any](rows *sql.Rows, what string) ([]T, error) {
	defer func() { _ = rows.Close() }()
	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", what, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", what, err)
	}
	return out, nil
}
