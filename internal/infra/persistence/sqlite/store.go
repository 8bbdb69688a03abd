// Package sqlite implements the job store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"carechain/pkg/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	requester_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	diagnostic TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	last_modified TIMESTAMP NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs(subject_id, created_at DESC);`

// Store persists jobs in a SQLite database file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the job database at path.
func New(path string) (*Store, error) {
	if path == "" {
		path = "carechain.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create persists a new job.
func (s *Store) Create(ctx context.Context, job domain.Job) (domain.Job, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, subject_id, requester_id, status, progress, diagnostic, created_at, last_modified, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SubjectID, job.RequesterID, string(job.Status), job.Progress,
		job.Diagnostic, job.CreatedAt, job.LastModified, job.RetryCount)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func scanJob(row interface{ Scan(...any) error }) (domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	err := row.Scan(&job.ID, &job.SubjectID, &job.RequesterID, &status, &job.Progress,
		&job.Diagnostic, &job.CreatedAt, &job.LastModified, &job.RetryCount)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	job.LastModified = job.LastModified.UTC()
	return job, nil
}

const selectCols = `id, subject_id, requester_id, status, progress, diagnostic, created_at, last_modified, retry_count`

// Get returns the job by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound{Entity: "job", ID: id}
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// Update applies mutate inside a transaction. The single consumer is the
// only writer after submission, but the transaction keeps status polling
// consistent.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound{Entity: "job", ID: id}
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select job: %w", err)
	}
	if err := mutate(&job); err != nil {
		return domain.Job{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, diagnostic = ?, last_modified = ?, retry_count = ? WHERE id = ?`,
		string(job.Status), job.Progress, job.Diagnostic, job.LastModified, job.RetryCount, job.ID); err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return job, nil
}

// BySubject lists a subject's jobs, newest first.
func (s *Store) BySubject(ctx context.Context, subjectID string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM jobs WHERE subject_id = ? ORDER BY created_at DESC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Job
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
