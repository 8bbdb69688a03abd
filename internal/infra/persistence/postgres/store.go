// Package postgres implements the job store on Postgres for shared
// deployments where multiple submitters poll a single durable record.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"carechain/pkg/domain"
)

const defaultDSN = "postgres://localhost/carechain?sslmode=disable"

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	requester_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	diagnostic TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	last_modified TIMESTAMPTZ NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs(subject_id, created_at DESC)`

const selectCols = `id, subject_id, requester_id, status, progress, diagnostic, created_at, last_modified, retry_count`

// Store persists jobs in Postgres via the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed job store using dsn (falls back to a local
// default) and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

// Get returns the job by ID.
func (s *Store) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound{Entity: "job", ID: id}
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// Update applies mutate under SELECT ... FOR UPDATE.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
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
	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
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
		`UPDATE jobs SET status = $1, progress = $2, diagnostic = $3, last_modified = $4, retry_count = $5 WHERE id = $6`,
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
		`SELECT `+selectCols+` FROM jobs WHERE subject_id = $1 ORDER BY created_at DESC`, subjectID)
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
