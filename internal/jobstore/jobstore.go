// Package jobstore defines persistence for Job records and a driver
// factory. The store is the single source of truth for job status polling;
// only the active consumer mutates a job after submission.
package jobstore

import (
	"context"
	"fmt"

	"carechain/internal/config"
	memorystore "carechain/internal/infra/persistence/memory"
	postgresstore "carechain/internal/infra/persistence/postgres"
	sqlitestore "carechain/internal/infra/persistence/sqlite"
	"carechain/pkg/domain"
)

// Driver identifies a concrete job store implementation.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"   // single file (default)
	DriverPostgres Driver = "postgres" // shared deployments
	DriverMemory   Driver = "memory"   // tests
)

// Store persists Job records.
type Store interface {
	// Create persists a new job. The ID must be unused.
	Create(ctx context.Context, job domain.Job) (domain.Job, error)
	// Get returns the job by ID; a missing job matches domain.IsNotFound.
	Get(ctx context.Context, id string) (domain.Job, error)
	// Update applies mutate to the stored job atomically and returns the
	// result.
	Update(ctx context.Context, id string, mutate func(*domain.Job) error) (domain.Job, error)
	// BySubject lists jobs for a subject, newest first.
	BySubject(ctx context.Context, subjectID string) ([]domain.Job, error)
	Close() error
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// Open selects a Store implementation from configuration.
func Open(ctx context.Context, cfg config.JobStore) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverSQLite, "":
		return sqlitestore.New(cfg.Path)
	case DriverPostgres:
		return postgresstore.New(ctx, cfg.DSN)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown jobstore driver %s", cfg.Driver)
	}
}
