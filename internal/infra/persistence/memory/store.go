// Package memory implements an in-memory job store for tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"carechain/pkg/domain"
)

// Store keeps jobs in a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// New returns an empty in-memory job store.
func New() *Store { return &Store{jobs: make(map[string]domain.Job)} }

// Create persists a new job.
func (s *Store) Create(_ context.Context, job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.Job{}, domain.Conflictf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return job, nil
}

// Get returns the job by ID.
func (s *Store) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound{Entity: "job", ID: id}
	}
	return job, nil
}

// Update applies mutate atomically.
func (s *Store) Update(_ context.Context, id string, mutate func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound{Entity: "job", ID: id}
	}
	if err := mutate(&job); err != nil {
		return domain.Job{}, err
	}
	s.jobs[id] = job
	return job, nil
}

// BySubject lists a subject's jobs, newest first.
func (s *Store) BySubject(_ context.Context, subjectID string) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.SubjectID == subjectID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the memory driver.
func (s *Store) Close() error { return nil }
