package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/pkg/domain"
)

func TestCreateGetAndDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := domain.Job{ID: "j1", SubjectID: "p1", Status: domain.JobRequested}
	created, err := s.Create(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, job, created)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	_, err = s.Create(ctx, job)
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))

	_, err = s.Get(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
}

func TestUpdateIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, domain.Job{ID: "j1", SubjectID: "p1", Status: domain.JobRequested})
	require.NoError(t, err)

	updated, err := s.Update(ctx, "j1", func(j *domain.Job) error {
		j.Status = domain.JobInProgress
		j.Progress = 30
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobInProgress, updated.Status)
	assert.Equal(t, 30, updated.Progress)

	// A failing mutation must leave the stored job untouched.
	boom := errors.New("mutation rejected")
	_, err = s.Update(ctx, "j1", func(j *domain.Job) error {
		j.Progress = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 30, got.Progress)

	_, err = s.Update(ctx, "ghost", func(j *domain.Job) error { return nil })
	assert.True(t, domain.IsNotFound(err))
}

func TestBySubjectNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"j1", "j2", "j3"} {
		_, err := s.Create(ctx, domain.Job{
			ID: id, SubjectID: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, domain.Job{ID: "other", SubjectID: "p2", CreatedAt: base})
	require.NoError(t, err)

	jobs, err := s.BySubject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "j3", jobs[0].ID)
	assert.Equal(t, "j1", jobs[2].ID)
}
