package pipeline

import (
	"context"

	"carechain/internal/provenance"
	"carechain/internal/queue"
	"carechain/pkg/domain"
)

// Service is the read-plus-submit facade exposed to callers (the CLI and
// any embedding process). All mutation happens through the consumer loop;
// Service only submits, polls, and reads the chain.
type Service struct {
	manager *Manager
}

// NewService wraps a wired Manager.
func NewService(m *Manager) *Service { return &Service{manager: m} }

// SubmitAnalysis accepts a new analysis request and returns the pending job
// for status polling.
func (s *Service) SubmitAnalysis(ctx context.Context, subjectID, requesterID string) (domain.Job, error) {
	return s.manager.Submit(ctx, subjectID, requesterID)
}

// JobStatus returns the durable job record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (domain.Job, error) {
	return s.manager.jobs.Get(ctx, jobID)
}

// JobsBySubject lists a subject's jobs, newest first.
func (s *Service) JobsBySubject(ctx context.Context, subjectID string) ([]domain.Job, error) {
	return s.manager.jobs.BySubject(ctx, subjectID)
}

// Latest returns the subject's current head record.
func (s *Service) Latest(ctx context.Context, subjectID string) (domain.ProvenanceRecord, error) {
	return s.manager.chain.GetLatest(ctx, subjectID)
}

// Chain returns the analysis's record history, oldest first.
func (s *Service) Chain(ctx context.Context, analysisID string, maxDepth int) (provenance.Chain, error) {
	return s.manager.chain.GetChain(ctx, analysisID, maxDepth)
}

// Verify checks a record against its subject's anchor.
func (s *Service) Verify(ctx context.Context, rec domain.ProvenanceRecord) (bool, error) {
	return s.manager.chain.Verify(ctx, rec)
}

// AuditChain re-verifies every stored record of an analysis chain.
func (s *Service) AuditChain(ctx context.Context, analysisID string, maxDepth int) (int, error) {
	return s.manager.chain.AuditChain(ctx, analysisID, maxDepth)
}

// DeadLetters lists messages held for manual inspection.
func (s *Service) DeadLetters(ctx context.Context) ([]queue.DeadLetteredMessage, error) {
	return s.manager.transport.DeadLetters(ctx)
}
