// Package pipeline runs the asynchronous analysis lifecycle: submission
// persists a job and enqueues a durable message, and the single-prefetch
// consumer drives each job through snapshot fetch, synthesis, and the chain
// write. Messages are acknowledged only after the job reaches a terminal
// state, so a crash mid-flight redelivers rather than loses work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"carechain/internal/clinical"
	"carechain/internal/config"
	"carechain/internal/genesis"
	"carechain/internal/jobstore"
	"carechain/internal/provenance"
	"carechain/internal/queue"
	"carechain/pkg/domain"
)

// Progress checkpoints advanced as pipeline stages complete.
const (
	progressPickedUp    = 10
	progressSnapshot    = 30
	progressHistory     = 50
	progressSynthesized = 70
	progressAnchored    = 90
	progressDone        = 100
)

// historyFetchDepth bounds how much chain history is loaded per job. The
// synthesis engine grounds on at most the two most recent records.
const historyFetchDepth = 2

// Manager owns job submission and the consumer loop.
type Manager struct {
	cfg       config.Worker
	jobs      jobstore.Store
	transport queue.Transport
	clinical  clinical.Source
	engine    *genesis.Engine
	chain     *provenance.Manager
	clock     domain.Clock
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// NewManager wires the pipeline. A nil clock selects the system clock; a
// nil metrics recorder discards observations.
func NewManager(cfg config.Worker, jobs jobstore.Store, transport queue.Transport, source clinical.Source, engine *genesis.Engine, chain *provenance.Manager, clock domain.Clock, metrics MetricsRecorder, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		jobs:      jobs,
		transport: transport,
		clinical:  source,
		engine:    engine,
		chain:     chain,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// Submit persists a new job and enqueues its analysis request. The job ID
// doubles as the analysis ID bound on the ledger. When the queue is
// unavailable the error is surfaced to the caller and the job record stays
// in requested state for later requeue or inspection.
func (m *Manager) Submit(ctx context.Context, subjectID, requesterID string) (domain.Job, error) {
	if subjectID == "" {
		return domain.Job{}, domain.Structuralf("submit: subject identifier is required")
	}
	now := m.clock.Now().UTC()
	job := domain.Job{
		ID:           uuid.NewString(),
		SubjectID:    subjectID,
		RequesterID:  requesterID,
		Status:       domain.JobRequested,
		CreatedAt:    now,
		LastModified: now,
	}
	job, err := m.jobs.Create(ctx, job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("persist job: %w", err)
	}

	body, err := queue.AnalysisRequest{JobID: job.ID, SubjectID: subjectID, RequesterID: requesterID}.Encode()
	if err != nil {
		return domain.Job{}, err
	}
	if err := m.transport.Publish(ctx, body); err != nil {
		m.logger.Warn("analysis request not enqueued", "job_id", job.ID, "error", err)
		return domain.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	m.metrics.JobSubmitted()
	m.logger.Info("analysis submitted", "job_id", job.ID, "subject_id", subjectID,
		"requester_id", requesterID)
	return job, nil
}

// Run consumes analysis requests until ctx is cancelled or the transport
// closes. It returns nil on clean shutdown.
func (m *Manager) Run(ctx context.Context) error {
	deliveries, err := m.transport.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	m.logger.Info("pipeline consumer started")
	for d := range deliveries {
		m.handle(ctx, d)
	}
	m.logger.Info("pipeline consumer stopped")
	return nil
}

// handle settles exactly one delivery. The message is acked only once its
// job is terminal; a retryable failure backs off, increments the durable
// retry count, and requeues.
func (m *Manager) handle(ctx context.Context, d queue.Delivery) {
	req, err := queue.DecodeAnalysisRequest(d.Body())
	if err != nil {
		m.logger.Error("dead-lettering undecodable message", "error", err)
		m.deadLetter(d, "undecodable message: "+err.Error())
		return
	}

	job, err := m.jobs.Get(ctx, req.JobID)
	if err != nil {
		if domain.IsNotFound(err) {
			m.logger.Error("dead-lettering message for unknown job", "job_id", req.JobID)
			m.deadLetter(d, "no job record for "+req.JobID)
			return
		}
		m.logger.Warn("job lookup failed, requeueing", "job_id", req.JobID, "error", err)
		m.nack(d)
		return
	}
	if job.Status.Terminal() {
		// Redelivery after a completed attempt; the broker just never saw
		// the ack.
		m.ack(d)
		return
	}

	started := m.clock.Now()
	if _, err := m.setProgress(ctx, req.JobID, domain.JobInProgress, progressPickedUp, ""); err != nil {
		m.logger.Warn("job pickup update failed, requeueing", "job_id", req.JobID, "error", err)
		m.nack(d)
		return
	}

	procErr := m.process(ctx, req)
	switch {
	case procErr == nil:
		m.complete(ctx, req.JobID, d, started)
	case errors.Is(procErr, domain.ErrDuplicateAnalysis):
		// The chain already holds this analysis; an earlier attempt wrote it
		// and died before acking.
		m.logger.Info("analysis already anchored, completing job", "job_id", req.JobID)
		m.complete(ctx, req.JobID, d, started)
	case !domain.Retryable(procErr):
		m.fail(ctx, req.JobID, d, procErr)
	default:
		m.retry(ctx, req.JobID, job.RetryCount, d, procErr)
	}
}

// process runs the pipeline stages for one job, advancing the progress
// checkpoint after each.
func (m *Manager) process(ctx context.Context, req queue.AnalysisRequest) error {
	snapshot, err := m.fetchSnapshot(ctx, req.SubjectID)
	if err != nil {
		return fmt.Errorf("fetch snapshot for %s: %w", req.SubjectID, err)
	}
	if _, err := m.setProgress(ctx, req.JobID, domain.JobInProgress, progressSnapshot, ""); err != nil {
		return err
	}

	history, err := m.chain.HistoryForSubject(ctx, req.SubjectID, historyFetchDepth)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", req.SubjectID, err)
	}
	if _, err := m.setProgress(ctx, req.JobID, domain.JobInProgress, progressHistory, ""); err != nil {
		return err
	}

	summary, err := m.engine.Synthesize(ctx, history, snapshot)
	if err != nil {
		return fmt.Errorf("synthesize for %s: %w", req.SubjectID, err)
	}
	if _, err := m.setProgress(ctx, req.JobID, domain.JobInProgress, progressSynthesized, ""); err != nil {
		return err
	}

	result, err := m.chain.MintOrUpdate(ctx, req.SubjectID, req.JobID, summary)
	if err != nil {
		return err
	}
	kind := domain.OpUpdate
	if result.Minted {
		kind = domain.OpMint
	}
	m.metrics.ChainWrite(kind)
	if _, err := m.setProgress(ctx, req.JobID, domain.JobInProgress, progressAnchored, ""); err != nil {
		return err
	}
	m.logger.Info("analysis anchored", "job_id", req.JobID, "subject_id", req.SubjectID,
		"anchor_id", result.AnchorID, "tx_ref", result.TxRef, "minted", result.Minted)
	return nil
}

func (m *Manager) fetchSnapshot(ctx context.Context, subjectID string) (domain.ClinicalSnapshot, error) {
	if m.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
	}
	return m.clinical.FetchSnapshot(ctx, subjectID)
}

func (m *Manager) complete(ctx context.Context, jobID string, d queue.Delivery, started time.Time) {
	if _, err := m.setProgress(ctx, jobID, domain.JobCompleted, progressDone, ""); err != nil {
		// Without the durable completion mark the delivery must come back,
		// or pollers would wait on a finished job forever.
		m.logger.Error("completion update failed, requeueing", "job_id", jobID, "error", err)
		m.nack(d)
		return
	}
	m.ack(d)
	m.metrics.JobCompleted(m.clock.Now().Sub(started))
	m.logger.Info("job completed", "job_id", jobID)
}

func (m *Manager) fail(ctx context.Context, jobID string, d queue.Delivery, cause error) {
	if _, err := m.setProgress(ctx, jobID, domain.JobFailed, -1, cause.Error()); err != nil {
		m.logger.Error("failure update failed", "job_id", jobID, "error", err)
	}
	m.deadLetter(d, cause.Error())
	m.metrics.JobFailed()
	m.logger.Error("job failed", "job_id", jobID, "error", cause)
}

// retry persists the incremented attempt count, waits out the backoff, and
// requeues. Exceeding the budget is terminal.
func (m *Manager) retry(ctx context.Context, jobID string, priorRetries int, d queue.Delivery, cause error) {
	if priorRetries >= m.cfg.MaxRetries {
		m.fail(ctx, jobID, d, domain.Exhaustedf("job %s failed after %d attempts: %w",
			jobID, priorRetries+1, cause))
		return
	}
	job, err := m.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.RetryCount++
		j.Status = domain.JobRequested
		j.Diagnostic = cause.Error()
		j.LastModified = m.clock.Now().UTC()
		return nil
	})
	if err != nil {
		m.logger.Error("retry bookkeeping failed, requeueing anyway", "job_id", jobID, "error", err)
		m.nack(d)
		return
	}

	delay := m.backoffDelay(job.RetryCount - 1)
	m.logger.Warn("retrying job", "job_id", jobID, "attempt", job.RetryCount,
		"delay", delay, "error", cause)
	if err := m.clock.Sleep(ctx, delay); err != nil {
		// Shutdown mid-backoff; the unacked message redelivers on restart.
		m.nack(d)
		return
	}
	m.nack(d)
	m.metrics.JobRetried()
}

// backoffDelay is delay = base * 2^retryCount, capped.
func (m *Manager) backoffDelay(retryCount int) time.Duration {
	delay := m.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= m.cfg.BackoffMax {
			return m.cfg.BackoffMax
		}
	}
	if delay > m.cfg.BackoffMax {
		delay = m.cfg.BackoffMax
	}
	return delay
}

// setProgress atomically advances a job's status and checkpoint. A negative
// progress leaves the stored checkpoint untouched.
func (m *Manager) setProgress(ctx context.Context, jobID string, status domain.JobStatus, progress int, diagnostic string) (domain.Job, error) {
	return m.jobs.Update(ctx, jobID, func(j *domain.Job) error {
		j.Status = status
		if progress >= 0 {
			j.Progress = progress
		}
		if diagnostic != "" {
			j.Diagnostic = diagnostic
		}
		j.LastModified = m.clock.Now().UTC()
		return nil
	})
}

func (m *Manager) ack(d queue.Delivery) {
	if err := d.Ack(); err != nil {
		m.logger.Error("ack failed", "error", err)
	}
}

func (m *Manager) nack(d queue.Delivery) {
	if err := d.Nack(); err != nil {
		m.logger.Error("nack failed", "error", err)
	}
}

func (m *Manager) deadLetter(d queue.Delivery, diagnostic string) {
	if err := d.DeadLetter(diagnostic); err != nil {
		m.logger.Error("dead-letter failed", "error", err)
		return
	}
	m.metrics.JobDeadLettered()
}
