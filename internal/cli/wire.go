// Package cli implements the carechain command surface. Commands wire the
// full pipeline from configuration, run one operation, and release every
// backing handle before returning.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"carechain/internal/blob"
	"carechain/internal/clinical"
	"carechain/internal/completion"
	"carechain/internal/config"
	"carechain/internal/coordinator"
	"carechain/internal/genesis"
	"carechain/internal/jobstore"
	"carechain/internal/ledger"
	"carechain/internal/pipeline"
	"carechain/internal/provenance"
	"carechain/internal/queue"
	"carechain/pkg/domain"
)

// app is a fully wired process: the service facade, the worker manager, and
// the handles that need closing on exit.
type app struct {
	cfg            config.Config
	logger         *slog.Logger
	service        *pipeline.Service
	manager        *pipeline.Manager
	metricsHandler http.Handler
	closers        []func() error
}

// newApp assembles the pipeline from the effective configuration.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	jobs, err := jobstore.Open(ctx, cfg.JobStore)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.closers = append(a.closers, jobs.Close)

	transport, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	a.closers = append(a.closers, transport.Close)

	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	chainLedger, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, chainLedger.Close)

	metrics, metricsHandler, err := pipeline.NewRecorder(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	a.metricsHandler = metricsHandler

	clock := domain.SystemClock{}
	coord := coordinator.New(coordinator.Config{
		MaxRetries:  cfg.Worker.MaxRetries,
		BackoffBase: cfg.Worker.BackoffBase,
		BackoffMax:  cfg.Worker.BackoffMax,
	}, clock, coordinator.WithLogger(logger))

	chain := provenance.NewManager(chainLedger, store, coord, clock, cfg.Worker.OwnerAddress, logger)
	source := clinical.NewFHIRSource(cfg.Clinical, logger)
	engine := genesis.New(completion.NewOpenAI(cfg.Completion), logger)

	a.manager = pipeline.NewManager(cfg.Worker, jobs, transport, source, engine, chain, clock, metrics, logger)
	a.service = pipeline.NewService(a.manager)
	ok = true
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
}
