// Package genesis implements the multi-perspective generation-and-synthesis
// protocol. One cycle generates exactly four analytical perspectives from
// the temporal context, runs them concurrently against the clinical
// snapshot, and synthesizes the findings into one structured summary.
package genesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"carechain/internal/completion"
	"carechain/pkg/domain"
)

// perspectiveCount is fixed by the protocol: synthesis requires exactly
// four working perspectives, never a partial set.
const perspectiveCount = 4

// historyWindow caps how many prior records feed the temporal context.
const historyWindow = 2

// Engine runs GENESIS cycles against a completion provider.
type Engine struct {
	client completion.Client
	logger *slog.Logger
}

// New constructs an Engine.
func New(client completion.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, logger: logger}
}

// Synthesize produces one summary for the snapshot, grounded on at most the
// two most recent provenance records. An empty history is valid: it is the
// subject's first analysis.
func (e *Engine) Synthesize(ctx context.Context, history []domain.ProvenanceRecord, snapshot domain.ClinicalSnapshot) (domain.SynthesizedSummary, error) {
	recent := temporalContext(history)

	perspectives, err := e.generatePerspectives(ctx, recent, snapshot)
	if err != nil {
		return domain.SynthesizedSummary{}, err
	}

	findings, err := e.analyzeAll(ctx, perspectives, snapshot)
	if err != nil {
		return domain.SynthesizedSummary{}, err
	}

	return e.synthesizeFindings(ctx, recent, snapshot, findings)
}

// temporalContext selects at most the two most recent records, timestamp
// descending.
func temporalContext(history []domain.ProvenanceRecord) []domain.ProvenanceRecord {
	sorted := make([]domain.ProvenanceRecord, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if len(sorted) > historyWindow {
		sorted = sorted[:historyWindow]
	}
	return sorted
}

// generatePerspectives asks the provider for exactly four perspectives.
// Malformed output is a structural failure; the call is retried once here
// before escalating to the job-level retry policy.
func (e *Engine) generatePerspectives(ctx context.Context, recent []domain.ProvenanceRecord, snapshot domain.ClinicalSnapshot) ([]domain.Perspective, error) {
	user, err := perspectiveUserPayload(recent, snapshot)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := e.client.Complete(ctx, perspectiveSystemPrompt, user)
		if err != nil {
			lastErr = err
			if domain.Kind(err) != domain.KindStructural {
				return nil, err
			}
			continue
		}
		perspectives, err := parsePerspectives(raw)
		if err != nil {
			e.logger.Warn("perspective generation returned malformed output",
				"subject_id", snapshot.SubjectID, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		return perspectives, nil
	}
	return nil, lastErr
}

func parsePerspectives(raw json.RawMessage) ([]domain.Perspective, error) {
	var out struct {
		Perspectives []domain.Perspective `json:"perspectives"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.Structuralf("parse perspectives: %w", err)
	}
	if len(out.Perspectives) != perspectiveCount {
		return nil, domain.Structuralf("expected %d perspectives, got %d", perspectiveCount, len(out.Perspectives))
	}
	for i, p := range out.Perspectives {
		if p.Label == "" || p.Instruction == "" {
			return nil, domain.Structuralf("perspective %d has empty label or instruction", i)
		}
	}
	return out.Perspectives, nil
}

// analyzeAll fans out one analysis call per perspective and joins them at a
// fail-fast barrier: the first irrecoverable failure cancels the rest and
// fails the step, so a partial set is never synthesized as a complete one.
// Perspectives share no intermediate state.
func (e *Engine) analyzeAll(ctx context.Context, perspectives []domain.Perspective, snapshot domain.ClinicalSnapshot) ([]domain.PerspectiveFinding, error) {
	findings := make([]domain.PerspectiveFinding, len(perspectives))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range perspectives {
		i, p := i, p
		g.Go(func() error {
			analysis, err := e.analyzeOne(gctx, p, snapshot)
			if err != nil {
				return err
			}
			findings[i] = domain.PerspectiveFinding{Perspective: p, Analysis: analysis}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return findings, nil
}

func (e *Engine) analyzeOne(ctx context.Context, p domain.Perspective, snapshot domain.ClinicalSnapshot) (string, error) {
	user, err := analysisUserPayload(p, snapshot)
	if err != nil {
		return "", err
	}
	raw, err := e.client.Complete(ctx, analysisSystemPrompt, user)
	if err != nil {
		return "", err
	}
	var out struct {
		Analysis string `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", domain.Structuralf("parse analysis for %q: %w", p.Label, err)
	}
	if out.Analysis == "" {
		return "", domain.Structuralf("empty analysis for %q", p.Label)
	}
	return out.Analysis, nil
}

// synthesizeFindings folds the four findings into one validated summary.
func (e *Engine) synthesizeFindings(ctx context.Context, recent []domain.ProvenanceRecord, snapshot domain.ClinicalSnapshot, findings []domain.PerspectiveFinding) (domain.SynthesizedSummary, error) {
	user, err := synthesisUserPayload(recent, snapshot, findings)
	if err != nil {
		return domain.SynthesizedSummary{}, err
	}
	raw, err := e.client.Complete(ctx, synthesisSystemPrompt, user)
	if err != nil {
		return domain.SynthesizedSummary{}, err
	}
	var summary domain.SynthesizedSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.SynthesizedSummary{}, domain.Structuralf("parse synthesized summary: %w", err)
	}
	summary.Normalize()
	if err := summary.Validate(); err != nil {
		return domain.SynthesizedSummary{}, err
	}
	return summary, nil
}
