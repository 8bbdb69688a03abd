// Package provenance maintains the hash-linked record chain for each
// subject. Every synthesized summary becomes an immutable content-addressed
// record whose reference and hash are anchored on the ledger; successive
// records link backwards through PreviousRecordRef, so the full history of
// a subject is reachable from its single anchor.
package provenance

import (
	"context"
	"fmt"
	"log/slog"

	"carechain/internal/blob"
	"carechain/internal/coordinator"
	"carechain/internal/ledger"
	"carechain/pkg/domain"
)

// DefaultMaxDepth bounds chain walks when the caller does not supply a
// depth. Chains longer than this are truncated, never looped over.
const DefaultMaxDepth = 100

// AnchorResult reports the outcome of a chain write.
type AnchorResult struct {
	AnchorID    string
	TxRef       string
	ContentRef  string
	ContentHash string
	Minted      bool
}

// Chain is an oldest-first record walk. Broken is set when an intermediate
// link could not be resolved; Records then holds the longest reachable
// suffix of history re-ordered oldest first.
type Chain struct {
	Records   []domain.ProvenanceRecord
	Broken    bool
	BrokenRef string
}

// Manager owns the chain write and read paths. All writes for one subject
// funnel through the coordinator under the subject's key, so at most one
// mint or update per subject is in flight at any moment.
type Manager struct {
	ledger ledger.Ledger
	store  blob.Store
	coord  *coordinator.Coordinator
	clock  domain.Clock
	logger *slog.Logger
	owner  string
}

// NewManager constructs a Manager. owner is the ledger address anchors are
// minted under.
func NewManager(l ledger.Ledger, s blob.Store, c *coordinator.Coordinator, clock domain.Clock, owner string, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ledger: l, store: s, coord: c, clock: clock, logger: logger, owner: owner}
}

// MintOrUpdate persists the summary as the subject's newest chain record.
// The first record of a subject mints a fresh anchor; later records link to
// the previous head and repoint the existing anchor. An analysis that is
// already bound to an anchor is rejected with domain.ErrDuplicateAnalysis
// before any write happens.
func (m *Manager) MintOrUpdate(ctx context.Context, subjectID, analysisID string, summary domain.SynthesizedSummary) (AnchorResult, error) {
	if subjectID == "" || analysisID == "" {
		return AnchorResult{}, domain.Structuralf("mint or update: subject and analysis identifiers are required")
	}
	if _, err := m.ledger.AnchorForAnalysis(ctx, analysisID); err == nil {
		return AnchorResult{}, fmt.Errorf("analysis %s: %w", analysisID, domain.ErrDuplicateAnalysis)
	} else if !domain.IsNotFound(err) {
		return AnchorResult{}, fmt.Errorf("check analysis binding: %w", err)
	}

	// The kind resolved here only labels coordinator events; the write path
	// re-resolves the anchor under the subject lock before choosing a shape.
	kind := domain.OpUpdate
	if _, err := m.ledger.AnchorForSubject(ctx, subjectID); domain.IsNotFound(err) {
		kind = domain.OpMint
	}

	key := "subject/" + subjectID
	result, err := m.coord.Execute(ctx, key, analysisID, kind, func(ctx context.Context) (any, error) {
		anchor, err := m.ledger.AnchorForSubject(ctx, subjectID)
		switch {
		case err == nil:
			return m.update(ctx, anchor, subjectID, analysisID, summary)
		case domain.IsNotFound(err):
			return m.mint(ctx, subjectID, analysisID, summary)
		default:
			return AnchorResult{}, fmt.Errorf("resolve anchor for %s: %w", subjectID, err)
		}
	})
	if err != nil {
		return AnchorResult{}, err
	}
	return result.(AnchorResult), nil
}

// mint writes the subject's first record and creates its anchor.
func (m *Manager) mint(ctx context.Context, subjectID, analysisID string, summary domain.SynthesizedSummary) (AnchorResult, error) {
	rec := domain.ProvenanceRecord{
		SubjectID:  subjectID,
		AnalysisID: analysisID,
		Summary:    summary,
		Timestamp:  m.clock.Now().UTC(),
	}
	ref, hash, err := m.putRecord(ctx, rec)
	if err != nil {
		return AnchorResult{}, err
	}
	anchorID, txRef, err := m.ledger.Mint(ctx, m.owner, subjectID, analysisID, ref, hash)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("mint anchor for %s: %w", subjectID, err)
	}
	m.logger.Info("anchor minted", "subject_id", subjectID, "analysis_id", analysisID,
		"anchor_id", anchorID, "tx_ref", txRef)
	return AnchorResult{AnchorID: anchorID, TxRef: txRef, ContentRef: ref, ContentHash: hash, Minted: true}, nil
}

// update writes a record linked to the current head and repoints the anchor.
func (m *Manager) update(ctx context.Context, anchor domain.ChainAnchor, subjectID, analysisID string, summary domain.SynthesizedSummary) (AnchorResult, error) {
	prevRef, err := m.ledger.ContentRefOf(ctx, anchor.AnchorID)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("resolve head of anchor %s: %w", anchor.AnchorID, err)
	}
	rec := domain.ProvenanceRecord{
		SubjectID:         subjectID,
		AnalysisID:        analysisID,
		Summary:           summary,
		Timestamp:         m.clock.Now().UTC(),
		PreviousRecordRef: prevRef,
	}
	ref, hash, err := m.putRecord(ctx, rec)
	if err != nil {
		return AnchorResult{}, err
	}
	txRef, err := m.ledger.UpdateContent(ctx, anchor.AnchorID, analysisID, ref, hash)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("update anchor %s: %w", anchor.AnchorID, err)
	}
	m.logger.Info("anchor updated", "subject_id", subjectID, "analysis_id", analysisID,
		"anchor_id", anchor.AnchorID, "tx_ref", txRef, "previous_ref", prevRef)
	return AnchorResult{AnchorID: anchor.AnchorID, TxRef: txRef, ContentRef: ref, ContentHash: hash}, nil
}

// putRecord stores the canonical record bytes under a content-derived key.
func (m *Manager) putRecord(ctx context.Context, rec domain.ProvenanceRecord) (ref, hash string, err error) {
	data, err := EncodeRecord(rec)
	if err != nil {
		return "", "", err
	}
	hash = HashBytes(data)
	ref, err = m.store.Put(ctx, RecordKey(rec.SubjectID, hash), data)
	if err != nil {
		return "", "", fmt.Errorf("store record for %s: %w", rec.SubjectID, err)
	}
	return ref, hash, nil
}

// GetLatest returns the subject's current head record.
func (m *Manager) GetLatest(ctx context.Context, subjectID string) (domain.ProvenanceRecord, error) {
	anchor, err := m.ledger.AnchorForSubject(ctx, subjectID)
	if err != nil {
		return domain.ProvenanceRecord{}, err
	}
	return m.fetchRecord(ctx, anchor.ContentURI)
}

// GetChain walks the chain backwards from the record bound to analysisID
// and returns it oldest first. maxDepth bounds the walk; zero or negative
// selects DefaultMaxDepth. An unreachable intermediate link ends the walk
// with Broken set rather than failing it, since the records already read
// are still valid history. A link whose stored bytes no longer match its
// reference hash is tampering and fails the walk with
// domain.ErrHashMismatch.
func (m *Manager) GetChain(ctx context.Context, analysisID string, maxDepth int) (Chain, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	anchor, err := m.ledger.AnchorForAnalysis(ctx, analysisID)
	if err != nil {
		return Chain{}, err
	}

	var walked []domain.ProvenanceRecord
	seen := make(map[string]bool)
	ref := anchor.ContentURI
	for ref != "" && len(walked) < maxDepth {
		if seen[ref] {
			return Chain{}, domain.Structuralf("chain for analysis %s revisits record %s", analysisID, ref)
		}
		seen[ref] = true
		rec, err := m.fetchRecord(ctx, ref)
		if err != nil {
			if domain.IsNotFound(err) && len(walked) > 0 {
				m.logger.Warn("chain link unresolvable, returning partial history",
					"analysis_id", analysisID, "ref", ref, "depth", len(walked))
				return reversed(walked, true, ref), nil
			}
			return Chain{}, err
		}
		walked = append(walked, rec)
		ref = rec.PreviousRecordRef
	}
	return reversed(walked, false, ""), nil
}

// HistoryForSubject walks the subject's chain from its head and returns up
// to maxDepth records, newest first. A subject with no anchor yet has an
// empty history, not an error. An unresolvable link truncates the walk the
// same way GetChain does.
func (m *Manager) HistoryForSubject(ctx context.Context, subjectID string, maxDepth int) ([]domain.ProvenanceRecord, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	anchor, err := m.ledger.AnchorForSubject(ctx, subjectID)
	if domain.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var walked []domain.ProvenanceRecord
	seen := make(map[string]bool)
	ref := anchor.ContentURI
	for ref != "" && len(walked) < maxDepth {
		if seen[ref] {
			return nil, domain.Structuralf("chain for subject %s revisits record %s", subjectID, ref)
		}
		seen[ref] = true
		rec, err := m.fetchRecord(ctx, ref)
		if err != nil {
			if domain.IsNotFound(err) && len(walked) > 0 {
				m.logger.Warn("history link unresolvable, returning partial history",
					"subject_id", subjectID, "ref", ref, "depth", len(walked))
				return walked, nil
			}
			return nil, err
		}
		walked = append(walked, rec)
		ref = rec.PreviousRecordRef
	}
	return walked, nil
}

// Verify recomputes the record's content hash and compares it to the hash
// the subject's anchor attests. True means the record is the untampered
// current head of the chain.
func (m *Manager) Verify(ctx context.Context, rec domain.ProvenanceRecord) (bool, error) {
	hash, err := HashRecord(rec)
	if err != nil {
		return false, err
	}
	anchor, err := m.ledger.AnchorForSubject(ctx, rec.SubjectID)
	if err != nil {
		return false, err
	}
	return anchor.ContentHash == hash, nil
}

// AuditChain re-verifies every stored record of the analysis chain against
// the hash embedded in its reference and counts the links checked. It is
// the read path behind the verify command.
func (m *Manager) AuditChain(ctx context.Context, analysisID string, maxDepth int) (int, error) {
	chain, err := m.GetChain(ctx, analysisID, maxDepth)
	if err != nil {
		return 0, err
	}
	if chain.Broken {
		return len(chain.Records), domain.Structuralf("chain link %s is unresolvable", chain.BrokenRef)
	}
	return len(chain.Records), nil
}

// fetchRecord reads and decodes the record at ref, re-verifying the stored
// bytes against the hash the reference encodes.
func (m *Manager) fetchRecord(ctx context.Context, ref string) (domain.ProvenanceRecord, error) {
	data, err := m.store.Get(ctx, ref)
	if err != nil {
		return domain.ProvenanceRecord{}, err
	}
	if want := HashFromRef(ref); want != "" && HashBytes(data) != want {
		return domain.ProvenanceRecord{}, fmt.Errorf("record %s: %w", ref, domain.ErrHashMismatch)
	}
	return DecodeRecord(data)
}

// reversed flips a newest-first walk into chain order.
func reversed(walked []domain.ProvenanceRecord, broken bool, brokenRef string) Chain {
	out := make([]domain.ProvenanceRecord, len(walked))
	for i, rec := range walked {
		out[len(walked)-1-i] = rec
	}
	return Chain{Records: out, Broken: broken, BrokenRef: brokenRef}
}
