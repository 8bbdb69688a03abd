// Package memory implements an in-memory chain-anchor ledger for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"carechain/pkg/domain"
)

// Ledger keeps anchors and their subject/analysis bindings in process
// memory under a single mutex, mirroring the atomicity a real ledger
// contract provides per transaction.
type Ledger struct {
	mu         sync.Mutex
	anchors    map[string]domain.ChainAnchor // anchorID -> anchor
	bySubject  map[string]string             // subjectID -> anchorID
	byAnalysis map[string]string             // analysisID -> anchorID
	txSeq      uint64
}

// New returns an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		anchors:    make(map[string]domain.ChainAnchor),
		bySubject:  make(map[string]string),
		byAnalysis: make(map[string]string),
	}
}

func (l *Ledger) nextTx() string {
	l.txSeq++
	return fmt.Sprintf("tx-%08d", l.txSeq)
}

// Mint creates the first anchor for a subject.
func (l *Ledger) Mint(_ context.Context, owner, subjectID, analysisID, contentURI, contentHash string) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.bySubject[subjectID]; ok {
		return "", "", domain.Conflictf("subject %s already anchored", subjectID)
	}
	if _, ok := l.byAnalysis[analysisID]; ok {
		return "", "", domain.ErrDuplicateAnalysis
	}
	anchor := domain.ChainAnchor{
		AnchorID:     uuid.NewString(),
		OwnerAddress: owner,
		SubjectID:    subjectID,
		AnalysisID:   analysisID,
		ContentURI:   contentURI,
		ContentHash:  contentHash,
	}
	l.anchors[anchor.AnchorID] = anchor
	l.bySubject[subjectID] = anchor.AnchorID
	l.byAnalysis[analysisID] = anchor.AnchorID
	return anchor.AnchorID, l.nextTx(), nil
}

// UpdateContent repoints an anchor at a newer record and binds the new
// analysis.
func (l *Ledger) UpdateContent(_ context.Context, anchorID, analysisID, contentURI, contentHash string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	anchor, ok := l.anchors[anchorID]
	if !ok {
		return "", domain.ErrNotFound{Entity: "anchor", ID: anchorID}
	}
	if bound, ok := l.byAnalysis[analysisID]; ok && bound != "" {
		return "", domain.ErrDuplicateAnalysis
	}
	anchor.AnalysisID = analysisID
	anchor.ContentURI = contentURI
	anchor.ContentHash = contentHash
	l.anchors[anchorID] = anchor
	l.byAnalysis[analysisID] = anchorID
	return l.nextTx(), nil
}

// AnchorForSubject resolves a subject's anchor.
func (l *Ledger) AnchorForSubject(_ context.Context, subjectID string) (domain.ChainAnchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.bySubject[subjectID]
	if !ok {
		return domain.ChainAnchor{}, domain.ErrNotFound{Entity: "subject anchor", ID: subjectID}
	}
	return l.anchors[id], nil
}

// AnchorForAnalysis resolves the anchor bound to an analysis.
func (l *Ledger) AnchorForAnalysis(_ context.Context, analysisID string) (domain.ChainAnchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byAnalysis[analysisID]
	if !ok {
		return domain.ChainAnchor{}, domain.ErrNotFound{Entity: "analysis anchor", ID: analysisID}
	}
	return l.anchors[id], nil
}

// ContentRefOf returns the current content reference of an anchor.
func (l *Ledger) ContentRefOf(_ context.Context, anchorID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	anchor, ok := l.anchors[anchorID]
	if !ok {
		return "", domain.ErrNotFound{Entity: "anchor", ID: anchorID}
	}
	return anchor.ContentURI, nil
}

// Close is a no-op for the memory driver.
func (l *Ledger) Close() error { return nil }

// AnchorCount reports the number of live anchors. Test hook for the
// single-anchor-per-subject property.
func (l *Ledger) AnchorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.anchors)
}
