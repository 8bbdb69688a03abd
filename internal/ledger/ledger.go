// Package ledger defines the chain-anchor ledger abstraction. The ledger
// enforces uniqueness of subject and analysis bindings; carechain treats
// those guarantees as authoritative. Absence is always reported as a
// distinct not-found error so callers never infer "no prior anchor" from a
// transport failure.
package ledger

import (
	"context"
	"fmt"

	"carechain/internal/config"
	leveldbledger "carechain/internal/infra/ledger/leveldb"
	memoryledger "carechain/internal/infra/ledger/memory"
	"carechain/pkg/domain"
)

// Driver identifies a concrete ledger backend implementation.
type Driver string

const (
	DriverLevelDB Driver = "leveldb" // local single-node ledger (default)
	DriverMemory  Driver = "memory"  // in-memory (tests)
)

// Ledger exposes the four anchor operations the pipeline calls plus lookups.
type Ledger interface {
	// Mint creates the anchor for a subject's first analysis. Minting for
	// an already-anchored subject or an already-bound analysis is a
	// conflict.
	Mint(ctx context.Context, owner, subjectID, analysisID, contentURI, contentHash string) (anchorID, txRef string, err error)
	// UpdateContent repoints an existing anchor at a newer record and binds
	// the new analysis to it.
	UpdateContent(ctx context.Context, anchorID, analysisID, contentURI, contentHash string) (txRef string, err error)
	// AnchorForSubject resolves the unique anchor of a subject. A missing
	// binding yields an error matching domain.IsNotFound.
	AnchorForSubject(ctx context.Context, subjectID string) (domain.ChainAnchor, error)
	// AnchorForAnalysis resolves the unique anchor bound to an analysis.
	AnchorForAnalysis(ctx context.Context, analysisID string) (domain.ChainAnchor, error)
	// ContentRefOf returns the current content reference of an anchor.
	ContentRefOf(ctx context.Context, anchorID string) (string, error)
	// Close releases the backing handle.
	Close() error
}

// NewMemory returns an in-memory Ledger suitable for tests.
func NewMemory() Ledger { return memoryledger.New() }

// Open selects a Ledger implementation from configuration.
func Open(cfg config.Ledger) (Ledger, error) {
	switch Driver(cfg.Driver) {
	case DriverLevelDB, "":
		return leveldbledger.Open(cfg.Path)
	case DriverMemory:
		return memoryledger.New(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", cfg.Driver)
	}
}
