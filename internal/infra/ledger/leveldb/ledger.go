// Package leveldb implements the chain-anchor ledger on a local LevelDB
// store. It emulates a single-node ledger contract: uniqueness of subject
// and analysis bindings is enforced under one process-wide mutex, and every
// successful write yields a monotonically increasing transaction reference.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"

	"carechain/pkg/domain"
)

// Key layout:
//   anchor_<anchorID>     => ChainAnchor JSON
//   subject_<subjectID>   => anchorID
//   analysis_<analysisID> => anchorID
//   meta_tx_seq           => last transaction sequence
const (
	prefixAnchor   = "anchor_"
	prefixSubject  = "subject_"
	prefixAnalysis = "analysis_"
	keyTxSeq       = "meta_tx_seq"
)

// Ledger is a LevelDB-backed single-node ledger.
type Ledger struct {
	db *leveldb.DB
	mu sync.Mutex
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		path = "./ledgerdata"
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) nextTx() (string, error) {
	seq := 0
	if v, err := l.db.Get([]byte(keyTxSeq), nil); err == nil {
		if n, err := strconv.Atoi(string(v)); err == nil {
			seq = n
		}
	} else if !errors.Is(err, lerrors.ErrNotFound) {
		return "", domain.Transientf("ledger meta read: %w", err)
	}
	seq++
	if err := l.db.Put([]byte(keyTxSeq), []byte(strconv.Itoa(seq)), nil); err != nil {
		return "", domain.Transientf("ledger meta write: %w", err)
	}
	return fmt.Sprintf("tx-%08d", seq), nil
}

func (l *Ledger) getAnchor(anchorID string) (domain.ChainAnchor, error) {
	data, err := l.db.Get([]byte(prefixAnchor+anchorID), nil)
	if err != nil {
		if errors.Is(err, lerrors.ErrNotFound) {
			return domain.ChainAnchor{}, domain.ErrNotFound{Entity: "anchor", ID: anchorID}
		}
		return domain.ChainAnchor{}, domain.Transientf("ledger read: %w", err)
	}
	var anchor domain.ChainAnchor
	if err := json.Unmarshal(data, &anchor); err != nil {
		return domain.ChainAnchor{}, fmt.Errorf("decode anchor %s: %w", anchorID, err)
	}
	return anchor, nil
}

func (l *Ledger) putAnchor(anchor domain.ChainAnchor) error {
	data, err := json.Marshal(anchor)
	if err != nil {
		return err
	}
	if err := l.db.Put([]byte(prefixAnchor+anchor.AnchorID), data, nil); err != nil {
		return domain.Transientf("ledger write: %w", err)
	}
	return nil
}

func (l *Ledger) binding(prefix, id string) (string, bool, error) {
	v, err := l.db.Get([]byte(prefix+id), nil)
	if err != nil {
		if errors.Is(err, lerrors.ErrNotFound) {
			return "", false, nil
		}
		return "", false, domain.Transientf("ledger read: %w", err)
	}
	return string(v), true, nil
}

// Mint creates the first anchor for a subject.
func (l *Ledger) Mint(_ context.Context, owner, subjectID, analysisID, contentURI, contentHash string) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok, err := l.binding(prefixSubject, subjectID); err != nil {
		return "", "", err
	} else if ok {
		return "", "", domain.Conflictf("subject %s already anchored", subjectID)
	}
	if _, ok, err := l.binding(prefixAnalysis, analysisID); err != nil {
		return "", "", err
	} else if ok {
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
	if err := l.putAnchor(anchor); err != nil {
		return "", "", err
	}
	if err := l.db.Put([]byte(prefixSubject+subjectID), []byte(anchor.AnchorID), nil); err != nil {
		return "", "", domain.Transientf("ledger write: %w", err)
	}
	if err := l.db.Put([]byte(prefixAnalysis+analysisID), []byte(anchor.AnchorID), nil); err != nil {
		return "", "", domain.Transientf("ledger write: %w", err)
	}
	tx, err := l.nextTx()
	if err != nil {
		return "", "", err
	}
	return anchor.AnchorID, tx, nil
}

// UpdateContent repoints an anchor at a newer record and binds the new
// analysis.
func (l *Ledger) UpdateContent(_ context.Context, anchorID, analysisID, contentURI, contentHash string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	anchor, err := l.getAnchor(anchorID)
	if err != nil {
		return "", err
	}
	if _, ok, err := l.binding(prefixAnalysis, analysisID); err != nil {
		return "", err
	} else if ok {
		return "", domain.ErrDuplicateAnalysis
	}
	anchor.AnalysisID = analysisID
	anchor.ContentURI = contentURI
	anchor.ContentHash = contentHash
	if err := l.putAnchor(anchor); err != nil {
		return "", err
	}
	if err := l.db.Put([]byte(prefixAnalysis+analysisID), []byte(anchor.AnchorID), nil); err != nil {
		return "", domain.Transientf("ledger write: %w", err)
	}
	return l.nextTx()
}

// AnchorForSubject resolves a subject's anchor.
func (l *Ledger) AnchorForSubject(_ context.Context, subjectID string) (domain.ChainAnchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok, err := l.binding(prefixSubject, subjectID)
	if err != nil {
		return domain.ChainAnchor{}, err
	}
	if !ok {
		return domain.ChainAnchor{}, domain.ErrNotFound{Entity: "subject anchor", ID: subjectID}
	}
	return l.getAnchor(id)
}

// AnchorForAnalysis resolves the anchor bound to an analysis.
func (l *Ledger) AnchorForAnalysis(_ context.Context, analysisID string) (domain.ChainAnchor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok, err := l.binding(prefixAnalysis, analysisID)
	if err != nil {
		return domain.ChainAnchor{}, err
	}
	if !ok {
		return domain.ChainAnchor{}, domain.ErrNotFound{Entity: "analysis anchor", ID: analysisID}
	}
	return l.getAnchor(id)
}

// ContentRefOf returns the current content reference of an anchor.
func (l *Ledger) ContentRefOf(_ context.Context, anchorID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	anchor, err := l.getAnchor(anchorID)
	if err != nil {
		return "", err
	}
	return anchor.ContentURI, nil
}
