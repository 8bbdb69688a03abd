package domain

import "time"

// ProvenanceRecord is the immutable, content-addressed unit of the chain.
// PreviousRecordRef, when non-empty, resolves to a strictly earlier record
// for the same subject; chains are acyclic and finite.
type ProvenanceRecord struct {
	SubjectID  string             `json:"subject_id"`
	AnalysisID string             `json:"analysis_id"`
	Summary    SynthesizedSummary `json:"summary"`
	Timestamp  time.Time          `json:"timestamp"`
	// PreviousRecordRef is the opaque content-store key of the prior record,
	// or empty for the first record of a subject.
	PreviousRecordRef string `json:"previous_record_ref,omitempty"`
}

// ChainAnchor is the single mutable pointer per subject held on the ledger.
// Exactly one anchor exists per subject and per analysis; ContentHash always
// equals the hash of the record at ContentURI.
type ChainAnchor struct {
	AnchorID     string `json:"anchor_id"`
	OwnerAddress string `json:"owner_address"`
	SubjectID    string `json:"subject_id"`
	AnalysisID   string `json:"analysis_id"`
	ContentURI   string `json:"content_uri"`
	ContentHash  string `json:"content_hash"`
}

// OperationKind distinguishes the two chain write shapes.
type OperationKind string

const (
	// OpMint creates the first anchor for a subject.
	OpMint OperationKind = "mint"
	// OpUpdate repoints an existing anchor at a newer record.
	OpUpdate OperationKind = "update"
)

// QueuedOperation is the coordinator's transient bookkeeping for one keyed
// write attempt.
type QueuedOperation struct {
	Kind          OperationKind `json:"kind"`
	Key           string        `json:"key"`
	RetryCount    int           `json:"retry_count"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
}
