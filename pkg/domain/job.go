// Package domain defines the core entities, value types, and error taxonomy
// used by carechain.
package domain

import "time"

// JobStatus identifies the lifecycle state of an analysis job.
type JobStatus string

// Canonical job lifecycle states. Completed and failed are terminal.
const (
	// JobRequested indicates the job record exists and a message has been
	// (or is about to be) enqueued for it.
	JobRequested JobStatus = "requested"
	// JobInProgress indicates the single active consumer picked the job up.
	JobInProgress JobStatus = "in-progress"
	// JobCompleted indicates the provenance chain write succeeded.
	JobCompleted JobStatus = "completed"
	// JobFailed indicates the job reached a terminal failure.
	JobFailed JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the durable record of one analysis request. It is owned exclusively
// by the job store; external callers reference it by ID for status polling.
type Job struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	RequesterID string    `json:"requester_id"`
	Status      JobStatus `json:"status"`
	// Progress is a 0-100 checkpoint value advanced as pipeline stages
	// complete.
	Progress int `json:"progress"`
	// Diagnostic carries a human-readable outcome on failure.
	Diagnostic   string    `json:"diagnostic,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	RetryCount   int       `json:"retry_count"`
}
