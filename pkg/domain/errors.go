package domain

import (
	"errors"
	"fmt"
)

// ErrorKind buckets failures by the recovery policy they admit.
type ErrorKind string

const (
	// KindTransient covers network, timeout, and throttling failures on
	// external calls; recovered via bounded exponential-backoff retry.
	KindTransient ErrorKind = "transient"
	// KindStructural covers completion-provider output that fails schema
	// validation; retried once, then escalated to job failure.
	KindStructural ErrorKind = "structural"
	// KindConflict covers duplicate analysis bindings and hash-verification
	// mismatches; terminal and non-retryable.
	KindConflict ErrorKind = "conflict"
	// KindExhaustion marks a retry budget exceeded; the message is
	// dead-lettered and the job marked failed.
	KindExhaustion ErrorKind = "exhaustion"
)

// ClassifiedError attaches an ErrorKind to an underlying cause so retry
// layers can consult the kind without inspecting call sites.
type ClassifiedError struct {
	ErrKind ErrorKind
	Cause   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.ErrKind, e.Cause)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Kind classifies err. Unclassified errors are treated as transient, the
// safe default for external-call failures.
func Kind(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.ErrKind
	}
	return KindTransient
}

// Retryable reports whether the pipeline may retry after err.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindConflict, KindExhaustion:
		return false
	}
	return true
}

// Transientf wraps a formatted cause as a transient failure.
func Transientf(format string, args ...any) error {
	return &ClassifiedError{ErrKind: KindTransient, Cause: fmt.Errorf(format, args...)}
}

// Structuralf wraps a formatted cause as a structural failure.
func Structuralf(format string, args ...any) error {
	return &ClassifiedError{ErrKind: KindStructural, Cause: fmt.Errorf(format, args...)}
}

// Conflictf wraps a formatted cause as a terminal conflict.
func Conflictf(format string, args ...any) error {
	return &ClassifiedError{ErrKind: KindConflict, Cause: fmt.Errorf(format, args...)}
}

// Exhaustedf wraps a formatted cause as retry-budget exhaustion.
func Exhaustedf(format string, args ...any) error {
	return &ClassifiedError{ErrKind: KindExhaustion, Cause: fmt.Errorf(format, args...)}
}

// Classify rewraps err under kind, preserving the cause chain.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{ErrKind: kind, Cause: err}
}

// ErrNotFound is returned when an entity lookup finds no binding. It is
// distinct from transport failure so absence is never inferred from a broken
// connection.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err is an ErrNotFound for any entity.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// Sentinel errors surfaced across component boundaries.
var (
	// ErrDuplicateAnalysis signals an analysisID already bound to an anchor.
	ErrDuplicateAnalysis = &ClassifiedError{ErrKind: KindConflict, Cause: errors.New("analysis already bound to an anchor")}
	// ErrHashMismatch signals tampering or storage corruption detected by
	// content-hash verification.
	ErrHashMismatch = &ClassifiedError{ErrKind: KindConflict, Cause: errors.New("content hash does not match anchor")}
	// ErrQueueUnavailable signals the transport rejected a publish; the job
	// record remains visible in requested state for later requeue.
	ErrQueueUnavailable = &ClassifiedError{ErrKind: KindTransient, Cause: errors.New("queue transport unavailable")}
)
