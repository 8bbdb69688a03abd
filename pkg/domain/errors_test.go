package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"transient", Transientf("connection reset"), KindTransient, true},
		{"structural", Structuralf("missing field"), KindStructural, true},
		{"conflict", Conflictf("already bound"), KindConflict, false},
		{"exhaustion", Exhaustedf("budget spent"), KindExhaustion, false},
		{"unclassified defaults to transient", errors.New("plain"), KindTransient, true},
		{"wrapped keeps kind", fmt.Errorf("outer: %w", Conflictf("inner")), KindConflict, false},
		{"duplicate analysis sentinel", ErrDuplicateAnalysis, KindConflict, false},
		{"hash mismatch sentinel", ErrHashMismatch, KindConflict, false},
		{"queue unavailable sentinel", ErrQueueUnavailable, KindTransient, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Classify(KindStructural, cause)
	require.Error(t, err)
	assert.Equal(t, KindStructural, Kind(err))
	assert.True(t, errors.Is(err, cause))

	assert.NoError(t, Classify(KindTransient, nil))
}

func TestIsNotFound(t *testing.T) {
	err := ErrNotFound{Entity: "anchor", ID: "subj-1"}
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", err)))
	assert.False(t, IsNotFound(errors.New("anchor subj-1 not found")))
	assert.Equal(t, "anchor subj-1 not found", err.Error())

	// Absence must stay distinct from transport failure.
	assert.False(t, IsNotFound(Transientf("dial tcp: refused")))
}
