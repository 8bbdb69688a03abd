// Package clinical fetches per-job snapshots from the clinical data source.
// The snapshot is read-only input to synthesis: fetched fresh for every job,
// never cached, persisted, or chained.
package clinical

import (
	"context"

	"carechain/pkg/domain"
)

// Source provides the read-only snapshot operation consumed by the
// pipeline.
type Source interface {
	FetchSnapshot(ctx context.Context, subjectID string) (domain.ClinicalSnapshot, error)
}
