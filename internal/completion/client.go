// Package completion wraps the structured-JSON completion provider. The
// provider takes a system instruction and a user payload and must return
// parseable JSON; anything else is a structural failure for the caller's
// retry policy to handle.
package completion

import (
	"context"
	"encoding/json"
)

// Client is the structured-JSON completion call consumed by synthesis.
type Client interface {
	// Complete returns the provider's JSON output for the given system
	// instruction and user payload. Malformed (non-JSON) output is an
	// error, never a best-effort result.
	Complete(ctx context.Context, system, user string) (json.RawMessage, error)
}
