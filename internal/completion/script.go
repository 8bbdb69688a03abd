package completion

import (
	"context"
	"encoding/json"
	"sync"

	"carechain/pkg/domain"
)

// Reply is one scripted completion outcome.
type Reply struct {
	Body json.RawMessage
	Err  error
}

// Script is a deterministic Client double replaying queued replies in
// order. When the script runs out it returns a transient error, which makes
// over-consumption visible in retry-policy tests.
type Script struct {
	mu      sync.Mutex
	replies []Reply
	calls   []string
}

// NewScript returns a Script primed with replies.
func NewScript(replies ...Reply) *Script {
	return &Script{replies: replies}
}

// Push appends further replies to the script.
func (s *Script) Push(replies ...Reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

// Calls returns the user payloads observed so far.
func (s *Script) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Complete replays the next scripted reply.
func (s *Script) Complete(_ context.Context, _ string, user string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, user)
	if len(s.replies) == 0 {
		return nil, domain.Transientf("completion script exhausted after %d calls", len(s.calls))
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next.Body, next.Err
}
