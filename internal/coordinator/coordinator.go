// Package coordinator serializes conflicting writes and applies uniform
// retry/backoff to ledger and storage calls. Operations keyed identically
// coalesce onto one in-flight execution whose result is shared by every
// caller; distinct operations sharing a key are strictly ordered. The
// per-key exclusion here is the system's sole locking discipline: the chain
// anchor row per subject is the only shared mutable state.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"carechain/pkg/domain"
)

// EventType labels a lifecycle notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event is one lifecycle notification for a keyed operation.
type Event struct {
	Type       EventType
	Key        string
	Kind       domain.OperationKind
	RetryCount int
	Err        error
	At         time.Time
}

// Observer receives lifecycle events. Observers run on the operation's
// goroutine and must not block.
type Observer func(Event)

// Operation is one retryable unit of work.
type Operation func(ctx context.Context) (any, error)

// Config holds retry knobs for the coordinator.
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Coordinator implements keyed coalescing, per-key ordering, and bounded
// exponential-backoff retry.
type Coordinator struct {
	cfg       Config
	clock     domain.Clock
	logger    *slog.Logger
	group     singleflight.Group
	mu        sync.Mutex
	keyLocks  map[string]*sync.Mutex
	observers []Observer
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New constructs a Coordinator. A nil clock selects the system clock.
func New(cfg Config, clock domain.Clock, opts ...Option) *Coordinator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	c := &Coordinator{
		cfg:      cfg,
		clock:    clock,
		logger:   slog.Default(),
		keyLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.keyLocks[key] = l
	return l
}

func (c *Coordinator) emit(e Event) {
	e.At = c.clock.Now()
	for _, o := range c.observers {
		o(e)
	}
}

// Execute runs op under key. opID identifies the specific write: callers
// re-issuing the same opID while it is still in flight join that execution
// and receive its result, so a retry fired over a live attempt never runs
// twice. Distinct operations sharing a key are strictly ordered by the
// per-key lock; callers with distinct keys proceed fully in parallel.
// Conflict-class errors short-circuit the retry loop and propagate
// immediately.
func (c *Coordinator) Execute(ctx context.Context, key, opID string, kind domain.OperationKind, op Operation) (any, error) {
	result, err, _ := c.group.Do(key+"\x00"+opID, func() (any, error) {
		lock := c.keyLock(key)
		lock.Lock()
		defer lock.Unlock()
		return c.run(ctx, key, kind, op)
	})
	return result, err
}

// run is the explicit bounded retry loop: delay = base * 2^retryCount,
// capped, consulting only the error kind.
func (c *Coordinator) run(ctx context.Context, key string, kind domain.OperationKind, op Operation) (any, error) {
	c.emit(Event{Type: EventStarted, Key: key, Kind: kind})
	state := domain.QueuedOperation{Kind: kind, Key: key}
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		state.RetryCount = attempt
		state.LastAttemptAt = c.clock.Now()
		result, err := op(ctx)
		if err == nil {
			c.emit(Event{Type: EventSucceeded, Key: key, Kind: kind, RetryCount: attempt})
			return result, nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			c.emit(Event{Type: EventFailed, Key: key, Kind: kind, RetryCount: attempt, Err: err})
			return nil, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		delay := c.backoffDelay(attempt)
		c.logger.Debug("retrying operation", "key", key, "kind", string(kind),
			"attempt", attempt+1, "delay", delay, "error", err)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			c.emit(Event{Type: EventFailed, Key: key, Kind: kind, RetryCount: attempt, Err: err})
			return nil, err
		}
	}
	err := domain.Exhaustedf("operation %s on %s failed after %d attempts: %w",
		kind, key, c.cfg.MaxRetries+1, lastErr)
	c.emit(Event{Type: EventFailed, Key: key, Kind: kind, RetryCount: c.cfg.MaxRetries, Err: err})
	return nil, err
}

func (c *Coordinator) backoffDelay(retryCount int) time.Duration {
	delay := c.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if delay > c.cfg.BackoffMax {
		delay = c.cfg.BackoffMax
	}
	return delay
}
