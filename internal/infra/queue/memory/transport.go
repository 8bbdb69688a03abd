// Package memory implements an in-process queue transport for tests and
// single-node development. It preserves broker semantics: FIFO order,
// prefetch of one, explicit settle, redelivery of unacked messages, and a
// dead-letter holding queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"carechain/internal/queue/core"
	"carechain/pkg/domain"
)

// Transport is a mutex-guarded FIFO with a size-one signal channel so the
// consume loop can wait for work without polling.
type Transport struct {
	mu          sync.Mutex
	pending     [][]byte
	dead        []core.DeadLetteredMessage
	signal      chan struct{}
	closed      bool
	unavailable bool
}

// New returns an empty in-process transport.
func New() *Transport {
	return &Transport{signal: make(chan struct{}, 1)}
}

// SetUnavailable toggles publish failures. Test hook for queue-unavailable
// submission behavior.
func (t *Transport) SetUnavailable(v bool) {
	t.mu.Lock()
	t.unavailable = v
	t.mu.Unlock()
}

// Publish appends a message to the queue.
func (t *Transport) Publish(_ context.Context, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.unavailable {
		return fmt.Errorf("publish: %w", domain.ErrQueueUnavailable)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	t.pending = append(t.pending, cp)
	select {
	case t.signal <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) requeueFront(body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		// The signal channel is closed; the message is discarded with the
		// rest of the queue.
		return
	}
	t.pending = append([][]byte{body}, t.pending...)
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// Consume delivers messages one at a time. The next message is withheld
// until the previous delivery is settled; an unsettled delivery is requeued
// when ctx ends, mirroring broker redelivery of unacked messages.
func (t *Transport) Consume(ctx context.Context) (<-chan core.Delivery, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("consume: %w", domain.ErrQueueUnavailable)
	}
	t.mu.Unlock()

	out := make(chan core.Delivery)
	go func() {
		defer close(out)
		for {
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				return
			}
			if len(t.pending) == 0 {
				t.mu.Unlock()
				select {
				case <-ctx.Done():
					return
				case <-t.signal:
					continue
				}
			}
			body := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()

			d := &delivery{transport: t, body: body, settled: make(chan struct{})}
			select {
			case out <- d:
			case <-ctx.Done():
				t.requeueFront(body)
				return
			}
			select {
			case <-d.settled:
			case <-ctx.Done():
				if d.settle() {
					t.requeueFront(body)
				}
				return
			}
		}
	}()
	return out, nil
}

// DeadLetters lists held dead-letter entries.
func (t *Transport) DeadLetters(_ context.Context) ([]core.DeadLetteredMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.DeadLetteredMessage, len(t.dead))
	copy(out, t.dead)
	return out, nil
}

// Len reports the number of queued (undelivered) messages.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close shuts the transport down; queued messages are discarded.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.signal)
	return nil
}

type delivery struct {
	transport *Transport
	body      []byte
	once      sync.Once
	settled   chan struct{}
}

func (d *delivery) Body() []byte { return d.body }

// settle marks the delivery settled, returning true on the first call.
func (d *delivery) settle() bool {
	first := false
	d.once.Do(func() {
		first = true
		close(d.settled)
	})
	return first
}

func (d *delivery) Ack() error {
	if !d.settle() {
		return fmt.Errorf("delivery already settled")
	}
	return nil
}

func (d *delivery) Nack() error {
	if !d.settle() {
		return fmt.Errorf("delivery already settled")
	}
	d.transport.requeueFront(d.body)
	return nil
}

func (d *delivery) DeadLetter(diagnostic string) error {
	if !d.settle() {
		return fmt.Errorf("delivery already settled")
	}
	d.transport.mu.Lock()
	d.transport.dead = append(d.transport.dead, core.DeadLetteredMessage{Body: d.body, Diagnostic: diagnostic})
	d.transport.mu.Unlock()
	return nil
}
