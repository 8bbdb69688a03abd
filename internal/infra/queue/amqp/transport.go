// Package amqp implements the queue transport against a RabbitMQ-compatible
// broker. Prefetch is pinned to one so a worker holds at most one
// unacknowledged delivery, and the consume loop re-dials with exponential
// backoff after a transport-level disconnect; unacked deliveries are then
// redelivered by the broker.
package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"carechain/internal/queue/core"
	"carechain/pkg/domain"
)

const headerDiagnostic = "x-carechain-diagnostic"

// Config holds broker connection parameters.
type Config struct {
	URL        string
	Queue      string
	DeadLetter string
}

// Transport is an AMQP 0-9-1 backed queue transport.
type Transport struct {
	cfg    Config
	mu     sync.Mutex
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	closed bool
}

// Dial connects to the broker and declares the durable main and dead-letter
// queues.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("amqp queue name required")
	}
	if cfg.DeadLetter == "" {
		cfg.DeadLetter = cfg.Queue + ".dead"
	}
	t := &Transport{cfg: cfg}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) connect(ctx context.Context) error {
	conn, err := amqp091.Dial(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", domain.Classify(domain.KindTransient, err))
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", domain.Classify(domain.KindTransient, err))
	}
	// Single-concurrency consumer: one unacked delivery at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}
	for _, name := range []string{t.cfg.Queue, t.cfg.DeadLetter} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	t.mu.Lock()
	t.conn = conn
	t.ch = ch
	t.mu.Unlock()
	_ = ctx
	return nil
}

// reconnect re-dials with exponential backoff until ctx ends or the
// transport is closed.
func (t *Transport) reconnect(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return backoff.Permanent(fmt.Errorf("transport closed"))
		}
		return t.connect(ctx)
	}, policy)
}

func (t *Transport) channel() (*amqp091.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.ch == nil {
		return nil, fmt.Errorf("amqp: %w", domain.ErrQueueUnavailable)
	}
	return t.ch, nil
}

// Publish enqueues a persistent message on the main queue.
func (t *Transport) Publish(ctx context.Context, body []byte) error {
	ch, err := t.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", t.cfg.Queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", domain.ErrQueueUnavailable)
	}
	return nil
}

// Consume delivers messages one at a time, resuming automatically after a
// transport disconnect.
func (t *Transport) Consume(ctx context.Context) (<-chan core.Delivery, error) {
	out := make(chan core.Delivery)
	go func() {
		defer close(out)
		for {
			ch, err := t.channel()
			if err != nil {
				return
			}
			deliveries, err := ch.Consume(t.cfg.Queue, "", false, false, false, false, nil)
			if err != nil {
				if rerr := t.reconnect(ctx); rerr != nil {
					return
				}
				continue
			}
			if !t.pump(ctx, deliveries, out) {
				return
			}
			// Delivery stream ended: broker or network dropped the channel.
			if err := t.reconnect(ctx); err != nil {
				return
			}
		}
	}()
	return out, nil
}

// pump forwards deliveries until the stream closes. It returns false when
// consumption should stop for good.
func (t *Transport) pump(ctx context.Context, deliveries <-chan amqp091.Delivery, out chan<- core.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				t.mu.Lock()
				closed := t.closed
				t.mu.Unlock()
				return !closed
			}
			select {
			case out <- &delivery{transport: t, d: d}:
			case <-ctx.Done():
				// Unacked; broker will redeliver.
				return false
			}
		}
	}
}

// DeadLetters drains a snapshot of the dead-letter queue non-destructively.
func (t *Transport) DeadLetters(ctx context.Context) ([]core.DeadLetteredMessage, error) {
	ch, err := t.channel()
	if err != nil {
		return nil, err
	}
	var (
		out  []core.DeadLetteredMessage
		held []amqp091.Delivery
	)
	for {
		d, ok, err := ch.Get(t.cfg.DeadLetter, false)
		if err != nil {
			return nil, fmt.Errorf("amqp get dead letter: %w", err)
		}
		if !ok {
			break
		}
		held = append(held, d)
		diag := ""
		if v, ok := d.Headers[headerDiagnostic].(string); ok {
			diag = v
		}
		out = append(out, core.DeadLetteredMessage{Body: d.Body, Diagnostic: diag})
	}
	for _, d := range held {
		// Requeue so inspection does not consume the holding queue.
		if err := d.Nack(false, true); err != nil {
			return out, err
		}
	}
	_ = ctx
	return out, nil
}

// Close shuts the connection down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

type delivery struct {
	transport *Transport
	d         amqp091.Delivery
}

func (d *delivery) Body() []byte { return d.d.Body }

func (d *delivery) Ack() error { return d.d.Ack(false) }

func (d *delivery) Nack() error { return d.d.Nack(false, true) }

// DeadLetter publishes the message to the holding queue, then acks the
// original so it leaves the main queue exactly once.
func (d *delivery) DeadLetter(diagnostic string) error {
	ch, err := d.transport.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(context.Background(), "", d.transport.cfg.DeadLetter, false, false, amqp091.Publishing{
		ContentType:  d.d.ContentType,
		DeliveryMode: amqp091.Persistent,
		Headers:      amqp091.Table{headerDiagnostic: diagnostic},
		Body:         d.d.Body,
	})
	if err != nil {
		return fmt.Errorf("amqp dead-letter publish: %w", err)
	}
	return d.d.Ack(false)
}
