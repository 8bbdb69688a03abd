// Package core defines the transport abstractions shared by the queue
// facade and its driver implementations.
package core

import "context"

// Driver identifies a concrete transport implementation.
type Driver string

const (
	// DriverAMQP is a RabbitMQ-compatible broker transport.
	DriverAMQP Driver = "amqp"
	// DriverMemory is the in-process test transport.
	DriverMemory Driver = "memory"
)

// Delivery is one in-flight message. Exactly one of Ack, Nack, or
// DeadLetter must be called; until then the transport delivers nothing
// further to this consumer (prefetch = 1).
type Delivery interface {
	Body() []byte
	// Ack confirms durable processing; the message is discarded.
	Ack() error
	// Nack returns the message to the queue for redelivery.
	Nack() error
	// DeadLetter routes the message to the holding queue with a diagnostic
	// and discards it from the main queue.
	DeadLetter(diagnostic string) error
}

// DeadLetteredMessage is an entry held in the dead-letter queue for manual
// inspection.
type DeadLetteredMessage struct {
	Body       []byte `json:"body"`
	Diagnostic string `json:"diagnostic"`
}

// Transport is the durable queue abstraction. Implementations must survive
// transport-level disconnects without losing in-flight acknowledgment
// semantics: unacked messages are redelivered.
type Transport interface {
	// Publish enqueues a durable message.
	Publish(ctx context.Context, body []byte) error
	// Consume returns a channel delivering at most one unacknowledged
	// message at a time. The channel closes when ctx is done or the
	// transport shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)
	// DeadLetters lists the held dead-letter entries.
	DeadLetters(ctx context.Context) ([]DeadLetteredMessage, error)
	Close() error
}
