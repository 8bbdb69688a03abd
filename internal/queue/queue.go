// Package queue re-exports the durable message transport abstractions and
// selects a driver: publish, single-prefetch consume with explicit
// acknowledgment, and a dead-letter holding queue for messages that
// exhausted their retry budget.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"carechain/internal/config"
	amqptransport "carechain/internal/infra/queue/amqp"
	memorytransport "carechain/internal/infra/queue/memory"
	"carechain/internal/queue/core"
)

type (
	// Driver identifies a transport driver.
	Driver = core.Driver
	// Delivery is one in-flight message.
	Delivery = core.Delivery
	// DeadLetteredMessage is a held dead-letter entry.
	DeadLetteredMessage = core.DeadLetteredMessage
	// Transport is the durable queue abstraction.
	Transport = core.Transport
)

const (
	// DriverAMQP is the RabbitMQ-compatible broker driver (default).
	DriverAMQP = core.DriverAMQP
	// DriverMemory is the in-process test driver.
	DriverMemory = core.DriverMemory
)

// AnalysisRequest is the message body carried for each job.
type AnalysisRequest struct {
	JobID       string `json:"job_id"`
	SubjectID   string `json:"subject_id"`
	RequesterID string `json:"requester_id"`
}

// Encode marshals the request for publishing.
func (r AnalysisRequest) Encode() ([]byte, error) { return json.Marshal(r) }

// DecodeAnalysisRequest parses a message body.
func DecodeAnalysisRequest(body []byte) (AnalysisRequest, error) {
	var r AnalysisRequest
	if err := json.Unmarshal(body, &r); err != nil {
		return AnalysisRequest{}, fmt.Errorf("decode analysis request: %w", err)
	}
	return r, nil
}

// NewMemory returns an in-process Transport suitable for tests.
func NewMemory() *memorytransport.Transport { return memorytransport.New() }

// Open selects a Transport implementation from configuration.
func Open(ctx context.Context, cfg config.Queue) (Transport, error) {
	switch Driver(cfg.Driver) {
	case DriverAMQP, "":
		return amqptransport.Dial(ctx, amqptransport.Config{
			URL:        cfg.URL,
			Queue:      cfg.Name,
			DeadLetter: cfg.DeadLetter,
		})
	case DriverMemory:
		return memorytransport.New(), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %s", cfg.Driver)
	}
}
