// Package outbox carries domain events from the transaction that produced
// them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// MaxAttempts is how many failed deliveries an event gets before it is
// parked as failed.
const MaxAttempts = 5

type Event struct {
	ID            int64             `json:"id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Type          string            `json:"type"`
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers"`
	Traceparent   string            `json:"traceparent"`
	CreatedAt     time.Time         `json:"created_at"`
	Status        Status            `json:"status"`
	RetryCount    int               `json:"retry_count"`
	LastError     *string           `json:"last_error,omitempty"`
}

// NewEvent marshals payload and captures the trace context of ctx so the
// consumer side can continue the trace.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       data,
		Headers:       map[string]string{},
		Traceparent:   carrier.Get("traceparent"),
		CreatedAt:     time.Now().UTC(),
		Status:        StatusPending,
	}, nil
}
