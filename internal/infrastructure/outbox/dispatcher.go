package outbox

import (
	"context"

	"go.uber.org/zap"
)

// Publisher writes one message to the events topic.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

type Dispatcher struct {
	logger    *zap.Logger
	publisher Publisher
}

func NewDispatcher(logger *zap.Logger, publisher Publisher) *Dispatcher {
	return &Dispatcher{logger: logger, publisher: publisher}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make(map[string]string, len(event.Headers)+2)
	for k, v := range event.Headers {
		headers[k] = v
	}
	headers["event_type"] = event.Type
	if event.Traceparent != "" {
		headers["traceparent"] = event.Traceparent
	}

	if err := d.publisher.Publish(ctx, event.AggregateID, event.Payload, headers); err != nil {
		d.logger.Error("outbox dispatch failed",
			zap.Int64("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return err
	}
	d.logger.Debug("outbox dispatched", zap.Int64("event_id", event.ID), zap.String("type", event.Type))
	return nil
}
