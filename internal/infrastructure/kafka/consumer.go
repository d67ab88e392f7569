package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Message is the part of a Kafka record handlers care about.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// MessageHandler returns nil when the message is done with, either applied
// or deliberately dropped. Any error means the message must be delivered
// again.
type MessageHandler func(ctx context.Context, msg Message) error

// reader is the subset of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader      reader
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

type ConsumerOption func(*Consumer)

// WithRetry sets how many times a failing message is handed to the handler
// and the initial delay between attempts. The delay doubles each time.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, logger, opts...)
}

func newConsumer(r reader, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:      r,
		logger:      logger,
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume reads until ctx is canceled. A message's offset is committed only
// after the handler accepts it. When the handler keeps failing the consumer
// stops without committing, so the group redelivers the message on restart.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("error fetching message", zap.Error(err))
			continue
		}

		m := toMessage(msg)
		if err := c.handle(ctx, handler, m); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset %d on %s/%d: %w", m.Offset, m.Topic, m.Partition, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, m Message) error {
	msgCtx := propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier(m.Headers))
	delay := c.backoff

	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = handler(msgCtx, m); err == nil {
			return nil
		}
		c.logger.Warn("error handling message",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("message %s/%d@%d failed after %d attempts: %w", m.Topic, m.Partition, m.Offset, c.maxAttempts, err)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toMessage(msg kafka.Message) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
	}
}
