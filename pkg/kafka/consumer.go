package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// MaxAttempts bounds handler calls per message before it is
	// dead-lettered and committed.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
}

// DefaultConsumerConfig returns defaults for a low-volume control topic.
func DefaultConsumerConfig(brokers []string, groupID, topic string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:      brokers,
		GroupID:      groupID,
		Topic:        topic,
		MinBytes:     1,
		MaxBytes:     1 << 20,
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher receives messages the consumer gives up on.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error
}

// Consumer reads events from one topic and hands them to a Handler.
// Messages are committed once handled, dead-lettered or found undecodable,
// so a poison message never blocks its partition.
type Consumer struct {
	reader    MessageReader
	cfg       ConsumerConfig
	handler   Handler
	dlq       DeadLetterPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a consumer backed by a kafka-go group reader.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return NewConsumerWithReader(r, cfg, handler, logger)
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(r MessageReader, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Consumer{
		reader:  r,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(slog.String("topic", cfg.Topic), slog.String("group", cfg.GroupID)),
		tracer:  otel.Tracer("kafka-consumer"),
	}
}

// WithDeadLetter routes messages that exhaust their attempts, or cannot be
// decoded, to dlq before they are committed.
func (c *Consumer) WithDeadLetter(dlq DeadLetterPublisher) *Consumer {
	c.dlq = dlq
	return c
}

// Start consumes until ctx is canceled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return c.Close()
			case <-time.After(c.cfg.RetryBackoff):
			}
			continue
		}

		if !c.process(ctx, msg) {
			// Canceled mid-retry; leave the message uncommitted for redelivery.
			return c.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process handles msg and reports whether it may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	ctx = otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&msg.Headers))
	ctx, span := c.tracer.Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	event, err := Decode(msg.Value)
	if err != nil {
		eventsConsumed.WithLabelValues(msg.Topic, outcomeUndecodable).Inc()
		span.SetStatus(codes.Error, err.Error())
		c.logger.ErrorContext(ctx, "failed to decode event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		return true
	}
	span.SetAttributes(attribute.String("event.type", event.Type), attribute.String("event.id", event.ID))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			eventsConsumed.WithLabelValues(msg.Topic, outcomeProcessed).Inc()
			return true
		}
		c.logger.WarnContext(ctx, "handler failed",
			slog.String("event_type", event.Type),
			slog.String("event_id", event.ID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.String("error", lastErr.Error()),
		)
		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
		}
	}

	eventsConsumed.WithLabelValues(msg.Topic, outcomeDeadLettered).Inc()
	span.SetStatus(codes.Error, lastErr.Error())
	c.logger.ErrorContext(ctx, "handler failed after all attempts, skipping message",
		slog.String("event_type", event.Type),
		slog.String("event_id", event.ID),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("error", lastErr.Error()),
	)
	c.deadLetter(ctx, msg, lastErr)
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, lastErr error) {
	if c.dlq == nil {
		return
	}
	// A failed DLQ write is logged by the publisher; the message is still
	// committed.
	_ = c.dlq.Publish(ctx, msg, lastErr, c.cfg.GroupID)
}

// Close closes the reader. It is safe to call more than once.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.reader.Close()
	})
	return c.closeErr
}
