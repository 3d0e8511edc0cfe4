package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one message. Returning an error retries the message up to
// the consumer's attempt limit before it is committed and logged as poisoned.
type Handler func(ctx context.Context, msg kafka.Message) error

type ConsumerConfig struct {
	Brokers     string
	GroupID     string
	Topic       string
	MaxAttempts int
	Backoff     time.Duration
}

type Consumer struct {
	reader      *kafka.Reader
	logger      *slog.Logger
	handler     Handler
	topic       string
	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	var reader *kafka.Reader
	if brokers := SplitBrokers(cfg.Brokers); len(brokers) > 0 {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	return &Consumer{
		reader:      reader,
		logger:      logger.With("topic", cfg.Topic),
		handler:     handler,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	if c.reader == nil {
		c.logger.Warn("kafka consumer disabled (no brokers configured)")
		return
	}
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	meta := ExtractEventMeta(msg)
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		err := c.handler(ctxSpan, msg)
		if err == nil {
			return
		}
		span.RecordError(err)
		if attempt >= c.maxAttempts || ctx.Err() != nil {
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("event dropped after retries",
				"err", err,
				"event_id", meta.EventID,
				"event_type", meta.EventType,
				"attempts", attempt,
			)
			return
		}
		c.logger.Warn("handler error, retrying", "err", err, "event_id", meta.EventID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}
