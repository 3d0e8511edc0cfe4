package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Header keys every courtops event carries next to the W3C trace context.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// EventMeta identifies an event independently of its payload. The
// aggregate id travels as the message key so one aggregate stays on one
// partition.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
}

// ExtractEventMeta reads msg's identity. Messages produced without headers
// fall back to the key for the id and the topic for the type.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	m := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
		AggregateID:   string(msg.Key),
	}
	if m.EventID == "" {
		m.EventID = m.AggregateID
	}
	if m.EventType == "" {
		m.EventType = msg.Topic
	}
	return m
}

// Message builds the message for m with ctx's trace context attached. The
// topic is the event type.
func (m EventMeta) Message(ctx context.Context, payload []byte) kafka.Message {
	return kafka.Message{
		Topic: m.EventType,
		Key:   []byte(m.AggregateID),
		Value: payload,
		Headers: InjectTraceHeaders(ctx, []kafka.Header{
			{Key: HeaderEventID, Value: []byte(m.EventID)},
			{Key: HeaderEventType, Value: []byte(m.EventType)},
			{Key: HeaderAggregateType, Value: []byte(m.AggregateType)},
		}),
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return c.headers
}

// ExtractTraceContext continues the producer's trace in ctx.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: msg.Headers})
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string { return HeaderValue(c.headers, key) }

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = h.Key
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
