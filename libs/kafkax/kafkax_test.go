package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestExtractEventMetaFallsBack(t *testing.T) {
	msg := kafka.Message{Topic: "booking.created.v1", Key: []byte("k-1")}
	meta := ExtractEventMeta(msg)
	assert.Equal(t, "k-1", meta.EventID)
	assert.Equal(t, "booking.created.v1", meta.EventType)

	msg.Headers = []kafka.Header{{Key: "event_id", Value: []byte("e-1")}, {Key: "event_type", Value: []byte("x")}}
	meta = ExtractEventMeta(msg)
	assert.Equal(t, "e-1", meta.EventID)
	assert.Equal(t, "x", meta.EventType)
}

func TestConsumerRetriesThenGivesUp(t *testing.T) {
	calls := 0
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), ConsumerConfig{
		Topic:       "t",
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}, func(context.Context, kafka.Message) error {
		calls++
		return errors.New("boom")
	})

	c.process(context.Background(), kafka.Message{Topic: "t"})
	assert.Equal(t, 3, calls)
}

func TestConsumerStopsOnSuccess(t *testing.T) {
	calls := 0
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), ConsumerConfig{Topic: "t"}, func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	c.backoff = time.Millisecond

	c.process(context.Background(), kafka.Message{Topic: "t"})
	assert.Equal(t, 2, calls)
}

func TestTraceHeaderCarrierOverwrites(t *testing.T) {
	c := &headerCarrier{headers: []kafka.Header{{Key: "traceparent", Value: []byte("old")}}}
	c.Set("traceparent", "new")
	assert.Equal(t, "new", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)

	c.Set("tracestate", "a=b")
	assert.Len(t, c.Keys(), 2)
}

func TestEventMetaMessage(t *testing.T) {
	m := EventMeta{EventID: "e-1", EventType: "booking.created.v1", AggregateType: "booking", AggregateID: "b-1"}
	msg := m.Message(context.Background(), []byte(`{}`))
	assert.Equal(t, "booking.created.v1", msg.Topic)
	assert.Equal(t, "b-1", string(msg.Key))
	assert.Equal(t, m, ExtractEventMeta(msg))
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	assert.Error(t, ReadyCheck(" , ")(context.Background()))
}
