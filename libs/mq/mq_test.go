package mq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestTableCarrier(t *testing.T) {
	table := amqp.Table{}
	c := tableCarrier(table)
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "00-abc-def-01", table["traceparent"])
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestDiscardNeverFails(t *testing.T) {
	var n Notifier = Discard{}
	assert.NoError(t, n.PublishJSON(context.Background(), "booking.created", map[string]string{"a": "b"}))
}

func TestExtractWithoutHeaders(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ExtractTraceContext(ctx, amqp.Delivery{}))
}
