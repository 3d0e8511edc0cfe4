package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", "booking.created.v1", map[string]any{"booking_id": "b-1"})
	require.NoError(t, err)
	assert.Equal(t, "booking.created.v1", evt.EventType)

	var body map[string]string
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, "b-1", body["booking_id"])
}

func TestNewEventRejectsUnmarshalable(t *testing.T) {
	_, err := NewEvent("x", "1", "x.v1", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestToMessageCarriesMetadata(t *testing.T) {
	msg := ToMessage(context.Background(), Record{
		EventID:       "e-1",
		AggregateType: "booking",
		AggregateID:   "b-1",
		EventType:     "booking.created.v1",
		Payload:       []byte(`{}`),
	})
	assert.Equal(t, "booking.created.v1", msg.Topic)
	assert.Equal(t, []byte("b-1"), msg.Key)

	meta := kafkax.ExtractEventMeta(msg)
	assert.Equal(t, "e-1", meta.EventID)
	assert.Equal(t, "booking.created.v1", meta.EventType)
}
