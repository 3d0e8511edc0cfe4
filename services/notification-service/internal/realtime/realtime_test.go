package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseFilter(t *testing.T) {
	assert.Equal(t, []string{"bookingCreated", "paymentUpdated"}, ParseFilter(" bookingCreated,, paymentUpdated "))
	assert.Empty(t, ParseFilter(""))
}

func TestBroadcastRespectsFilters(t *testing.T) {
	h := NewHub(logger, 4)
	all, cancelAll := h.Subscribe(nil)
	defer cancelAll()
	payments, cancelPayments := h.Subscribe([]string{"paymentUpdated"})
	defer cancelPayments()

	assert.Equal(t, 1, h.Broadcast(Message{Event: "bookingCreated"}))
	assert.Equal(t, 2, h.Broadcast(Message{Event: "paymentUpdated"}))

	assert.Equal(t, "bookingCreated", (<-all).Event)
	assert.Equal(t, "paymentUpdated", (<-all).Event)
	assert.Equal(t, "paymentUpdated", (<-payments).Event)
	assert.Equal(t, 2, h.Clients())
}

func TestBroadcastDropsForSlowClients(t *testing.T) {
	h := NewHub(logger, 1)
	_, cancel := h.Subscribe(nil)
	defer cancel()
	assert.Equal(t, 1, h.Broadcast(Message{Event: "a"}))
	assert.Equal(t, 0, h.Broadcast(Message{Event: "b"}))
	assert.EqualValues(t, 1, h.dropped)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(logger, 1)
	ch, cancel := h.Subscribe(nil)
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.Clients())
}

type ackRecorder struct {
	acked, nacked int
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }
func (a *ackRecorder) Nack(uint64, bool, bool) error { a.nacked++; return nil }
func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func TestRelayBroadcastsAndAcks(t *testing.T) {
	h := NewHub(logger, 4)
	msgs, cancel := h.Subscribe(nil)
	defer cancel()

	acks := &ackRecorder{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: acks, Body: []byte("garbage")}
	deliveries <- amqp.Delivery{Acknowledger: acks, Body: []byte(`{"event":"bookingCreated","data":{"id":"b1"},"at":"2025-10-06T09:00:00Z"}`)}
	close(deliveries)

	h.Relay(context.Background(), deliveries)

	assert.Equal(t, 1, acks.acked)
	assert.Equal(t, 1, acks.nacked)
	m := <-msgs
	assert.Equal(t, "bookingCreated", m.Event)
	assert.JSONEq(t, `{"id":"b1"}`, string(m.Data))
}

func TestStreamWritesEvents(t *testing.T) {
	h := NewHub(logger, 4)
	srv := httptest.NewServer(h.Stream(time.Hour))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?events=bookingCreated")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)
	h.Broadcast(Message{Event: "paymentUpdated", Data: json.RawMessage(`{}`)})
	h.Broadcast(Message{Event: "bookingCreated", Data: json.RawMessage(`{"id":"b1"}`)})

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			got = append(got, line)
		}
	}
	assert.Equal(t, "event: bookingCreated", got[0])
	assert.True(t, strings.HasPrefix(got[1], `data: {"event":"bookingCreated","data":{"id":"b1"}`), got[1])
}
