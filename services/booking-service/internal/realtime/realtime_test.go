package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	keys []string
	msgs []any
	err  error
}

func (r *recorder) PublishJSON(_ context.Context, key string, v any) error {
	r.keys = append(r.keys, key)
	r.msgs = append(r.msgs, v)
	return r.err
}

func TestPublishRoutesByEvent(t *testing.T) {
	rec := &recorder{}
	h := New(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	h.Publish(context.Background(), BookingCreated, map[string]string{"id": "b1"})

	require.Len(t, rec.keys, 1)
	assert.Equal(t, "board.bookingCreated", rec.keys[0])
	msg, ok := rec.msgs[0].(Message)
	require.True(t, ok)
	assert.Equal(t, BookingCreated, msg.Event)
	assert.False(t, msg.At.IsZero())
}

func TestPublishSwallowsBrokerErrors(t *testing.T) {
	rec := &recorder{err: errors.New("channel closed")}
	h := New(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() { h.Publish(context.Background(), PaymentUpdated, nil) })
	assert.Len(t, rec.keys, 1)
}

func TestNilNotifierDiscards(t *testing.T) {
	h := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() { h.Publish(context.Background(), OrdersExpired, []string{"o1"}) })
}
