// Package realtime pushes court-board updates to RabbitMQ. notification-service
// relays them to browsers over SSE. Delivery is best effort: a failed publish
// is logged and never fails the request that triggered it.
package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/mq"
)

const (
	BookingCreated      = "bookingCreated"
	BookingUpdated      = "bookingUpdated"
	BookingCancelled    = "bookingCancelled"
	BookingExpired      = "bookingExpired"
	PaymentCreated      = "paymentCreated"
	PaymentUpdated      = "paymentUpdated"
	PaymentsCancelled   = "paymentsCancelled"
	OrdersExpired       = "ordersExpired"
	OccurrenceCheckedIn = "occurrenceCheckedIn"
	OccurrenceNoShow    = "occurrenceNoShow"
)

// KeyPrefix is prepended to the event name to form the routing key.
const KeyPrefix = "board."

type Message struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event string, data any)
}

type Hub struct {
	notifier mq.Notifier
	logger   *slog.Logger
}

func New(notifier mq.Notifier, logger *slog.Logger) *Hub {
	if notifier == nil {
		notifier = mq.Discard{}
	}
	return &Hub{notifier: notifier, logger: logger}
}

func (h *Hub) Publish(ctx context.Context, event string, data any) {
	msg := Message{Event: event, Data: data, At: time.Now().UTC()}
	if err := h.notifier.PublishJSON(ctx, KeyPrefix+event, msg); err != nil {
		h.logger.Warn("realtime publish failed", "event", event, "err", err)
	}
}
