// Package consumer notifies customers about reminders and booking changes.
package consumer

import (
	"context"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/delivery"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/messages"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "notification-service"

type Deliverer interface {
	Deliver(ctx context.Context, tx pgx.Tx, src delivery.Source, to messages.Recipient, msg messages.Message) error
}

type Config struct {
	Brokers string
	GroupID string
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, d Deliverer, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		events.ReminderDue:        ReminderDue(d, logger),
		events.BookingCreated:     BookingCreated(d, logger),
		events.BookingCancelled:   BookingClosed(d, logger, false),
		events.BookingHoldExpired: BookingClosed(d, logger, true),
	}
	for topic, fn := range topics {
		c := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.GroupID,
			Topic:   topic,
		}, inbox.Handle(pool, consumerName, logger, fn))
		go c.Run(ctx)
	}
}

func source(msg kafka.Message, bookingID string) delivery.Source {
	meta := kafkax.ExtractEventMeta(msg)
	return delivery.Source{EventID: meta.EventID, EventType: msg.Topic, BookingID: bookingID}
}

func ReminderDue(d Deliverer, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.ReminderDuePayload](msg)
		if err != nil || evt.BookingID == "" {
			logger.Warn("malformed reminder skipped", "err", err)
			return nil
		}
		to, m := messages.Reminder(evt)
		return d.Deliver(ctx, tx, source(msg, evt.BookingID), to, m)
	}
}

func BookingCreated(d Deliverer, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BookingCreatedPayload](msg)
		if err != nil || evt.BookingID == "" {
			logger.Warn("malformed booking event skipped", "err", err)
			return nil
		}
		to, m := messages.BookingCreated(evt)
		return d.Deliver(ctx, tx, source(msg, evt.BookingID), to, m)
	}
}

func BookingClosed(d Deliverer, logger *slog.Logger, expired bool) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BookingClosedPayload](msg)
		if err != nil || evt.BookingID == "" {
			logger.Warn("malformed booking event skipped", "topic", msg.Topic, "err", err)
			return nil
		}
		to, m := messages.BookingClosed(evt, expired)
		return d.Deliver(ctx, tx, source(msg, evt.BookingID), to, m)
	}
}
