// Package consumer turns booking events into reminder jobs.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/scheduler-service/internal/jobs"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "scheduler-service"

type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, job jobs.Job) (bool, error)
	CancelBooking(ctx context.Context, tx pgx.Tx, bookingID string) (int64, error)
}

type Config struct {
	Brokers string
	GroupID string
	// Offsets are minutes before an occurrence starts.
	Offsets []int
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store Store, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		events.BookingCreated:     BookingCreated(store, logger, cfg.Offsets, time.Now),
		events.BookingCancelled:   BookingClosed(store, logger),
		events.BookingHoldExpired: BookingClosed(store, logger),
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

func BookingCreated(store Store, logger *slog.Logger, offsets []int, now func() time.Time) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BookingCreatedPayload](msg)
		if err != nil || evt.BookingID == "" {
			logger.Warn("malformed booking event skipped", "err", err)
			return nil
		}
		planned := jobs.Plan(evt, offsets, now())
		created := 0
		for _, job := range planned {
			fresh, err := store.Insert(ctx, tx, job)
			if err != nil {
				return err
			}
			if fresh {
				created++
			}
		}
		logger.Info("reminders scheduled", "booking_id", evt.BookingID, "planned", len(planned), "created", created)
		return nil
	}
}

// BookingClosed cancels the pending reminders of a cancelled or expired
// booking.
func BookingClosed(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BookingClosedPayload](msg)
		if err != nil || evt.BookingID == "" {
			logger.Warn("malformed booking event skipped", "topic", msg.Topic, "err", err)
			return nil
		}
		n, err := store.CancelBooking(ctx, tx, evt.BookingID)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("reminders cancelled", "booking_id", evt.BookingID, "count", n, "reason", evt.Reason)
		}
		return nil
	}
}
