// Package consumer records audit changes, sign-in activity, dead-lettered
// reminders and notification outcomes published by the other services.
package consumer

import (
	"context"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/logs"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "audit-service"

type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, eventID string, p audit.Payload) error
	InsertSecurity(ctx context.Context, tx pgx.Tx, eventID string, p events.SecurityAuditPayload) error
	InsertReminderFailure(ctx context.Context, tx pgx.Tx, p events.ReminderDuePayload) error
	BumpNotification(ctx context.Context, tx pgx.Tx, day dates.Date, channel string, sent, failed int) error
}

type Config struct {
	Brokers string
	GroupID string
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store Store, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		audit.EventType:           Change(store, logger),
		events.SecurityAudit:      Security(store, logger),
		events.ReminderDLQ:        ReminderDeadLetter(store, logger),
		events.NotificationSent:   Notification(store, logger),
		events.NotificationFailed: Notification(store, logger),
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

func Change(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		p, err := events.Decode[audit.Payload](msg)
		if err != nil || p.TableName == "" || p.EntityID == "" || !logs.ValidAction(p.Action) {
			logger.Warn("malformed audit change skipped", "err", err, "table", p.TableName, "action", p.Action)
			return nil
		}
		return store.Insert(ctx, tx, kafkax.ExtractEventMeta(msg).EventID, p)
	}
}

func Security(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		p, err := events.Decode[events.SecurityAuditPayload](msg)
		if err != nil || p.EventType == "" {
			logger.Warn("malformed security event skipped", "err", err)
			return nil
		}
		return store.InsertSecurity(ctx, tx, kafkax.ExtractEventMeta(msg).EventID, p)
	}
}

func ReminderDeadLetter(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		p, err := events.Decode[events.ReminderDuePayload](msg)
		if err != nil || p.BookingID == "" {
			logger.Warn("malformed reminder dead letter skipped", "err", err)
			return nil
		}
		logger.Warn("reminder dead-lettered", "job_id", p.JobID, "booking_id", p.BookingID, "error", p.LastError)
		return store.InsertReminderFailure(ctx, tx, p)
	}
}

// Notification counts deliveries per venue day and channel.
func Notification(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		p, err := events.Decode[events.NotificationPayload](msg)
		if err != nil || p.Channel == "" {
			logger.Warn("malformed notification event skipped", "err", err)
			return nil
		}
		at := msg.Time
		if at.IsZero() {
			at = dates.Now()
		}
		sent, failed := 1, 0
		if msg.Topic == events.NotificationFailed {
			sent, failed = 0, 1
		}
		return store.BumpNotification(ctx, tx, dates.DateOf(at.In(dates.Location())), p.Channel, sent, failed)
	}
}
