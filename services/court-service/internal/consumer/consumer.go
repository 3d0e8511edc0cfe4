// Package consumer keeps court status in step with occurrence check-ins.
package consumer

import (
	"context"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "court-service"

// StatusStore flips court status inside the inbox transaction.
type StatusStore interface {
	MarkInUse(ctx context.Context, tx pgx.Tx, courtID string) (bool, error)
	Release(ctx context.Context, tx pgx.Tx, courtID string) (bool, error)
}

type Config struct {
	Brokers string
	GroupID string
}

// Start runs one consumer per occurrence topic until ctx is cancelled.
func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store StatusStore, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		events.OccurrenceCheckedIn: CheckedIn(store, logger),
		events.OccurrenceReleased:  Released(store, logger),
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

func CheckedIn(store StatusStore, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.OccurrencePayload](msg)
		if err != nil {
			logger.Warn("malformed check-in event skipped", "err", err)
			return nil
		}
		changed, err := store.MarkInUse(ctx, tx, evt.CourtID)
		if err != nil {
			return err
		}
		logger.Info("court checked in", "court_id", evt.CourtID, "occurrence_id", evt.OccurrenceID, "changed", changed)
		return nil
	}
}

func Released(store StatusStore, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.OccurrencePayload](msg)
		if err != nil {
			logger.Warn("malformed release event skipped", "err", err)
			return nil
		}
		changed, err := store.Release(ctx, tx, evt.CourtID)
		if err != nil {
			return err
		}
		logger.Info("court released", "court_id", evt.CourtID, "occurrence_id", evt.OccurrenceID, "changed", changed)
		return nil
	}
}
