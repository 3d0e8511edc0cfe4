package inbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

// Record marks eventID as processed by consumer inside tx. It reports false
// when the event was already recorded.
func Record(ctx context.Context, tx pgx.Tx, consumer, eventID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TxHandler handles a message inside the transaction that recorded it.
type TxHandler func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error

// Handle wraps fn so that each event is applied at most once per consumer: the
// inbox row and fn's writes commit or roll back together.
func Handle(pool *db.Pool, consumer string, logger *slog.Logger, fn TxHandler) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		if meta.EventID == "" {
			logger.Warn("event without id ignored", "topic", msg.Topic)
			return nil
		}
		duplicate := false
		err := pool.InTx(ctx, func(tx pgx.Tx) error {
			fresh, err := Record(ctx, tx, consumer, meta.EventID, meta.EventType)
			if err != nil {
				return fmt.Errorf("inbox record: %w", err)
			}
			if !fresh {
				duplicate = true
				return nil
			}
			return fn(ctx, tx, msg)
		})
		if err != nil {
			return err
		}
		if duplicate {
			logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		}
		return nil
	}
}
