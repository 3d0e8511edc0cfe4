// Package consumer takes sold goods off the shelf when booking-service
// reports a paid order.
package consumer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "inventory-service"

type Store interface {
	RecordSale(ctx context.Context, tx pgx.Tx, orderID string, items []events.OrderItem) (storage.SaleResult, error)
}

type Config struct {
	Brokers string
	GroupID string
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store Store, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	c := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   events.OrderPaid,
	}, inbox.Handle(pool, consumerName, logger, OrderPaid(store, logger)))
	go c.Run(ctx)
}

func OrderPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.OrderPaidPayload](msg)
		if err != nil {
			logger.Warn("malformed order event skipped", "err", err)
			return nil
		}
		if _, err := uuid.Parse(evt.OrderID); err != nil {
			logger.Warn("order event without a valid id skipped", "order_id", evt.OrderID)
			return nil
		}
		if len(evt.Items) == 0 {
			return nil
		}
		res, err := store.RecordSale(ctx, tx, evt.OrderID, evt.Items)
		if err != nil {
			return err
		}
		if res.Duplicate {
			return nil
		}
		for _, id := range res.Unknown {
			logger.Warn("sold product not in catalog", "order_id", evt.OrderID, "product_id", id)
		}
		for _, s := range res.Shortfalls {
			logger.Warn("sale exceeded stock; clamped at zero",
				"order_id", evt.OrderID, "product_id", s.ProductID, "product", s.Name, "missing", s.Missing)
		}
		logger.Info("order stock deducted", "order_id", evt.OrderID, "products", res.Moved)
		return nil
	}
}
