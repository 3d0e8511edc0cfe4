// Package consumer keeps loyalty's customer projection and voucher usage in
// step with booking-service, and settles card-paid memberships from billing.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "loyalty-service"

type Store interface {
	UpsertCustomer(ctx context.Context, tx pgx.Tx, c events.CustomerUpsertedPayload) error
	RecordOrder(ctx context.Context, tx pgx.Tx, o events.OrderPaidPayload) (bool, error)
	SettleFromProvider(ctx context.Context, tx pgx.Tx, id string) (storage.Settlement, error)
	FailPayment(ctx context.Context, tx pgx.Tx, id, reason string) (bool, error)
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
		events.CustomerUpserted:        CustomerUpserted(store, logger),
		events.OrderPaid:               OrderPaid(store, logger),
		events.BillingPaymentSucceeded: BillingSucceeded(store, logger),
		events.BillingPaymentFailed:    BillingFailed(store, logger),
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

func CustomerUpserted(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.CustomerUpsertedPayload](msg)
		if err != nil || evt.CustomerID == "" {
			logger.Warn("malformed customer event skipped", "err", err)
			return nil
		}
		return store.UpsertCustomer(ctx, tx, evt)
	}
}

func OrderPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.OrderPaidPayload](msg)
		if err != nil || evt.OrderID == "" || evt.CustomerID == "" {
			logger.Warn("malformed order event skipped", "err", err)
			return nil
		}
		counted, err := store.RecordOrder(ctx, tx, evt)
		if err != nil {
			return err
		}
		if counted && evt.VoucherID != "" {
			logger.Info("voucher usage recorded", "voucher_id", evt.VoucherID, "order_id", evt.OrderID)
		}
		return nil
	}
}

// BillingSucceeded activates memberships paid by card. Booking and order
// payments are settled by booking-service.
func BillingSucceeded(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BillingResultPayload](msg)
		if err != nil {
			logger.Warn("malformed billing event skipped", "err", err)
			return nil
		}
		if evt.Kind != events.KindMembership || evt.PaymentRef == "" {
			return nil
		}
		s, err := store.SettleFromProvider(ctx, tx, evt.PaymentRef)
		if errors.Is(err, storage.ErrPaymentNotFound) {
			logger.Warn("billing result for unknown membership payment", "payment_ref", evt.PaymentRef)
			return nil
		}
		if err != nil {
			return err
		}
		if !s.AlreadyPaid {
			logger.Info("membership paid by card", "payment_ref", evt.PaymentRef, "user_membership_id", s.UserMembership.ID)
		}
		return nil
	}
}

func BillingFailed(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BillingResultPayload](msg)
		if err != nil {
			logger.Warn("malformed billing event skipped", "err", err)
			return nil
		}
		if evt.Kind != events.KindMembership || evt.PaymentRef == "" {
			return nil
		}
		reason := evt.Reason
		if reason == "" {
			reason = "card payment failed"
		}
		cancelled, err := store.FailPayment(ctx, tx, evt.PaymentRef, reason)
		if errors.Is(err, storage.ErrPaymentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cancelled {
			logger.Info("membership payment cancelled", "payment_ref", evt.PaymentRef, "reason", reason)
		}
		return nil
	}
}
