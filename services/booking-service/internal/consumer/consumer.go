// Package consumer applies account, billing and catalogue events to
// booking state.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "booking-service"

// Store is the part of the repository the consumers write through. Every
// call joins the inbox transaction.
type Store interface {
	LinkAccount(ctx context.Context, tx pgx.Tx, u events.UserRegisteredPayload) (storage.Customer, bool, error)
	SettleFromProvider(ctx context.Context, tx pgx.Tx, paymentID string) (storage.Settlement, error)
	FailPayment(ctx context.Context, tx pgx.Tx, paymentID, reason string) (storage.Payment, bool, error)
	UpsertProduct(ctx context.Context, tx pgx.Tx, p events.ProductPricePayload) error
}

type Config struct {
	Brokers string
	GroupID string
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store Store, board realtime.Publisher, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		events.UserRegistered:          UserRegistered(store, logger),
		events.BillingPaymentSucceeded: PaymentSucceeded(store, board, logger),
		events.BillingPaymentFailed:    PaymentFailed(store, board, logger),
		events.ProductPriceChanged:     ProductChanged(store, logger),
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

// UserRegistered links a new customer account to its customer record,
// creating one when no record matches the email or phone.
func UserRegistered(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.UserRegisteredPayload](msg)
		if err != nil {
			logger.Warn("malformed registration event skipped", "err", err)
			return nil
		}
		if evt.UserID == "" || evt.Role != httpx.RoleCustomer {
			return nil
		}
		c, created, err := store.LinkAccount(ctx, tx, evt)
		if err != nil {
			return err
		}
		logger.Info("customer account linked", "customer_id", c.ID, "user_id", evt.UserID, "created", created)
		return nil
	}
}

func handled(kind string) bool {
	return kind == events.KindBooking || kind == events.KindOrder
}

func PaymentSucceeded(store Store, board realtime.Publisher, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BillingResultPayload](msg)
		if err != nil {
			logger.Warn("malformed billing event skipped", "err", err)
			return nil
		}
		if !handled(evt.Kind) {
			return nil
		}
		s, err := store.SettleFromProvider(ctx, tx, evt.PaymentRef)
		if errors.Is(err, storage.ErrPaymentNotFound) {
			logger.Warn("card payment for unknown payment", "payment_id", evt.PaymentRef, "session_id", evt.SessionID)
			return nil
		}
		if err != nil {
			return err
		}
		if s.Changed {
			board.Publish(ctx, realtime.PaymentUpdated, s.Payment)
			if s.Booking != nil {
				board.Publish(ctx, realtime.BookingUpdated, s.Booking)
			}
		}
		logger.Info("card payment settled", "payment_id", evt.PaymentRef, "changed", s.Changed, "late", s.Late)
		return nil
	}
}

func PaymentFailed(store Store, board realtime.Publisher, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.BillingResultPayload](msg)
		if err != nil {
			logger.Warn("malformed billing event skipped", "err", err)
			return nil
		}
		if !handled(evt.Kind) {
			return nil
		}
		reason := evt.Reason
		if reason == "" {
			reason = "declined"
		}
		p, changed, err := store.FailPayment(ctx, tx, evt.PaymentRef, reason)
		if errors.Is(err, storage.ErrPaymentNotFound) {
			logger.Warn("card failure for unknown payment", "payment_id", evt.PaymentRef)
			return nil
		}
		if err != nil {
			return err
		}
		if changed {
			board.Publish(ctx, realtime.PaymentUpdated, p)
		}
		logger.Info("card payment failed", "payment_id", evt.PaymentRef, "changed", changed)
		return nil
	}
}

func ProductChanged(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.ProductPricePayload](msg)
		if err != nil {
			logger.Warn("malformed product event skipped", "err", err)
			return nil
		}
		if evt.ProductID == "" {
			return nil
		}
		return store.UpsertProduct(ctx, tx, evt)
	}
}
