// Package consumer projects payments other services want settled by card
// into billing's payables table.
package consumer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "billing-service"

type Store interface {
	UpsertPayable(ctx context.Context, tx pgx.Tx, p storage.Payable) error
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
		events.PaymentCreated:           PaymentCreated(store, logger),
		events.MembershipPaymentCreated: MembershipPaymentCreated(store, logger),
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

func currency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "vnd"
	}
	return c
}

// PaymentCreated records booking and order payments. Only card payments are
// announced, but the kind is checked again since the projection only knows
// booking, order and membership payables.
func PaymentCreated(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.PaymentCreatedPayload](msg)
		if err != nil {
			logger.Warn("malformed payment event skipped", "err", err)
			return nil
		}
		if evt.PaymentID == "" || (evt.Kind != events.KindBooking && evt.Kind != events.KindOrder) {
			return nil
		}
		if !evt.Amount.IsPositive() {
			logger.Warn("payment without amount skipped", "payment_ref", evt.PaymentID)
			return nil
		}
		if err := store.UpsertPayable(ctx, tx, storage.Payable{
			PaymentRef:    evt.PaymentID,
			Kind:          evt.Kind,
			ReferenceID:   evt.ReferenceID,
			CustomerID:    evt.CustomerID,
			CustomerEmail: evt.CustomerEmail,
			Amount:        evt.Amount,
			Currency:      currency(evt.Currency),
			Description:   evt.Description,
		}); err != nil {
			return err
		}
		logger.Info("payable recorded", "payment_ref", evt.PaymentID, "kind", evt.Kind, "amount", evt.Amount.String())
		return nil
	}
}

func MembershipPaymentCreated(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.MembershipPaymentCreatedPayload](msg)
		if err != nil {
			logger.Warn("malformed membership payment event skipped", "err", err)
			return nil
		}
		if evt.PaymentID == "" || !evt.Amount.IsPositive() {
			return nil
		}
		if err := store.UpsertPayable(ctx, tx, storage.Payable{
			PaymentRef:    evt.PaymentID,
			Kind:          events.KindMembership,
			ReferenceID:   evt.UserMembershipID,
			CustomerID:    evt.CustomerID,
			CustomerEmail: evt.CustomerEmail,
			Amount:        evt.Amount,
			Currency:      currency(evt.Currency),
			Description:   "CourtOps membership " + evt.PaymentID,
		}); err != nil {
			return err
		}
		logger.Info("membership payable recorded", "payment_ref", evt.PaymentID, "amount", evt.Amount.String())
		return nil
	}
}
