// Package settlement turns a finished Stripe checkout session into a
// billing.payment.succeeded or billing.payment.failed event. The webhook and
// the reconciler both go through Apply, so a session is settled once no
// matter which of them sees it first.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetSession(ctx context.Context, tx pgx.Tx, id string) (storage.CheckoutSession, error)
	CloseSession(ctx context.Context, tx pgx.Tx, id, status string, at time.Time) (bool, error)
	LockPayable(ctx context.Context, tx pgx.Tx, ref string) (storage.Payable, error)
	SetPayableStatus(ctx context.Context, tx pgx.Tx, ref, status string) error
}

// Result is what the provider reported for one session.
type Result struct {
	SessionID       string
	PaymentRef      string
	Kind            string
	Succeeded       bool
	Amount          decimal.Decimal
	ProviderEventID string
	Reason          string
	At              time.Time
}

type Enqueuer func(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload any) error

type Settler struct {
	store   Store
	logger  *slog.Logger
	enqueue Enqueuer
}

func New(store Store, logger *slog.Logger) *Settler {
	return &Settler{store: store, logger: logger, enqueue: outbox.EnqueueJSON}
}

// Apply settles res inside tx and reports whether an event was emitted.
func (s *Settler) Apply(ctx context.Context, tx pgx.Tx, res Result) (bool, error) {
	status := storage.SessionExpired
	if res.Succeeded {
		status = storage.SessionCompleted
	}

	sess, err := s.store.GetSession(ctx, tx, res.SessionID)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		s.logger.Warn("settling a session this service did not create", "session_id", res.SessionID, "payment_ref", res.PaymentRef)
	case err != nil:
		return false, err
	default:
		if sess.Status != storage.SessionOpen {
			return false, nil
		}
		if res.PaymentRef == "" {
			res.PaymentRef = sess.PaymentRef
		}
		if res.Kind == "" {
			res.Kind = sess.Kind
		}
		if _, err := s.store.CloseSession(ctx, tx, res.SessionID, status, res.At); err != nil {
			return false, err
		}
	}
	if res.PaymentRef == "" {
		s.logger.Warn("checkout session without payment_ref ignored", "session_id", res.SessionID)
		return false, nil
	}

	p, err := s.store.LockPayable(ctx, tx, res.PaymentRef)
	if errors.Is(err, storage.ErrPayableNotFound) {
		s.logger.Warn("checkout session for unknown payable", "payment_ref", res.PaymentRef)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Status == storage.PayablePaid {
		return false, nil
	}
	if res.Kind == "" {
		res.Kind = p.Kind
	}
	if res.Amount.IsZero() {
		res.Amount = p.Amount
	}

	eventType := events.BillingPaymentFailed
	next := storage.PayableFailed
	if res.Succeeded {
		eventType = events.BillingPaymentSucceeded
		next = storage.PayablePaid
	}
	if err := s.store.SetPayableStatus(ctx, tx, p.PaymentRef, next); err != nil {
		return false, err
	}
	payload := events.BillingResultPayload{
		PaymentRef:      p.PaymentRef,
		Kind:            res.Kind,
		SessionID:       res.SessionID,
		Amount:          res.Amount,
		ProviderEventID: res.ProviderEventID,
		Reason:          res.Reason,
	}
	if err := s.enqueue(ctx, tx, "payable", p.PaymentRef, eventType, payload); err != nil {
		return false, err
	}
	s.logger.Info("card payment settled", "payment_ref", p.PaymentRef, "kind", res.Kind, "succeeded", res.Succeeded, "session_id", res.SessionID)
	return true, nil
}
