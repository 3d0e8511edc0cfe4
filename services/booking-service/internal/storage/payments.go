package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	NoteLateBooking = "paid after booking was cancelled or expired"
	NoteLateOrder   = "paid after the order expired"

	NoteLateOrderReinstated = "paid after the order expired; order reinstated"
)

// Transfer outcomes recorded in bank_transfers.
const (
	TransferApplied      = "applied"
	TransferInsufficient = "insufficient"
	TransferDuplicate    = "duplicate"
)

const paymentColumns = `
	id, kind, booking_id::text, order_id::text, occurrence_id::text, customer_id::text, invoice_code,
	amount::text, method, status, note, paid_at, created_at
`

func scanPayment(row pgx.Row, p *Payment) error {
	return row.Scan(&p.ID, &p.Kind, &p.BookingID, &p.OrderID, &p.OccurrenceID, &p.CustomerID, &p.InvoiceCode,
		&p.Amount, &p.Method, &p.Status, &p.Note, &p.PaidAt, &p.CreatedAt)
}

func (r *Repository) listPayments(ctx context.Context, q querier, f PaymentFilter) ([]Payment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BookingID != "" {
		add("booking_id = $%d", f.BookingID)
	}
	if f.OrderID != "" {
		add("order_id = $%d", f.OrderID)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	sql := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		var p Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	return r.listPayments(ctx, r.pool, f)
}

func (r *Repository) getPayment(ctx context.Context, q querier, id string, lock bool) (Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if lock {
		sql += " FOR UPDATE"
	}
	var p Payment
	if err := scanPayment(q.QueryRow(ctx, sql, id), &p); err != nil {
		if db.IsNotFound(err) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *Repository) GetPayment(ctx context.Context, id string) (Payment, error) {
	return r.getPayment(ctx, r.pool, id, false)
}

// Settlement is the outcome of marking a payment Paid.
type Settlement struct {
	Payment Payment
	// Booking is set for booking payments, Order for order payments.
	Booking *Booking
	Order   *Order
	// Late is true when the money arrived after the hold or order expired.
	Late bool
	// Changed is false when the payment was already Paid.
	Changed bool
}

// ConfirmPayment is the manual confirmation by staff.
func (r *Repository) ConfirmPayment(ctx context.Context, actor httpx.Actor, id string) (Settlement, error) {
	var s Settlement
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		s, err = r.settle(ctx, tx, actor, id, false)
		return err
	})
	return s, err
}

// SettleFromProvider applies a successful card payment. Money has already
// moved, so a payment cancelled in the meantime is still marked Paid.
func (r *Repository) SettleFromProvider(ctx context.Context, tx pgx.Tx, id string) (Settlement, error) {
	return r.settle(ctx, tx, SystemActor, id, true)
}

func (r *Repository) settle(ctx context.Context, tx pgx.Tx, actor httpx.Actor, id string, allowLate bool) (Settlement, error) {
	before, err := r.getPayment(ctx, tx, id, true)
	if err != nil {
		return Settlement{}, err
	}
	if before.Status == booking.PaymentPaid {
		return Settlement{Payment: before}, nil
	}
	if before.Status == booking.PaymentCancelled && !allowLate {
		return Settlement{}, apperr.Conflict("payment %s was cancelled", id)
	}

	now := r.now()
	s := Settlement{Payment: before, Changed: true}
	s.Payment.Status = booking.PaymentPaid
	s.Payment.PaidAt = &now

	switch before.Kind {
	case events.KindBooking:
		if err := r.settleBooking(ctx, tx, actor, &s); err != nil {
			return Settlement{}, err
		}
	case events.KindOrder:
		if err := r.settleOrder(ctx, tx, actor, &s); err != nil {
			return Settlement{}, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status = 'Paid', paid_at = $2, note = $3, updated_at = now() WHERE id = $1
	`, id, now, s.Payment.Note); err != nil {
		return Settlement{}, err
	}
	return s, r.audit(ctx, tx, actor, "payments", id, audit.ActionUpdate, before, s.Payment)
}

func (r *Repository) settleBooking(ctx context.Context, tx pgx.Tx, actor httpx.Actor, s *Settlement) error {
	if s.Payment.BookingID == nil {
		return fmt.Errorf("booking payment %s has no booking", s.Payment.ID)
	}
	bookingID := *s.Payment.BookingID
	before, err := r.getBooking(ctx, tx, bookingID, true)
	if err != nil {
		return err
	}
	switch before.Status {
	case booking.StatusPendingPayment:
		if _, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'Active', hold_expires_at = NULL, updated_at = now() WHERE id = $1
		`, bookingID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE booking_occurrences SET status = 'Active', updated_at = now()
			WHERE booking_id = $1 AND status = 'PendingPayment'
		`, bookingID); err != nil {
			return err
		}
	case booking.StatusCancelled:
		s.Late = true
		s.Payment.Note = NoteLateBooking
	}
	after, err := r.getBooking(ctx, tx, bookingID, false)
	if err != nil {
		return err
	}
	s.Booking = &after
	if after.Status != before.Status {
		if err := r.audit(ctx, tx, actor, "bookings", bookingID, audit.ActionUpdate, before, after); err != nil {
			return err
		}
	}
	return paymentPaid(ctx, tx, s.Payment, bookingID, before.CustomerName)
}

func (r *Repository) settleOrder(ctx context.Context, tx pgx.Tx, actor httpx.Actor, s *Settlement) error {
	if s.Payment.OrderID == nil {
		return fmt.Errorf("order payment %s has no order", s.Payment.ID)
	}
	o, err := r.getOrder(ctx, tx, *s.Payment.OrderID, true)
	if err != nil {
		return err
	}
	if o.Status == booking.OrderCancelled {
		s.Late = true
		revived, err := r.reviveOrder(ctx, tx, &o)
		if err != nil {
			return err
		}
		if !revived {
			// The occurrence was billed again or closed; the money is booked
			// on its own so finance still sees it.
			s.Payment.Note = NoteLateOrder
			s.Order = &o
			var customerName string
			if err := tx.QueryRow(ctx, `SELECT full_name FROM customers WHERE id = $1`, o.CustomerID).Scan(&customerName); err != nil {
				return err
			}
			return outbox.EnqueueJSON(ctx, tx, "payment", s.Payment.ID, events.PaymentPaid,
				paidEvent(s.Payment, o.ID, customerName, true))
		}
		s.Payment.Note = NoteLateOrderReinstated
	}
	if o.Status == booking.OrderPending {
		paidAt := *s.Payment.PaidAt
		if err := r.completeOrder(ctx, tx, actor, &o, paidAt); err != nil {
			return err
		}
	}
	s.Order = &o
	return nil
}

// lateOrderRevivable reports whether an expired order can take a late payment
// after all: its occurrence is still checked in and no other checkout has
// billed it since.
func lateOrderRevivable(occurrenceStatus string, otherOrders int) bool {
	return occurrenceStatus == booking.StatusCheckedIn && otherOrders == 0
}

// reviveOrder puts an expired order back to Pending and re-links the items
// that were on it at checkout time. It reports false when the occurrence has
// moved on.
func (r *Repository) reviveOrder(ctx context.Context, tx pgx.Tx, o *Order) (bool, error) {
	occ, err := r.getOccurrence(ctx, tx, o.OccurrenceID, true)
	if err != nil {
		return false, err
	}
	var others int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM orders
		WHERE occurrence_id = $1 AND id <> $2 AND status IN ('Pending', 'Paid')
	`, o.OccurrenceID, o.ID).Scan(&others); err != nil {
		return false, err
	}
	if !lateOrderRevivable(occ.Status, others) {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'Pending', updated_at = now() WHERE id = $1`, o.ID); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE order_items SET order_id = $1
		WHERE occurrence_id = $2 AND order_id IS NULL AND created_at <= $3
	`, o.ID, o.OccurrenceID, o.CreatedAt); err != nil {
		return false, err
	}
	revived, err := r.getOrder(ctx, tx, o.ID, true)
	if err != nil {
		return false, err
	}
	*o = revived
	return true, nil
}

// FailPayment cancels a pending payment after the card provider declined it.
func (r *Repository) FailPayment(ctx context.Context, tx pgx.Tx, id, reason string) (Payment, bool, error) {
	before, err := r.getPayment(ctx, tx, id, true)
	if err != nil {
		return Payment{}, false, err
	}
	if before.Status != booking.PaymentPending {
		return before, false, nil
	}
	p := before
	p.Status = booking.PaymentCancelled
	p.Note = strings.TrimSpace("card payment failed: " + reason)
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status = 'Cancelled', note = $2, updated_at = now() WHERE id = $1
	`, id, p.Note); err != nil {
		return Payment{}, false, err
	}
	return p, true, r.audit(ctx, tx, SystemActor, "payments", id, audit.ActionUpdate, before, p)
}

// BankTransfer is one SePay notification.
type BankTransfer struct {
	ID           int64
	Gateway      string
	TransferType string
	Amount       decimal.Decimal
	Content      string
	PaymentRef   string
}

type TransferResult struct {
	Outcome    string
	Settlement Settlement
}

// transferOutcome decides what a transfer does to p. A memo without a known
// payment ref, an outgoing transfer or a short amount settles nothing.
func transferOutcome(p *Payment, t BankTransfer) string {
	if p == nil || !strings.EqualFold(t.TransferType, "in") {
		return TransferInsufficient
	}
	if t.Amount.LessThan(p.Amount.Round(0)) {
		return TransferInsufficient
	}
	return TransferApplied
}

// ApplyBankTransfer records every notification and settles the referenced
// payment when the transfer covers it. Transfers that match no payment are
// kept with a NULL payment_id so staff can reconcile them by hand. Replayed
// notifications are recognised by their transfer id.
func (r *Repository) ApplyBankTransfer(ctx context.Context, t BankTransfer) (TransferResult, error) {
	var res TransferResult
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO bank_transfers (id, gateway, transfer_type, amount, content, outcome)
			VALUES ($1, $2, $3, $4::numeric, $5, 'received')
			ON CONFLICT (id) DO NOTHING
		`, t.ID, t.Gateway, t.TransferType, t.Amount.String(), t.Content)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			res.Outcome = TransferDuplicate
			return nil
		}

		var p *Payment
		if t.PaymentRef != "" {
			found, err := r.getPayment(ctx, tx, t.PaymentRef, false)
			switch {
			case err == nil:
				p = &found
			case !errors.Is(err, ErrPaymentNotFound):
				return err
			}
		}
		res.Outcome = transferOutcome(p, t)
		var paymentID *string
		if p != nil {
			paymentID = &p.ID
		}
		if res.Outcome == TransferApplied {
			if res.Settlement, err = r.settle(ctx, tx, SystemActor, p.ID, true); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `UPDATE bank_transfers SET outcome = $2, payment_id = $3 WHERE id = $1`,
			t.ID, res.Outcome, paymentID)
		return err
	})
	return res, err
}

func paidEvent(p Payment, referenceID, customerName string, late bool) events.PaymentPaidPayload {
	paidAt := time.Now().UTC()
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	return events.PaymentPaidPayload{
		PaymentID:    p.ID,
		Kind:         p.Kind,
		ReferenceID:  referenceID,
		CustomerID:   p.CustomerID,
		CustomerName: customerName,
		Amount:       p.Amount,
		Method:       p.Method,
		PaidAt:       paidAt,
		Late:         late,
	}
}

func paymentPaid(ctx context.Context, tx pgx.Tx, p Payment, bookingID, customerName string) error {
	return outbox.EnqueueJSON(ctx, tx, "payment", p.ID, events.PaymentPaid, paidEvent(p, bookingID, customerName, false))
}
