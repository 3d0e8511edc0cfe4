package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/jackc/pgx/v5"
)

// The sweeps below claim rows with FOR UPDATE SKIP LOCKED so several
// replicas can run them at once without double-processing.

// ExpiredHold is a booking cancelled by ExpireHolds together with the
// payments that sweep cancelled.
type ExpiredHold struct {
	Booking    Booking
	PaymentIDs []string
}

// ExpireHolds cancels unpaid bookings whose hold has run out. Bookings with a
// pending checkout are left alone.
func (r *Repository) ExpireHolds(ctx context.Context, now time.Time, limit int) ([]ExpiredHold, error) {
	var out []ExpiredHold
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		ids, err := claimIDs(ctx, tx, `
			SELECT b.id::text FROM bookings b
			WHERE b.status = 'PendingPayment' AND b.hold_expires_at <= $1
			  AND NOT EXISTS (SELECT 1 FROM orders o WHERE o.booking_id = b.id AND o.status = 'Pending')
			ORDER BY b.hold_expires_at
			LIMIT $2
			FOR UPDATE OF b SKIP LOCKED
		`, now, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			before, err := r.getBooking(ctx, tx, id, false)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE bookings SET status = 'Cancelled', hold_expires_at = NULL, updated_at = now() WHERE id = $1
			`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE booking_occurrences SET status = 'Cancelled', updated_at = now()
				WHERE booking_id = $1 AND status = 'PendingPayment'
			`, id); err != nil {
				return err
			}
			rows, err := tx.Query(ctx, `
				UPDATE payments SET status = 'Cancelled', note = 'payment hold expired', updated_at = now()
				WHERE booking_id = $1 AND status = 'PendingPayment'
				RETURNING id
			`, id)
			if err != nil {
				return err
			}
			paymentIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return err
			}
			after, err := r.getBooking(ctx, tx, id, false)
			if err != nil {
				return err
			}
			if err := bookingClosed(ctx, tx, events.BookingHoldExpired, after, "hold_expired"); err != nil {
				return err
			}
			if err := r.audit(ctx, tx, SystemActor, "bookings", id, audit.ActionUpdate, before, after); err != nil {
				return err
			}
			out = append(out, ExpiredHold{Booking: after, PaymentIDs: paymentIDs})
		}
		return nil
	})
	return out, err
}

// ExpiredOrders lists what ExpireOrders cancelled.
type ExpiredOrders struct {
	OrderIDs   []string
	PaymentIDs []string
}

// ExpireOrders cancels checkouts left Pending since before cutoff. Their
// items go back to the occurrence so the next checkout picks them up, and
// the occurrence stays CheckedIn.
func (r *Repository) ExpireOrders(ctx context.Context, cutoff time.Time, limit int) (ExpiredOrders, error) {
	var out ExpiredOrders
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		ids, err := claimIDs(ctx, tx, `
			SELECT id::text FROM orders
			WHERE status = 'Pending' AND created_at <= $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, cutoff, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'Cancelled', updated_at = now() WHERE id = $1`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE order_items SET order_id = NULL WHERE order_id = $1`, id); err != nil {
				return err
			}
			rows, err := tx.Query(ctx, `
				UPDATE payments SET status = 'Cancelled', note = 'order expired', updated_at = now()
				WHERE order_id = $1 AND status = 'PendingPayment'
				RETURNING id
			`, id)
			if err != nil {
				return err
			}
			paymentIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return err
			}
			out.OrderIDs = append(out.OrderIDs, id)
			out.PaymentIDs = append(out.PaymentIDs, paymentIDs...)
			if err := r.audit(ctx, tx, SystemActor, "orders", id, audit.ActionUpdate,
				map[string]any{"status": "Pending"}, map[string]any{"status": "Cancelled"}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// MarkNoShows flags Active occurrences whose slot has ended without a
// check-in.
func (r *Repository) MarkNoShows(ctx context.Context, now time.Time, limit int) ([]Occurrence, error) {
	var out []Occurrence
	today := dates.DateOf(now)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		ids, err := claimIDs(ctx, tx, `
			SELECT id::text FROM booking_occurrences
			WHERE status = 'Active'
			  AND (date < $1::date OR (date = $1::date AND end_time < $2::time))
			ORDER BY date, end_time
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, today.String(), dates.ClockOf(now).String(), limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			before, err := r.getOccurrence(ctx, tx, id, false)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE booking_occurrences SET status = 'NoShow', updated_at = now() WHERE id = $1
			`, id); err != nil {
				return err
			}
			after := before
			after.Status = booking.StatusNoShow
			if err := finishBookingIfDone(ctx, tx, before.BookingID); err != nil {
				return err
			}
			if err := occurrenceEvent(ctx, tx, events.OccurrenceReleased, after); err != nil {
				return err
			}
			if err := r.audit(ctx, tx, SystemActor, "booking_occurrences", id, audit.ActionUpdate, before, after); err != nil {
				return err
			}
			out = append(out, after)
		}
		return nil
	})
	return out, err
}

func claimIDs(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
