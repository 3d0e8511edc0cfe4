package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// NewBooking is a priced, validated booking request.
type NewBooking struct {
	CustomerID        string
	CourtID           string
	CourtName         string
	Schedule          booking.Schedule
	Note              string
	TotalAmount       decimal.Decimal
	DiscountAmount    decimal.Decimal
	MembershipPercent decimal.Decimal
	PaymentAmount     decimal.Decimal
	Method            string
	HoldFor           time.Duration
	Actor             httpx.Actor
	IdempotencyScope  string
	IdempotencyKey    string
}

type Created struct {
	Booking  Booking
	Payment  Payment
	Replayed bool
}

const bookingColumns = `
	b.id::text, b.customer_id::text, c.full_name, c.phone, c.email, b.court_id::text, b.court_name,
	b.start_date::text, b.end_date::text, b.start_time::text, b.end_time::text, b.days_of_week,
	b.status, b.hold_expires_at, b.note, b.total_amount::text, b.discount_amount::text,
	b.membership_discount_percent::text, b.payment_method, b.created_at
`

const bookingFrom = ` FROM bookings b JOIN customers c ON c.id = b.customer_id`

func scanBooking(row pgx.Row, b *Booking) error {
	return row.Scan(&b.ID, &b.CustomerID, &b.CustomerName, &b.CustomerPhone, &b.CustomerEmail, &b.CourtID, &b.CourtName,
		&b.StartDate, &b.EndDate, &b.StartTime, &b.EndTime, &b.DaysOfWeek,
		&b.Status, &b.HoldExpiresAt, &b.Note, &b.TotalAmount, &b.DiscountAmount,
		&b.MembershipDiscountPercent, &b.PaymentMethod, &b.CreatedAt)
}

const occurrenceColumns = `
	o.id::text, o.booking_id::text, o.court_id::text, b.court_name, b.customer_id::text, c.full_name,
	o.date::text, o.start_time::text, o.end_time::text, o.status, o.checked_in_at, o.note
`

const occurrenceFrom = ` FROM booking_occurrences o
	JOIN bookings b ON b.id = o.booking_id
	JOIN customers c ON c.id = b.customer_id`

func scanOccurrence(row pgx.Row, o *Occurrence) error {
	return row.Scan(&o.ID, &o.BookingID, &o.CourtID, &o.CourtName, &o.CustomerID, &o.CustomerName,
		&o.Date, &o.StartTime, &o.EndTime, &o.Status, &o.CheckedInAt, &o.Note)
}

// CreateBooking stores a booking, its occurrences and the first payment.
//
// The court advisory lock serialises writers for one court so the conflict
// query sees every committed occurrence; the exclusion constraint on
// booking_occurrences still rejects anything that slips past it.
func (r *Repository) CreateBooking(ctx context.Context, in NewBooking) (Created, error) {
	var out Created
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if in.IdempotencyKey != "" {
			rec, existed, err := r.lockIdempotencyKey(ctx, tx, in.IdempotencyScope, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existed {
				b, err := r.getBooking(ctx, tx, rec.BookingID, false)
				if err != nil {
					return err
				}
				out = Created{Booking: b, Replayed: true}
				if len(b.Payments) > 0 {
					out.Payment = b.Payments[0]
				}
				return nil
			}
		}

		cust, err := r.getCustomer(ctx, tx, in.CustomerID, false)
		if err != nil {
			return err
		}
		if cust.Status != CustomerActive {
			return ErrCustomerInactive
		}

		wanted := in.Schedule.Slots()
		if len(wanted) == 0 {
			return apperr.Invalid("no date in the range falls on the selected days")
		}
		if err := db.AdvisoryXactLock(ctx, tx, "court:"+in.CourtID); err != nil {
			return err
		}
		taken, err := takenSlots(ctx, tx, in.CourtID, wanted[0].Date, wanted[len(wanted)-1].Date)
		if err != nil {
			return err
		}
		if clash := booking.Conflicts(wanted, taken); len(clash) > 0 {
			return apperr.Conflict("the court is already booked on %s from %s to %s",
				clash[0].Date, clash[0].Start, clash[0].End)
		}

		now := r.now()
		status, paymentStatus := booking.StatusPendingPayment, booking.PaymentPending
		var hold, paidAt *time.Time
		if in.Method == booking.MethodCash {
			status, paymentStatus = booking.StatusActive, booking.PaymentPaid
			paidAt = &now
		} else {
			h := now.Add(in.HoldFor)
			hold = &h
		}

		s := in.Schedule
		var id string
		if err := tx.QueryRow(ctx, `
			INSERT INTO bookings (customer_id, court_id, court_name, start_date, end_date, start_time, end_time,
				days_of_week, status, hold_expires_at, note, total_amount, discount_amount,
				membership_discount_percent, payment_method, created_by)
			VALUES ($1, $2, $3, $4::date, $5::date, $6::time, $7::time, $8, $9, $10, $11,
				$12::numeric, $13::numeric, $14::numeric, $15, $16)
			RETURNING id::text
		`, in.CustomerID, in.CourtID, in.CourtName, s.StartDate.String(), s.EndDate.String(),
			s.StartTime.String(), s.EndTime.String(), s.DaysOfWeek, status, hold, in.Note,
			in.TotalAmount.String(), in.DiscountAmount.String(), in.MembershipPercent.String(),
			in.Method, in.Actor.UserID).Scan(&id); err != nil {
			return err
		}
		for _, slot := range wanted {
			_, err := tx.Exec(ctx, `
				INSERT INTO booking_occurrences (booking_id, court_id, date, start_time, end_time, status)
				VALUES ($1, $2, $3::date, $4::time, $5::time, $6)
			`, id, in.CourtID, slot.Date.String(), slot.Start.String(), slot.End.String(), status)
			if db.IsExclusionViolation(err) {
				return ErrSlotTaken
			}
			if err != nil {
				return err
			}
		}

		p := Payment{
			Kind:       events.KindBooking,
			BookingID:  &id,
			CustomerID: in.CustomerID,
			Amount:     in.PaymentAmount,
			Method:     in.Method,
			Status:     paymentStatus,
			PaidAt:     paidAt,
		}
		if err := r.insertPayment(ctx, tx, &p); err != nil {
			return err
		}

		b, err := r.getBooking(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if err := bookingCreated(ctx, tx, b); err != nil {
			return err
		}
		switch {
		case in.Method == booking.MethodCard:
			err = outbox.EnqueueJSON(ctx, tx, "payment", p.ID, events.PaymentCreated, events.PaymentCreatedPayload{
				PaymentID:     p.ID,
				Kind:          events.KindBooking,
				ReferenceID:   id,
				CustomerID:    in.CustomerID,
				CustomerEmail: cust.Email,
				Amount:        p.Amount,
				Currency:      "vnd",
				Description:   fmt.Sprintf("Court %s on %s", b.CourtName, s.StartDate),
			})
		case p.Status == booking.PaymentPaid:
			err = paymentPaid(ctx, tx, p, id, cust.FullName)
		}
		if err != nil {
			return err
		}
		if err := r.audit(ctx, tx, in.Actor, "bookings", id, audit.ActionCreate, nil, b); err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if err := r.finalizeIdempotency(ctx, tx, in.IdempotencyScope, in.IdempotencyKey, id, http.StatusCreated); err != nil {
				return err
			}
		}
		out = Created{Booking: b, Payment: p}
		return nil
	})
	return out, err
}

// takenSlots lists the live occurrences of a court within [from, to].
func takenSlots(ctx context.Context, q querier, courtID string, from, to dates.Date) ([]booking.Slot, error) {
	rows, err := q.Query(ctx, `
		SELECT date::text, start_time::text, end_time::text
		FROM booking_occurrences
		WHERE court_id = $1 AND date BETWEEN $2::date AND $3::date
		  AND status NOT IN ('Cancelled', 'NoShow')
	`, courtID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Slot
	for rows.Next() {
		var s booking.Slot
		if err := rows.Scan(&s.Date, &s.Start, &s.End); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TakenSlots is the read-only form used by the free-slot finder.
func (r *Repository) TakenSlots(ctx context.Context, courtID string, day dates.Date) ([]booking.Slot, error) {
	return takenSlots(ctx, r.pool, courtID, day, day)
}

func (r *Repository) getBooking(ctx context.Context, q querier, id string, lock bool) (Booking, error) {
	sql := `SELECT ` + bookingColumns + bookingFrom + ` WHERE b.id = $1`
	if lock {
		sql += " FOR UPDATE OF b"
	}
	var b Booking
	if err := scanBooking(q.QueryRow(ctx, sql, id), &b); err != nil {
		if db.IsNotFound(err) {
			return Booking{}, ErrBookingNotFound
		}
		return Booking{}, err
	}
	var err error
	if b.Occurrences, err = r.listOccurrences(ctx, q, "o.booking_id = $1", id); err != nil {
		return Booking{}, err
	}
	if b.Payments, err = r.listPayments(ctx, q, PaymentFilter{BookingID: id}); err != nil {
		return Booking{}, err
	}
	return b, nil
}

func (r *Repository) GetBooking(ctx context.Context, id string) (Booking, error) {
	return r.getBooking(ctx, r.pool, id, false)
}

func (r *Repository) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("b.customer_id = $%d", f.CustomerID)
	}
	if f.CourtID != "" {
		add("b.court_id = $%d", f.CourtID)
	}
	if f.From != nil {
		add("b.end_date >= $%d::date", f.From.String())
	}
	if f.To != nil {
		add("b.start_date <= $%d::date", f.To.String())
	}
	if f.Status != "" {
		add("b.status = $%d", f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	sql := `SELECT ` + bookingColumns + bookingFrom
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY b.start_date DESC, b.start_time, b.id LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Booking{}
	for rows.Next() {
		var b Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) listOccurrences(ctx context.Context, q querier, cond string, args ...any) ([]Occurrence, error) {
	rows, err := q.Query(ctx, `SELECT `+occurrenceColumns+occurrenceFrom+` WHERE `+cond+` ORDER BY o.date, o.start_time, o.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Occurrence{}
	for rows.Next() {
		var o Occurrence
		if err := scanOccurrence(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOccurrences feeds the court board.
func (r *Repository) ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]Occurrence, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CourtID != "" {
		add("o.court_id = $%d", f.CourtID)
	}
	if f.From != nil {
		add("o.date >= $%d::date", f.From.String())
	}
	if f.To != nil {
		add("o.date <= $%d::date", f.To.String())
	}
	if f.Status != "" {
		add("o.status = $%d", f.Status)
	}
	if len(where) == 0 {
		where = append(where, "true")
	}
	return r.listOccurrences(ctx, r.pool, strings.Join(where, " AND "), args...)
}

func (r *Repository) getOccurrence(ctx context.Context, q querier, id string, lock bool) (Occurrence, error) {
	sql := `SELECT ` + occurrenceColumns + occurrenceFrom + ` WHERE o.id = $1`
	if lock {
		sql += " FOR UPDATE OF o"
	}
	var o Occurrence
	if err := scanOccurrence(q.QueryRow(ctx, sql, id), &o); err != nil {
		if db.IsNotFound(err) {
			return Occurrence{}, ErrOccurrenceNotFound
		}
		return Occurrence{}, err
	}
	return o, nil
}

func (r *Repository) GetOccurrence(ctx context.Context, id string) (Occurrence, error) {
	return r.getOccurrence(ctx, r.pool, id, false)
}

// CancelBooking cancels the booking, its occurrences from today on and any
// payment still waiting for money.
func (r *Repository) CancelBooking(ctx context.Context, actor httpx.Actor, id, reason string) (Booking, error) {
	var b Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getBooking(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status == booking.StatusCompleted || before.Status == booking.StatusCancelled {
			return apperr.Conflict("a %s booking cannot be cancelled", strings.ToLower(before.Status))
		}
		today := dates.DateOf(r.now())
		if _, err := tx.Exec(ctx, `
			UPDATE booking_occurrences SET status = 'Cancelled', updated_at = now()
			WHERE booking_id = $1 AND status IN ('PendingPayment', 'Active') AND date >= $2::date
		`, id, today.String()); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET status = 'Cancelled', note = $2, updated_at = now()
			WHERE booking_id = $1 AND status = 'PendingPayment'
		`, id, "booking cancelled"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE bookings SET status = 'Cancelled', hold_expires_at = NULL, updated_at = now()
			WHERE id = $1
		`, id); err != nil {
			return err
		}
		if b, err = r.getBooking(ctx, tx, id, false); err != nil {
			return err
		}
		if err := bookingClosed(ctx, tx, events.BookingCancelled, b, reason); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "bookings", id, audit.ActionUpdate, before, b)
	})
	return b, err
}

// CancelOccurrence cancels one session. The booking is cancelled with it
// when nothing else remains open.
func (r *Repository) CancelOccurrence(ctx context.Context, actor httpx.Actor, id string) (Occurrence, error) {
	var o Occurrence
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getOccurrence(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status != booking.StatusPendingPayment && before.Status != booking.StatusActive {
			return apperr.Conflict("a %s occurrence cannot be cancelled", before.Status)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE booking_occurrences SET status = 'Cancelled', updated_at = now() WHERE id = $1
		`, id); err != nil {
			return err
		}
		o = before
		o.Status = booking.StatusCancelled
		var open int
		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM booking_occurrences
			WHERE booking_id = $1 AND status NOT IN ('Cancelled', 'NoShow')
		`, before.BookingID).Scan(&open); err != nil {
			return err
		}
		if open == 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE bookings SET status = 'Cancelled', hold_expires_at = NULL, updated_at = now() WHERE id = $1
			`, before.BookingID); err != nil {
				return err
			}
		}
		return r.audit(ctx, tx, actor, "booking_occurrences", id, audit.ActionUpdate, before, o)
	})
	return o, err
}

// CheckIn marks today's Active occurrence as started.
func (r *Repository) CheckIn(ctx context.Context, actor httpx.Actor, id string) (Occurrence, error) {
	var o Occurrence
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getOccurrence(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status != booking.StatusActive {
			return apperr.Conflict("only an Active occurrence can be checked in, this one is %s", before.Status)
		}
		now := r.now()
		if !before.Date.Equal(dates.DateOf(now)) {
			return apperr.Conflict("the occurrence is on %s, check-in is only possible on the day", before.Date)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE booking_occurrences SET status = 'CheckedIn', checked_in_at = $2, updated_at = now() WHERE id = $1
		`, id, now); err != nil {
			return err
		}
		o = before
		o.Status = booking.StatusCheckedIn
		o.CheckedInAt = &now
		if err := occurrenceEvent(ctx, tx, events.OccurrenceCheckedIn, o); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "booking_occurrences", id, audit.ActionUpdate, before, o)
	})
	return o, err
}

// UserHistory lists the bookings of the customer linked to userID, newest
// first, with their payments.
func (r *Repository) UserHistory(ctx context.Context, userID string, limit int) ([]Booking, error) {
	c, err := r.CustomerByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return []Booking{}, nil
		}
		return nil, err
	}
	out, err := r.ListBookings(ctx, BookingFilter{CustomerID: c.ID, Limit: limit})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Payments, err = r.listPayments(ctx, r.pool, PaymentFilter{BookingID: out[i].ID}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// finishBookingIfDone completes an Active booking once none of its
// occurrences can still be played.
func finishBookingIfDone(ctx context.Context, tx pgx.Tx, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'Completed', updated_at = now()
		WHERE id = $1 AND status = 'Active'
		  AND NOT EXISTS (
			SELECT 1 FROM booking_occurrences
			WHERE booking_id = $1 AND status IN ('PendingPayment', 'Active', 'CheckedIn')
		  )
	`, bookingID)
	return err
}

func bookingCreated(ctx context.Context, tx pgx.Tx, b Booking) error {
	p := events.BookingCreatedPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		CustomerPhone: b.CustomerPhone,
		CourtID:       b.CourtID,
		CourtName:     b.CourtName,
		Status:        b.Status,
		TotalAmount:   b.TotalAmount,
	}
	for _, o := range b.Occurrences {
		p.Occurrences = append(p.Occurrences, events.OccurrenceRef{
			OccurrenceID: o.ID,
			Date:         o.Date,
			StartTime:    o.StartTime,
			EndTime:      o.EndTime,
		})
	}
	return outbox.EnqueueJSON(ctx, tx, "booking", b.ID, events.BookingCreated, p)
}

func bookingClosed(ctx context.Context, tx pgx.Tx, eventType string, b Booking, reason string) error {
	return outbox.EnqueueJSON(ctx, tx, "booking", b.ID, eventType, events.BookingClosedPayload{
		BookingID:     b.ID,
		CustomerID:    b.CustomerID,
		CustomerName:  b.CustomerName,
		CustomerEmail: b.CustomerEmail,
		CustomerPhone: b.CustomerPhone,
		CourtName:     b.CourtName,
		Reason:        reason,
	})
}

func occurrenceEvent(ctx context.Context, tx pgx.Tx, eventType string, o Occurrence) error {
	return outbox.EnqueueJSON(ctx, tx, "booking_occurrence", o.ID, eventType, events.OccurrencePayload{
		OccurrenceID: o.ID,
		BookingID:    o.BookingID,
		CourtID:      o.CourtID,
		Date:         o.Date,
		Status:       o.Status,
	})
}
