package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
)

const codeAttempts = 3

// SystemActor is recorded on changes made by background workers and consumers.
var SystemActor = httpx.Actor{Name: "system"}

type Repository struct {
	pool *db.Pool
	now  func() time.Time
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, now: dates.Now}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) audit(ctx context.Context, tx pgx.Tx, actor httpx.Actor, table, id, action string, before, after any) error {
	return audit.Record(ctx, tx, audit.Change{
		Service:  serviceName,
		Table:    table,
		EntityID: id,
		Action:   action,
		Actor:    actor,
		Old:      before,
		New:      after,
	})
}

// insertPayment allocates the PM payment id and HD invoice code of the day
// and inserts p. Two writers can read the same last code, so a collision is
// retried inside a savepoint.
func (r *Repository) insertPayment(ctx context.Context, tx pgx.Tx, p *Payment) error {
	now := r.now()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		id, err := codes.Next(ctx, tx, "payments", "id", codes.DailyPrefix("PM", now))
		if err != nil {
			return err
		}
		invoice, err := codes.Next(ctx, tx, "payments", "invoice_code", codes.DailyPrefix("HD", now))
		if err != nil {
			return err
		}
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		err = sp.QueryRow(ctx, `
			INSERT INTO payments (id, kind, booking_id, order_id, occurrence_id, customer_id, invoice_code,
				amount, method, status, note, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12)
			RETURNING created_at
		`, id, p.Kind, p.BookingID, p.OrderID, p.OccurrenceID, p.CustomerID, invoice,
			p.Amount.String(), p.Method, p.Status, p.Note, p.PaidAt).Scan(&p.CreatedAt)
		if db.IsUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			continue
		}
		if err != nil {
			_ = sp.Rollback(ctx)
			return err
		}
		if err := sp.Commit(ctx); err != nil {
			return err
		}
		p.ID, p.InvoiceCode = id, invoice
		return nil
	}
	return ErrCodeExhausted
}

func dateArg(d *dates.Date) *string {
	if d == nil || d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}
