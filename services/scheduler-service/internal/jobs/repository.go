package jobs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/db"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, idempotency_key, booking_id, occurrence_id, customer_name, customer_email, customer_phone,
	court_name, start_at, offset_minutes, remind_at, status, attempts, max_attempts, next_run_at, last_error,
	traceparent, tracestate`

type Repository struct {
	pool        *db.Pool
	maxAttempts int
}

func NewRepository(pool *db.Pool, maxAttempts int) *Repository {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Repository{pool: pool, maxAttempts: maxAttempts}
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.IdempotencyKey, &j.BookingID, &j.OccurrenceID, &j.CustomerName, &j.CustomerEmail,
		&j.CustomerPhone, &j.CourtName, &j.StartAt, &j.OffsetMinutes, &j.RemindAt, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.NextRunAt, &j.LastError, &j.Traceparent, &j.Tracestate)
	return j, err
}

func collect(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Insert stores job unless its key is already known. The caller's trace
// context is kept so the reminder continues the booking's trace.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) (bool, error) {
	tc := otelx.CaptureTraceContext(ctx)
	tag, err := tx.Exec(ctx, `
		INSERT INTO reminder_jobs (idempotency_key, booking_id, occurrence_id, customer_name, customer_email,
			customer_phone, court_name, start_at, offset_minutes, remind_at, max_attempts, next_run_at,
			traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $10, $12, $13)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.BookingID, job.OccurrenceID, job.CustomerName, job.CustomerEmail, job.CustomerPhone,
		job.CourtName, job.StartAt, job.OffsetMinutes, job.RemindAt, r.maxAttempts, tc.Parent, tc.State)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelBooking cancels every pending reminder of bookingID.
func (r *Repository) CancelBooking(ctx context.Context, tx pgx.Tx, bookingID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := StatusPending
	if attempts >= maxAttempts {
		status = StatusFailed
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

type Filter struct {
	BookingID string
	Status    string
	Limit     int
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Job, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.BookingID != "" {
		add("booking_id = ?", f.BookingID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	sql := `SELECT ` + jobColumns + ` FROM reminder_jobs`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	sql += " ORDER BY remind_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
