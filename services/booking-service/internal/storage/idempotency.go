package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type idempotencyRecord struct {
	BookingID  string
	StatusCode int
}

// lockIdempotencyKey reserves (scope, key) for this transaction. existed is
// true when an earlier request already claimed the key.
func (r *Repository) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, scope, key string) (idempotencyRecord, bool, error) {
	rec, err := selectIdempotencyForUpdate(ctx, tx, scope, key)
	if err == nil {
		return rec, rec.BookingID != "", nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return idempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (scope, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (scope, idempotency_key) DO NOTHING
	`, scope, key)
	if err != nil {
		return idempotencyRecord{}, false, err
	}

	rec, err = selectIdempotencyForUpdate(ctx, tx, scope, key)
	if err != nil {
		return idempotencyRecord{}, false, err
	}
	return rec, rec.BookingID != "", nil
}

func (r *Repository) finalizeIdempotency(ctx context.Context, tx pgx.Tx, scope, key, bookingID string, statusCode int) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			updated_at = now()
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key, bookingID, statusCode)
	return err
}

func selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, scope, key string) (idempotencyRecord, error) {
	var rec idempotencyRecord
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(booking_id::text, ''), COALESCE(status_code, 0)
		FROM booking_idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
		FOR UPDATE
	`, scope, key).Scan(&rec.BookingID, &rec.StatusCode)
	return rec, err
}
