package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Payable statuses.
const (
	PayableOpen   = "open"
	PayablePaid   = "paid"
	PayableFailed = "failed"
)

// Checkout session statuses.
const (
	SessionOpen      = "open"
	SessionCompleted = "completed"
	SessionExpired   = "expired"
)

var (
	ErrPayableNotFound        = apperr.NotFound("payment not found")
	ErrSessionNotFound        = apperr.NotFound("checkout session not found")
	ErrDuplicateProviderEvent = errors.New("duplicate provider event")
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Payable is a payment another service asked a customer to settle by card.
type Payable struct {
	PaymentRef    string          `json:"payment_ref"`
	Kind          string          `json:"kind"`
	ReferenceID   string          `json:"reference_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UpsertPayable records or refreshes an open payable. Settled payables are
// left untouched.
func (r *Repository) UpsertPayable(ctx context.Context, tx pgx.Tx, p Payable) error {
	if p.Currency == "" {
		p.Currency = "vnd"
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO payables (payment_ref, kind, reference_id, customer_id, customer_email, amount, currency, description)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		ON CONFLICT (payment_ref) DO UPDATE
		SET amount = EXCLUDED.amount,
		    customer_email = EXCLUDED.customer_email,
		    description = EXCLUDED.description,
		    updated_at = now()
		WHERE payables.status = 'open'
	`, p.PaymentRef, p.Kind, p.ReferenceID, p.CustomerID, p.CustomerEmail, p.Amount.String(), p.Currency, p.Description)
	return err
}

const payableColumns = `payment_ref, kind, reference_id, customer_id, customer_email, amount::text, currency, description, status, created_at, updated_at`

func scanPayable(row pgx.Row, p *Payable) error {
	return row.Scan(&p.PaymentRef, &p.Kind, &p.ReferenceID, &p.CustomerID, &p.CustomerEmail,
		&p.Amount, &p.Currency, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

func (r *Repository) getPayable(ctx context.Context, q querier, ref string, lock bool) (Payable, error) {
	sql := `SELECT ` + payableColumns + ` FROM payables WHERE payment_ref = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var p Payable
	if err := scanPayable(q.QueryRow(ctx, sql, ref), &p); err != nil {
		if db.IsNotFound(err) {
			return Payable{}, ErrPayableNotFound
		}
		return Payable{}, err
	}
	return p, nil
}

func (r *Repository) GetPayable(ctx context.Context, ref string) (Payable, error) {
	return r.getPayable(ctx, r.pool, ref, false)
}

func (r *Repository) LockPayable(ctx context.Context, tx pgx.Tx, ref string) (Payable, error) {
	return r.getPayable(ctx, tx, ref, true)
}

func (r *Repository) SetPayableStatus(ctx context.Context, tx pgx.Tx, ref, status string) error {
	_, err := tx.Exec(ctx, `UPDATE payables SET status = $2, updated_at = now() WHERE payment_ref = $1`, ref, status)
	return err
}

type CheckoutSession struct {
	StripeSessionID string          `json:"stripe_session_id"`
	PaymentRef      string          `json:"payment_ref"`
	Kind            string          `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	URL             string          `json:"url"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExpiredAt       *time.Time      `json:"expired_at,omitempty"`
}

const sessionColumns = `stripe_session_id, payment_ref, kind, amount::text, currency, status, url, created_at, updated_at, completed_at, expired_at`

func scanSession(row pgx.Row, s *CheckoutSession) error {
	return row.Scan(&s.StripeSessionID, &s.PaymentRef, &s.Kind, &s.Amount, &s.Currency, &s.Status, &s.URL,
		&s.CreatedAt, &s.UpdatedAt, &s.CompletedAt, &s.ExpiredAt)
}

func (r *Repository) InsertSession(ctx context.Context, s CheckoutSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, payment_ref, kind, amount, currency, status, url)
		VALUES ($1, $2, $3, $4::numeric, $5, 'open', $6)
		ON CONFLICT (stripe_session_id) DO NOTHING
	`, s.StripeSessionID, s.PaymentRef, s.Kind, s.Amount.String(), s.Currency, s.URL)
	return err
}

func (r *Repository) GetSession(ctx context.Context, tx pgx.Tx, id string) (CheckoutSession, error) {
	var s CheckoutSession
	if err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE stripe_session_id = $1 FOR UPDATE`, id), &s); err != nil {
		if db.IsNotFound(err) {
			return CheckoutSession{}, ErrSessionNotFound
		}
		return CheckoutSession{}, err
	}
	return s, nil
}

// OpenSession returns the newest open session of ref, if any.
func (r *Repository) OpenSession(ctx context.Context, ref string) (CheckoutSession, bool, error) {
	var s CheckoutSession
	err := scanSession(r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE payment_ref = $1 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1
	`, ref), &s)
	if db.IsNotFound(err) {
		return CheckoutSession{}, false, nil
	}
	if err != nil {
		return CheckoutSession{}, false, err
	}
	return s, true, nil
}

func (r *Repository) ListSessions(ctx context.Context, ref string, limit int) ([]CheckoutSession, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{limit}
	where := ""
	if ref != "" {
		args = append(args, ref)
		where = fmt.Sprintf("WHERE payment_ref = $%d", len(args))
	}
	return r.listSessions(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions `+where+` ORDER BY created_at DESC LIMIT $1`, args...)
}

// StaleOpenSessions lists open sessions created before cutoff for the
// reconciler.
func (r *Repository) StaleOpenSessions(ctx context.Context, cutoff time.Time, limit int) ([]CheckoutSession, error) {
	return r.listSessions(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE status = 'open' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *Repository) listSessions(ctx context.Context, sql string, args ...any) ([]CheckoutSession, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CheckoutSession
	for rows.Next() {
		var s CheckoutSession
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CloseSession moves an open session to status. It reports false when the
// session was already closed.
func (r *Repository) CloseSession(ctx context.Context, tx pgx.Tx, id, status string, at time.Time) (bool, error) {
	col := "completed_at"
	if status == SessionExpired {
		col = "expired_at"
	}
	tag, err := tx.Exec(ctx, `
		UPDATE checkout_sessions SET status = $2, `+col+` = $3, updated_at = now()
		WHERE stripe_session_id = $1 AND status = 'open'
	`, id, status, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return fmt.Errorf("provider event %s: payload is not json", evt.ProviderEventID)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, string(evt.Payload))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}
