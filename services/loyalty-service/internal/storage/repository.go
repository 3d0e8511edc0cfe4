package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const serviceName = "loyalty-service"

const codeAttempts = 3

var (
	ErrVoucherNotFound        = apperr.NotFound("voucher not found")
	ErrVoucherCodeTaken       = apperr.Conflict("voucher code already exists")
	ErrVoucherUsed            = apperr.Conflict("voucher has been used and cannot be deleted")
	ErrMembershipNotFound     = apperr.NotFound("membership not found")
	ErrMembershipNameTaken    = apperr.Conflict("membership name already exists")
	ErrMembershipInUse        = apperr.Conflict("membership still has members")
	ErrUserMembershipNotFound = apperr.NotFound("user membership not found")
	ErrPaymentNotFound        = apperr.NotFound("membership payment not found")
	ErrCustomerNotFound       = apperr.NotFound("customer not found")
	ErrCodeExhausted          = apperr.Unavailable("could not allocate a payment code, retry")
)

// SystemActor is recorded on changes made by workers and consumers.
var SystemActor = httpx.Actor{Name: "system"}

type Repository struct {
	pool *db.Pool
	now  func() time.Time
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

func (r *Repository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
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

// Customer is loyalty's projection of a booking-service customer.
type Customer struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	UserID     string `json:"user_id,omitempty"`
	Status     string `json:"status"`
	PaidOrders int    `json:"paid_orders"`
}

func (r *Repository) UpsertCustomer(ctx context.Context, tx pgx.Tx, c events.CustomerUpsertedPayload) error {
	var userID *string
	if c.UserID != "" {
		userID = &c.UserID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO customers (id, full_name, phone, email, user_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, email = EXCLUDED.email,
			user_id = COALESCE(EXCLUDED.user_id, customers.user_id), status = EXCLUDED.status, updated_at = now()
	`, c.CustomerID, c.FullName, c.Phone, c.Email, userID, c.Status)
	return err
}

func (r *Repository) getCustomer(ctx context.Context, q querier, id string) (Customer, error) {
	var c Customer
	var userID *string
	err := q.QueryRow(ctx, `
		SELECT id::text, full_name, phone, email, user_id, status, paid_orders
		FROM customers WHERE id = $1 AND status <> 'Deleted'
	`, id).Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &userID, &c.Status, &c.PaidOrders)
	if db.IsNotFound(err) {
		return Customer{}, ErrCustomerNotFound
	}
	if userID != nil {
		c.UserID = *userID
	}
	return c, err
}

func (r *Repository) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return r.getCustomer(ctx, r.pool, id)
}

// CustomerByUser resolves the customer linked to a login.
func (r *Repository) CustomerByUser(ctx context.Context, userID string) (Customer, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id::text FROM customers WHERE user_id = $1 AND status <> 'Deleted'`, userID).Scan(&id)
	if db.IsNotFound(err) {
		return Customer{}, ErrCustomerNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	return r.GetCustomer(ctx, id)
}

// RecordOrder counts a paid order once and records its voucher usage, if
// any. It reports false for an order it has already seen.
func (r *Repository) RecordOrder(ctx context.Context, tx pgx.Tx, o events.OrderPaidPayload) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO counted_orders (order_id, customer_id) VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, o.OrderID, o.CustomerID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO customers (id, full_name, paid_orders) VALUES ($1, $2, 1)
		ON CONFLICT (id) DO UPDATE SET paid_orders = customers.paid_orders + 1, updated_at = now()
	`, o.CustomerID, o.CustomerName); err != nil {
		return false, err
	}
	if o.VoucherID == "" {
		return true, nil
	}
	// A voucher deleted after checkout no longer has a counter to bump.
	if err := r.RecordUsage(ctx, tx, o.VoucherID, o.CustomerID, o.OrderID, o.DiscountAmount); err != nil && !errors.Is(err, ErrVoucherNotFound) {
		return false, err
	}
	return true, nil
}

// RecordUsage stores one redemption and bumps the voucher's counter. A
// second call for the same order is a no-op.
func (r *Repository) RecordUsage(ctx context.Context, tx pgx.Tx, voucherID, customerID, orderID string, discount decimal.Decimal) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers WHERE id = $1)`, voucherID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrVoucherNotFound
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO voucher_usages (voucher_id, customer_id, order_id, discount_applied)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (order_id) DO NOTHING
	`, voucherID, customerID, orderID, discount.String())
	if err != nil || tag.RowsAffected() == 0 {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE vouchers SET used_count = used_count + 1, updated_at = now() WHERE id = $1`, voucherID)
	return err
}
