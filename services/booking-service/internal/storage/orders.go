package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewOrder is a priced checkout of one occurrence.
type NewOrder struct {
	OccurrenceID      string
	CourtTotal        decimal.Decimal
	CourtPaid         decimal.Decimal
	CourtRemaining    decimal.Decimal
	ItemsSubtotal     decimal.Decimal
	LateFeePercentage decimal.Decimal
	LateFee           decimal.Decimal
	OverdueMinutes    int
	VoucherID         *string
	VoucherCode       *string
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Method            string
	Note              string
	Actor             httpx.Actor
}

type OrderFilter struct {
	BookingID    string
	OccurrenceID string
	Status       string
	Limit        int
}

// UpsertProduct keeps the local price list in step with inventory.
func (r *Repository) UpsertProduct(ctx context.Context, tx pgx.Tx, p events.ProductPricePayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO products (id, code, name, unit_price, is_active, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code, name = EXCLUDED.name, unit_price = EXCLUDED.unit_price,
			is_active = EXCLUDED.is_active, updated_at = now()
	`, p.ProductID, p.Code, p.Name, p.UnitPrice.String(), p.IsActive)
	return err
}

func (r *Repository) ListProducts(ctx context.Context, keyword string) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, code, name, unit_price::text, is_active, updated_at
		FROM products
		WHERE is_active AND ($1 = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%')
		ORDER BY name
	`, keyword)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.UnitPrice, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const itemColumns = `
	id::text, occurrence_id::text, order_id::text, product_id::text, product_name, quantity,
	unit_price::text, total_price::text, created_at
`

func (r *Repository) listItems(ctx context.Context, q querier, cond string, args ...any) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE `+cond+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OccurrenceID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListItems returns every item served on an occurrence, ordered or not.
func (r *Repository) ListItems(ctx context.Context, occurrenceID string) ([]OrderItem, error) {
	return r.listItems(ctx, r.pool, "occurrence_id = $1", occurrenceID)
}

// AddItems snapshots the current product price onto the occurrence. A
// product already waiting for checkout has its quantity increased.
func (r *Repository) AddItems(ctx context.Context, actor httpx.Actor, occurrenceID string, items []ItemInput) ([]OrderItem, error) {
	var out []OrderItem
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		occ, err := r.getOccurrence(ctx, tx, occurrenceID, true)
		if err != nil {
			return err
		}
		if occ.Status != booking.StatusActive && occ.Status != booking.StatusCheckedIn {
			return apperr.Conflict("items can only be added to an Active or CheckedIn occurrence, this one is %s", occ.Status)
		}
		for _, in := range items {
			var (
				name  string
				price decimal.Decimal
			)
			err := tx.QueryRow(ctx, `
				SELECT name, unit_price::text FROM products WHERE id = $1 AND is_active
			`, in.ProductID).Scan(&name, &price)
			if db.IsNotFound(err) {
				return ErrProductNotFound
			}
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE order_items
				SET quantity = quantity + $3, total_price = unit_price * (quantity + $3)
				WHERE occurrence_id = $1 AND product_id = $2 AND order_id IS NULL
			`, occurrenceID, in.ProductID, in.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				continue
			}
			total := money.Round2(price.Mul(decimal.NewFromInt(int64(in.Quantity))))
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (occurrence_id, product_id, product_name, quantity, unit_price, total_price)
				VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)
			`, occurrenceID, in.ProductID, name, in.Quantity, price.String(), total.String()); err != nil {
				return err
			}
		}
		if out, err = r.listItems(ctx, tx, "occurrence_id = $1", occurrenceID); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "order_items", occurrenceID, audit.ActionUpdate, nil, map[string]any{"items": out})
	})
	return out, err
}

// RemoveItem deletes an item that has not been checked out yet.
func (r *Repository) RemoveItem(ctx context.Context, actor httpx.Actor, occurrenceID, itemID string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		items, err := r.listItems(ctx, tx, "id = $1 AND occurrence_id = $2 AND order_id IS NULL", itemID, occurrenceID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrItemNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE id = $1`, itemID); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "order_items", itemID, audit.ActionDelete, items[0], nil)
	})
}

// CheckoutContext loads what checkout needs to price an occurrence.
func (r *Repository) CheckoutContext(ctx context.Context, occurrenceID string) (CheckoutContext, error) {
	var c CheckoutContext
	var err error
	if c.Occurrence, err = r.getOccurrence(ctx, r.pool, occurrenceID, false); err != nil {
		return c, err
	}
	if c.Booking, err = r.getBooking(ctx, r.pool, c.Occurrence.BookingID, false); err != nil {
		return c, err
	}
	c.OccurrenceCount = len(c.Booking.Occurrences)
	c.PaidTotal = decimal.Zero
	for _, p := range c.Booking.Payments {
		if p.Kind == events.KindBooking && p.Status == booking.PaymentPaid {
			c.PaidTotal = c.PaidTotal.Add(p.Amount)
		}
	}
	if c.Items, err = r.listItems(ctx, r.pool, "occurrence_id = $1 AND order_id IS NULL", occurrenceID); err != nil {
		return c, err
	}
	c.ItemsSubtotal = decimal.Zero
	for _, it := range c.Items {
		c.ItemsSubtotal = c.ItemsSubtotal.Add(it.TotalPrice)
	}
	return c, nil
}

// CreateOrder checks out a CheckedIn occurrence. Cash orders are paid on the
// spot and finish the occurrence; other methods leave a Pending order.
func (r *Repository) CreateOrder(ctx context.Context, in NewOrder) (Order, Payment, error) {
	var (
		o Order
		p Payment
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		occ, err := r.getOccurrence(ctx, tx, in.OccurrenceID, true)
		if err != nil {
			return err
		}
		if occ.Status != booking.StatusCheckedIn {
			return apperr.Conflict("only a CheckedIn occurrence can be checked out, this one is %s", occ.Status)
		}
		var pending bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE occurrence_id = $1 AND status = 'Pending')
		`, in.OccurrenceID).Scan(&pending); err != nil {
			return err
		}
		if pending {
			return ErrOrderPending
		}
		var subtotal decimal.Decimal
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(sum(total_price), 0)::text FROM order_items
			WHERE occurrence_id = $1 AND order_id IS NULL
		`, in.OccurrenceID).Scan(&subtotal); err != nil {
			return err
		}
		if !subtotal.Equal(in.ItemsSubtotal) {
			return apperr.Conflict("the items changed during checkout, retry")
		}

		var id string
		if err := tx.QueryRow(ctx, `
			INSERT INTO orders (occurrence_id, booking_id, customer_id, court_total_amount, court_paid_amount,
				court_remaining_amount, items_subtotal, late_fee_percentage, late_fee_amount, overdue_minutes,
				voucher_id, voucher_code, discount_amount, total_amount, payment_method, status, note)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9::numeric,
				$10, $11, $12, $13::numeric, $14::numeric, $15, 'Pending', $16)
			RETURNING id::text
		`, occ.ID, occ.BookingID, occ.CustomerID, in.CourtTotal.String(), in.CourtPaid.String(),
			in.CourtRemaining.String(), in.ItemsSubtotal.String(), in.LateFeePercentage.String(),
			in.LateFee.String(), in.OverdueMinutes, in.VoucherID, in.VoucherCode, in.Discount.String(),
			in.Total.String(), in.Method, in.Note).Scan(&id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE order_items SET order_id = $2 WHERE occurrence_id = $1 AND order_id IS NULL
		`, occ.ID, id); err != nil {
			return err
		}

		p = Payment{
			Kind:         events.KindOrder,
			BookingID:    &occ.BookingID,
			OrderID:      &id,
			OccurrenceID: &occ.ID,
			CustomerID:   occ.CustomerID,
			Amount:       in.Total,
			Method:       in.Method,
			Status:       booking.PaymentPending,
		}
		if err := r.insertPayment(ctx, tx, &p); err != nil {
			return err
		}
		if o, err = r.getOrder(ctx, tx, id, false); err != nil {
			return err
		}
		if err := r.audit(ctx, tx, in.Actor, "orders", id, audit.ActionCreate, nil, o); err != nil {
			return err
		}

		switch in.Method {
		case booking.MethodCash:
			now := r.now()
			if err := r.completeOrder(ctx, tx, in.Actor, &o, now); err != nil {
				return err
			}
			p.Status, p.PaidAt = booking.PaymentPaid, &now
		case booking.MethodCard:
			var email string
			if err := tx.QueryRow(ctx, `SELECT email FROM customers WHERE id = $1`, occ.CustomerID).Scan(&email); err != nil {
				return err
			}
			return outbox.EnqueueJSON(ctx, tx, "payment", p.ID, events.PaymentCreated, events.PaymentCreatedPayload{
				PaymentID:     p.ID,
				Kind:          events.KindOrder,
				ReferenceID:   id,
				CustomerID:    occ.CustomerID,
				CustomerEmail: email,
				Amount:        p.Amount,
				Currency:      "vnd",
				Description:   fmt.Sprintf("%s on %s", occ.CourtName, occ.Date),
			})
		}
		return nil
	})
	return o, p, err
}

// completeOrder marks a Pending order and its payments Paid, finishes the
// occurrence and announces the sale.
func (r *Repository) completeOrder(ctx context.Context, tx pgx.Tx, actor httpx.Actor, o *Order, paidAt time.Time) error {
	before := *o
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'Paid', updated_at = now() WHERE id = $1`, o.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payments SET status = 'Paid', paid_at = $2, updated_at = now()
		WHERE order_id = $1 AND status = 'PendingPayment'
	`, o.ID, paidAt); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE booking_occurrences SET status = 'Completed', updated_at = now()
		WHERE id = $1 AND status = 'CheckedIn'
	`, o.OccurrenceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		occ, err := r.getOccurrence(ctx, tx, o.OccurrenceID, false)
		if err != nil {
			return err
		}
		if err := occurrenceEvent(ctx, tx, events.OccurrenceReleased, occ); err != nil {
			return err
		}
	}
	if err := finishBookingIfDone(ctx, tx, o.BookingID); err != nil {
		return err
	}

	after, err := r.getOrder(ctx, tx, o.ID, false)
	if err != nil {
		return err
	}
	*o = after

	var customerName string
	if err := tx.QueryRow(ctx, `SELECT full_name FROM customers WHERE id = $1`, o.CustomerID).Scan(&customerName); err != nil {
		return err
	}
	p := events.OrderPaidPayload{
		OrderID:        o.ID,
		OccurrenceID:   o.OccurrenceID,
		BookingID:      o.BookingID,
		CustomerID:     o.CustomerID,
		CustomerName:   customerName,
		DiscountAmount: o.DiscountAmount,
		CourtAmount:    o.CourtRemainingAmount,
		ItemsSubtotal:  o.ItemsSubtotal,
		LateFee:        o.LateFeeAmount,
		TotalAmount:    o.TotalAmount,
		Items:          []events.OrderItem{},
		PaidAt:         paidAt,
	}
	if o.VoucherID != nil {
		p.VoucherID = *o.VoucherID
	}
	if o.VoucherCode != nil {
		p.VoucherCode = *o.VoucherCode
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if err := outbox.EnqueueJSON(ctx, tx, "order", o.ID, events.OrderPaid, p); err != nil {
		return err
	}
	return r.audit(ctx, tx, actor, "orders", o.ID, audit.ActionUpdate, before, after)
}

// ConfirmOrder settles the pending payment of an order.
func (r *Repository) ConfirmOrder(ctx context.Context, actor httpx.Actor, orderID string) (Settlement, error) {
	var s Settlement
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		o, err := r.getOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if o.Status != booking.OrderPending {
			return apperr.Conflict("only a Pending order can be confirmed, this one is %s", o.Status)
		}
		var paymentID string
		err = tx.QueryRow(ctx, `
			SELECT id FROM payments WHERE order_id = $1 AND status = 'PendingPayment' ORDER BY created_at LIMIT 1
		`, orderID).Scan(&paymentID)
		if db.IsNotFound(err) {
			return apperr.Conflict("order %s has no pending payment", orderID)
		}
		if err != nil {
			return err
		}
		s, err = r.settle(ctx, tx, actor, paymentID, false)
		return err
	})
	return s, err
}

const orderColumns = `
	id::text, occurrence_id::text, booking_id::text, customer_id::text, court_total_amount::text,
	court_paid_amount::text, court_remaining_amount::text, items_subtotal::text, late_fee_percentage::text,
	late_fee_amount::text, overdue_minutes, voucher_id, voucher_code, discount_amount::text,
	total_amount::text, payment_method, status, note, created_at
`

func scanOrder(row pgx.Row, o *Order) error {
	return row.Scan(&o.ID, &o.OccurrenceID, &o.BookingID, &o.CustomerID, &o.CourtTotalAmount,
		&o.CourtPaidAmount, &o.CourtRemainingAmount, &o.ItemsSubtotal, &o.LateFeePercentage,
		&o.LateFeeAmount, &o.OverdueMinutes, &o.VoucherID, &o.VoucherCode, &o.DiscountAmount,
		&o.TotalAmount, &o.PaymentMethod, &o.Status, &o.Note, &o.CreatedAt)
}

func (r *Repository) getOrder(ctx context.Context, q querier, id string, lock bool) (Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		sql += " FOR UPDATE"
	}
	var o Order
	if err := scanOrder(q.QueryRow(ctx, sql, id), &o); err != nil {
		if db.IsNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	var err error
	if o.Items, err = r.listItems(ctx, q, "order_id = $1", id); err != nil {
		return Order{}, err
	}
	if o.Payments, err = r.listPayments(ctx, q, PaymentFilter{OrderID: id}); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	return r.getOrder(ctx, r.pool, id, false)
}

func (r *Repository) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
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
	if f.OccurrenceID != "" {
		add("occurrence_id = $%d", f.OccurrenceID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
