package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const customerColumns = `
	id::text, full_name, phone, email, date_of_birth::text, gender, address, user_id, status, note, created_at, updated_at
`

func scanCustomer(row pgx.Row, c *Customer) error {
	return row.Scan(&c.ID, &c.FullName, &c.Phone, &c.Email, &c.DateOfBirth, &c.Gender, &c.Address,
		&c.UserID, &c.Status, &c.Note, &c.CreatedAt, &c.UpdatedAt)
}

func (r *Repository) ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Keyword != "" {
		add("(full_name ILIKE '%%' || $%[1]d || '%%' OR phone ILIKE '%%' || $%[1]d || '%%' OR email ILIKE '%%' || $%[1]d || '%%')", f.Keyword)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	} else {
		where = append(where, "status <> 'Deleted'")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	sql := `SELECT ` + customerColumns + ` FROM customers WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Customer{}
	for rows.Next() {
		var c Customer
		if err := scanCustomer(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) getCustomer(ctx context.Context, q querier, id string, lock bool) (Customer, error) {
	sql := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	if lock {
		sql += " FOR UPDATE"
	}
	var c Customer
	if err := scanCustomer(q.QueryRow(ctx, sql, id), &c); err != nil {
		if db.IsNotFound(err) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *Repository) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return r.getCustomer(ctx, r.pool, id, false)
}

// CustomerByUser returns the customer linked to an auth account.
func (r *Repository) CustomerByUser(ctx context.Context, userID string) (Customer, error) {
	var c Customer
	err := scanCustomer(r.pool.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE user_id = $1 AND status <> 'Deleted'
	`, userID), &c)
	if db.IsNotFound(err) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func (r *Repository) CreateCustomer(ctx context.Context, actor httpx.Actor, in CustomerInput) (Customer, error) {
	var c Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := scanCustomer(tx.QueryRow(ctx, `
			INSERT INTO customers (full_name, phone, email, date_of_birth, gender, address, note, status)
			VALUES ($1, $2, $3, $4::date, $5, $6, $7, 'Active')
			RETURNING `+customerColumns,
			in.FullName, in.Phone, in.Email, dateArg(in.DateOfBirth), in.Gender, in.Address, in.Note), &c)
		if db.IsUniqueViolation(err) {
			return ErrPhoneTaken
		}
		if err != nil {
			return err
		}
		if err := customerUpserted(ctx, tx, c); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "customers", c.ID, audit.ActionCreate, nil, c)
	})
	return c, err
}

func (r *Repository) UpdateCustomer(ctx context.Context, actor httpx.Actor, id string, in CustomerInput) (Customer, error) {
	var c Customer
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCustomer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status == CustomerDeleted {
			return ErrCustomerNotFound
		}
		status := in.Status
		if status == "" {
			status = before.Status
		}
		err = scanCustomer(tx.QueryRow(ctx, `
			UPDATE customers
			SET full_name = $2, phone = $3, email = $4, date_of_birth = $5::date, gender = $6,
				address = $7, note = $8, status = $9, updated_at = now()
			WHERE id = $1
			RETURNING `+customerColumns,
			id, in.FullName, in.Phone, in.Email, dateArg(in.DateOfBirth), in.Gender, in.Address, in.Note, status), &c)
		if db.IsUniqueViolation(err) {
			return ErrPhoneTaken
		}
		if err != nil {
			return err
		}
		if err := customerUpserted(ctx, tx, c); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "customers", id, audit.ActionUpdate, before, c)
	})
	return c, err
}

// DeleteCustomer is a soft delete; bookings keep pointing at the row.
func (r *Repository) DeleteCustomer(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getCustomer(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if before.Status == CustomerDeleted {
			return ErrCustomerNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE customers SET status = 'Deleted', updated_at = now() WHERE id = $1`, id); err != nil {
			return err
		}
		after := before
		after.Status = CustomerDeleted
		if err := customerUpserted(ctx, tx, after); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "customers", id, audit.ActionDelete, before, nil)
	})
}

// LinkAccount attaches a freshly registered user to the customer with the
// same email or phone, creating the customer when none matches.
func (r *Repository) LinkAccount(ctx context.Context, tx pgx.Tx, u events.UserRegisteredPayload) (Customer, bool, error) {
	var c Customer
	err := scanCustomer(tx.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE user_id = $1
	`, u.UserID), &c)
	if err == nil {
		return c, false, nil
	}
	if !db.IsNotFound(err) {
		return Customer{}, false, err
	}

	err = scanCustomer(tx.QueryRow(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE status <> 'Deleted' AND user_id IS NULL
		  AND ((email <> '' AND lower(email) = lower($1)) OR (phone <> '' AND phone = $2))
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE
	`, u.Email, u.Phone), &c)
	switch {
	case err == nil:
		before := c
		if err := scanCustomer(tx.QueryRow(ctx, `
			UPDATE customers SET user_id = $2, updated_at = now() WHERE id = $1
			RETURNING `+customerColumns, c.ID, u.UserID), &c); err != nil {
			return Customer{}, false, err
		}
		if err := customerUpserted(ctx, tx, c); err != nil {
			return Customer{}, false, err
		}
		return c, false, r.audit(ctx, tx, SystemActor, "customers", c.ID, audit.ActionUpdate, before, c)
	case !db.IsNotFound(err):
		return Customer{}, false, err
	}

	name := strings.TrimSpace(u.FullName)
	if name == "" {
		name = u.Email
	}
	err = scanCustomer(tx.QueryRow(ctx, `
		INSERT INTO customers (full_name, phone, email, user_id, status)
		VALUES ($1, $2, $3, $4, 'Active')
		RETURNING `+customerColumns, name, u.Phone, u.Email, u.UserID), &c)
	if db.IsUniqueViolation(err) {
		return Customer{}, false, ErrPhoneTaken
	}
	if err != nil {
		return Customer{}, false, err
	}
	if err := customerUpserted(ctx, tx, c); err != nil {
		return Customer{}, false, err
	}
	return c, true, r.audit(ctx, tx, SystemActor, "customers", c.ID, audit.ActionCreate, nil, c)
}

func customerUpserted(ctx context.Context, tx pgx.Tx, c Customer) error {
	p := events.CustomerUpsertedPayload{
		CustomerID: c.ID,
		FullName:   c.FullName,
		Phone:      c.Phone,
		Email:      c.Email,
		Status:     c.Status,
	}
	if c.UserID != nil {
		p.UserID = *c.UserID
	}
	return outbox.EnqueueJSON(ctx, tx, "customer", c.ID, events.CustomerUpserted, p)
}
