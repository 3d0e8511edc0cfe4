package storage

import (
	"context"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
)

const (
	SupplierActive   = "Active"
	SupplierInactive = "Inactive"
)

type Supplier struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	Note      string    `json:"note"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SupplierInput struct {
	Code    string
	Name    string
	Phone   string
	Email   string
	Address string
	Note    string
}

type SupplierFilter struct {
	Keyword string
	Status  string
	Limit   int
}

const supplierColumns = `id::text, code, name, phone, email, address, note, status, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Phone, &s.Email, &s.Address, &s.Note, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func ValidSupplierStatus(s string) bool {
	return s == SupplierActive || s == SupplierInactive
}

func (r *Repository) ListSuppliers(ctx context.Context, f SupplierFilter) ([]Supplier, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+supplierColumns+` FROM suppliers
		WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR status = $2)
		ORDER BY name
		LIMIT $3
	`, f.Keyword, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) getSupplier(ctx context.Context, q querier, id string, lock bool) (Supplier, error) {
	sql := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	s, err := scanSupplier(q.QueryRow(ctx, sql, id))
	if db.IsNotFound(err) {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, err
}

func (r *Repository) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return r.getSupplier(ctx, r.pool, id, false)
}

func (r *Repository) CreateSupplier(ctx context.Context, actor httpx.Actor, in SupplierInput) (Supplier, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Supplier{}, apperr.Invalid("name is required")
	}
	var out Supplier
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		code := strings.TrimSpace(in.Code)
		if code == "" {
			var err error
			if code, err = r.nextCode(ctx, tx, "suppliers", "NCC"); err != nil {
				return err
			}
		}
		var err error
		out, err = scanSupplier(tx.QueryRow(ctx, `
			INSERT INTO suppliers (code, name, phone, email, address, note)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+supplierColumns,
			code, strings.TrimSpace(in.Name), in.Phone, in.Email, in.Address, in.Note))
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("supplier code %s already exists", code)
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "suppliers", out.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdateSupplier(ctx context.Context, actor httpx.Actor, id string, in SupplierInput) (Supplier, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Supplier{}, apperr.Invalid("name is required")
	}
	var out Supplier
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getSupplier(ctx, tx, id, true)
		if err != nil {
			return err
		}
		code := strings.TrimSpace(in.Code)
		if code == "" {
			code = before.Code
		}
		out, err = scanSupplier(tx.QueryRow(ctx, `
			UPDATE suppliers SET code = $2, name = $3, phone = $4, email = $5, address = $6, note = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+supplierColumns,
			id, code, strings.TrimSpace(in.Name), in.Phone, in.Email, in.Address, in.Note))
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("supplier code %s already exists", code)
		}
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "suppliers", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) SetSupplierStatus(ctx context.Context, actor httpx.Actor, id, status string) (Supplier, error) {
	if !ValidSupplierStatus(status) {
		return Supplier{}, apperr.Invalid("status must be Active or Inactive")
	}
	var out Supplier
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getSupplier(ctx, tx, id, true)
		if err != nil {
			return err
		}
		out, err = scanSupplier(tx.QueryRow(ctx, `
			UPDATE suppliers SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+supplierColumns, id, status))
		if err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "suppliers", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// DeleteSupplier hard-deletes a supplier nothing was ever bought from.
func (r *Repository) DeleteSupplier(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getSupplier(ctx, tx, id, true)
		if err != nil {
			return err
		}
		var used bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_documents WHERE supplier_id = $1)`, id).Scan(&used); err != nil {
			return err
		}
		if used {
			return ErrSupplierInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "suppliers", id, audit.ActionDelete, before, nil)
	})
}
