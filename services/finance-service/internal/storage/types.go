package storage

import (
	"context"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/jackc/pgx/v5"
)

const typeColumns = `id, code, name, is_payment, description, created_at, updated_at`

func scanType(row pgx.Row) (ledger.CashflowType, error) {
	var t ledger.CashflowType
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.IsPayment, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func typeErr(err error) error {
	switch {
	case db.IsNotFound(err):
		return ErrTypeNotFound
	case db.IsUniqueViolation(err):
		return ErrTypeCodeTaken
	}
	return err
}

func (r *Repository) ListTypes(ctx context.Context, isPayment *bool) ([]ledger.CashflowType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+typeColumns+` FROM cashflow_types
		WHERE ($1::boolean IS NULL OR is_payment = $1)
		ORDER BY is_payment, code
	`, isPayment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ledger.CashflowType{}
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) GetType(ctx context.Context, id int64) (ledger.CashflowType, error) {
	return r.getType(ctx, r.pool, id)
}

func (r *Repository) getType(ctx context.Context, q querier, id int64) (ledger.CashflowType, error) {
	t, err := scanType(q.QueryRow(ctx, `SELECT `+typeColumns+` FROM cashflow_types WHERE id = $1`, id))
	return t, typeErr(err)
}

func (r *Repository) typeByCode(ctx context.Context, q querier, code string) (ledger.CashflowType, error) {
	t, err := scanType(q.QueryRow(ctx, `SELECT `+typeColumns+` FROM cashflow_types WHERE code = $1`, code))
	return t, typeErr(err)
}

func (r *Repository) CreateType(ctx context.Context, actor httpx.Actor, t ledger.CashflowType) (ledger.CashflowType, error) {
	if err := t.Normalize(); err != nil {
		return t, err
	}
	var out ledger.CashflowType
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanType(tx.QueryRow(ctx, `
			INSERT INTO cashflow_types (code, name, is_payment, description)
			VALUES ($1, $2, $3, $4)
			RETURNING `+typeColumns,
			t.Code, t.Name, t.IsPayment, t.Description))
		if err != nil {
			return typeErr(err)
		}
		return r.audit(ctx, tx, actor, "cashflow_types", out.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

// UpdateType refuses to flip the direction of a type that cashflows already
// use. Built-in types keep their code and direction.
func (r *Repository) UpdateType(ctx context.Context, actor httpx.Actor, id int64, t ledger.CashflowType) (ledger.CashflowType, error) {
	if err := t.Normalize(); err != nil {
		return t, err
	}
	var out ledger.CashflowType
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := scanType(tx.QueryRow(ctx, `SELECT `+typeColumns+` FROM cashflow_types WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return typeErr(err)
		}
		if ledger.BuiltIn(before.Code) && (before.Code != t.Code || before.IsPayment != t.IsPayment) {
			return ErrTypeBuiltIn
		}
		if before.IsPayment != t.IsPayment {
			var used bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cashflows WHERE cashflow_type_id = $1)`, id).Scan(&used); err != nil {
				return err
			}
			if used {
				return ErrTypeInUse
			}
		}
		out, err = scanType(tx.QueryRow(ctx, `
			UPDATE cashflow_types SET code = $2, name = $3, is_payment = $4, description = $5, updated_at = now()
			WHERE id = $1
			RETURNING `+typeColumns,
			id, t.Code, t.Name, t.IsPayment, t.Description))
		if err != nil {
			return typeErr(err)
		}
		if before.Code != out.Code {
			if _, err := tx.Exec(ctx, `
				UPDATE cashflows SET reference_number = $2 || lpad(id::text, greatest(6, length(id::text)), '0'), updated_at = now()
				WHERE cashflow_type_id = $1
			`, id, out.Code); err != nil {
				return err
			}
		}
		return r.audit(ctx, tx, actor, "cashflow_types", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) DeleteType(ctx context.Context, actor httpx.Actor, id int64) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getType(ctx, tx, id)
		if err != nil {
			return err
		}
		if ledger.BuiltIn(before.Code) {
			return ErrTypeBuiltIn
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cashflow_types WHERE id = $1`, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrTypeInUse
			}
			return err
		}
		return r.audit(ctx, tx, actor, "cashflow_types", id, audit.ActionDelete, before, nil)
	})
}

// SeedTypes inserts the default types whose codes are not taken yet and
// reports how many were added.
func (r *Repository) SeedTypes(ctx context.Context, defaults []ledger.CashflowType) (int, error) {
	n := 0
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, t := range defaults {
			tag, err := tx.Exec(ctx, `
				INSERT INTO cashflow_types (code, name, is_payment, description) VALUES ($1, $2, $3, $4)
				ON CONFLICT (code) DO NOTHING
			`, t.Code, t.Name, t.IsPayment, t.Description)
			if err != nil {
				return err
			}
			n += int(tag.RowsAffected())
		}
		return nil
	})
	return n, err
}
