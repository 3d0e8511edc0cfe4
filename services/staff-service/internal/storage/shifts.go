package storage

import (
	"context"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/jackc/pgx/v5"
)

const shiftColumns = `id::text, name, start_time::text, end_time::text, is_active`

func scanShift(row pgx.Row) (staffing.Shift, error) {
	var s staffing.Shift
	err := row.Scan(&s.ID, &s.Name, &s.StartTime, &s.EndTime, &s.IsActive)
	return s, err
}

func validShift(s staffing.Shift) error {
	if strings.TrimSpace(s.Name) == "" {
		return apperr.Invalid("name is required")
	}
	if s.StartTime == s.EndTime {
		return apperr.Invalid("start_time and end_time must differ")
	}
	return nil
}

func shiftConflict(err error) error {
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("a shift with this name already exists")
	}
	return err
}

func (r *Repository) ListShifts(ctx context.Context, activeOnly bool) ([]staffing.Shift, error) {
	return r.shifts(ctx, r.pool, activeOnly)
}

func (r *Repository) shifts(ctx context.Context, q querier, activeOnly bool) ([]staffing.Shift, error) {
	rows, err := q.Query(ctx, `
		SELECT `+shiftColumns+` FROM shifts WHERE (NOT $1 OR is_active) ORDER BY start_time, name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []staffing.Shift{}
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) shiftMap(ctx context.Context, q querier) (map[string]staffing.Shift, error) {
	list, err := r.shifts(ctx, q, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]staffing.Shift, len(list))
	for _, s := range list {
		out[s.ID] = s
	}
	return out, nil
}

func (r *Repository) getShift(ctx context.Context, q querier, id string, lock bool) (staffing.Shift, error) {
	sql := `SELECT ` + shiftColumns + ` FROM shifts WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	s, err := scanShift(q.QueryRow(ctx, sql, id))
	if db.IsNotFound(err) {
		return s, ErrShiftNotFound
	}
	return s, err
}

func (r *Repository) GetShift(ctx context.Context, id string) (staffing.Shift, error) {
	return r.getShift(ctx, r.pool, id, false)
}

func (r *Repository) CreateShift(ctx context.Context, actor httpx.Actor, s staffing.Shift) (staffing.Shift, error) {
	if err := validShift(s); err != nil {
		return s, err
	}
	var out staffing.Shift
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanShift(tx.QueryRow(ctx, `
			INSERT INTO shifts (name, start_time, end_time, is_active) VALUES ($1, $2::time, $3::time, $4)
			RETURNING `+shiftColumns,
			strings.TrimSpace(s.Name), s.StartTime.String(), s.EndTime.String(), s.IsActive))
		if err != nil {
			return shiftConflict(err)
		}
		return r.audit(ctx, tx, actor, "shifts", out.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdateShift(ctx context.Context, actor httpx.Actor, id string, s staffing.Shift) (staffing.Shift, error) {
	if err := validShift(s); err != nil {
		return s, err
	}
	var out staffing.Shift
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getShift(ctx, tx, id, true)
		if err != nil {
			return err
		}
		out, err = scanShift(tx.QueryRow(ctx, `
			UPDATE shifts SET name = $2, start_time = $3::time, end_time = $4::time, is_active = $5, updated_at = now()
			WHERE id = $1
			RETURNING `+shiftColumns,
			id, strings.TrimSpace(s.Name), s.StartTime.String(), s.EndTime.String(), s.IsActive))
		if err != nil {
			return shiftConflict(err)
		}
		return r.audit(ctx, tx, actor, "shifts", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) DeleteShift(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getShift(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM shifts WHERE id = $1`, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrShiftInUse
			}
			return err
		}
		return r.audit(ctx, tx, actor, "shifts", id, audit.ActionDelete, before, nil)
	})
}
