package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/jackc/pgx/v5"
)

type Staff struct {
	ID                   string                  `json:"id"`
	FullName             string                  `json:"full_name"`
	Phone                string                  `json:"phone"`
	Email                string                  `json:"email"`
	IdentificationNumber string                  `json:"identification_number"`
	DateOfBirth          *dates.Date             `json:"date_of_birth,omitempty"`
	Address              string                  `json:"address"`
	Position             string                  `json:"position"`
	UserID               string                  `json:"user_id,omitempty"`
	IsActive             bool                    `json:"is_active"`
	SalarySettings       staffing.SalarySettings `json:"salary_settings"`
	Note                 string                  `json:"note"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

type StaffInput struct {
	FullName             string
	Phone                string
	Email                string
	IdentificationNumber string
	DateOfBirth          *dates.Date
	Address              string
	Position             string
	UserID               string
	IsActive             bool
	SalarySettings       staffing.SalarySettings
	Note                 string
}

func (in StaffInput) Validate() error {
	if strings.TrimSpace(in.FullName) == "" {
		return apperr.Invalid("full_name is required")
	}
	return in.SalarySettings.Validate()
}

type StaffFilter struct {
	Keyword  string
	IsActive *bool
	Limit    int
}

const staffColumns = `id::text, full_name, phone, email, identification_number, date_of_birth::text, address,
	position, coalesce(user_id, ''), is_active, salary_settings, note, created_at, updated_at`

func scanStaff(row pgx.Row) (Staff, error) {
	var (
		s        Staff
		birth    *string
		settings []byte
	)
	err := row.Scan(&s.ID, &s.FullName, &s.Phone, &s.Email, &s.IdentificationNumber, &birth, &s.Address,
		&s.Position, &s.UserID, &s.IsActive, &settings, &s.Note, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	if s.DateOfBirth, err = optDate(birth); err != nil {
		return s, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s.SalarySettings); err != nil {
			return s, fmt.Errorf("staff %s salary settings: %w", s.ID, err)
		}
	}
	return s, nil
}

// staffConflict maps unique index violations to client errors.
func staffConflict(err error) error {
	if !db.IsUniqueViolation(err) {
		return err
	}
	switch db.ConstraintName(err) {
	case "staff_phone_uidx":
		return apperr.Conflict("phone number is already used by another staff member")
	case "staff_identification_uidx":
		return apperr.Conflict("identification number is already used by another staff member")
	case "staff_user_uidx":
		return apperr.Conflict("user account is already linked to another staff member")
	}
	return apperr.Conflict("staff already exists")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Repository) ListStaff(ctx context.Context, f StaffFilter) ([]Staff, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+staffColumns+` FROM staff
		WHERE ($1 = '' OR full_name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%'
		       OR email ILIKE '%' || $1 || '%' OR identification_number ILIKE '%' || $1 || '%')
		  AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY full_name, id
		LIMIT $3
	`, f.Keyword, f.IsActive, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Staff{}
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) getStaff(ctx context.Context, q querier, id string, lock bool) (Staff, error) {
	sql := `SELECT ` + staffColumns + ` FROM staff WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	s, err := scanStaff(q.QueryRow(ctx, sql, id))
	if db.IsNotFound(err) {
		return Staff{}, ErrStaffNotFound
	}
	return s, err
}

func (r *Repository) GetStaff(ctx context.Context, id string) (Staff, error) {
	return r.getStaff(ctx, r.pool, id, false)
}

// StaffByUser finds the staff record linked to an auth user.
func (r *Repository) StaffByUser(ctx context.Context, userID string) (Staff, error) {
	s, err := scanStaff(r.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff WHERE user_id = $1`, userID))
	if db.IsNotFound(err) {
		return Staff{}, ErrStaffNotFound
	}
	return s, err
}

func (r *Repository) CreateStaff(ctx context.Context, actor httpx.Actor, in StaffInput) (Staff, error) {
	if err := in.Validate(); err != nil {
		return Staff{}, err
	}
	settings, err := json.Marshal(in.SalarySettings)
	if err != nil {
		return Staff{}, err
	}
	var out Staff
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanStaff(tx.QueryRow(ctx, `
			INSERT INTO staff (full_name, phone, email, identification_number, date_of_birth, address, position,
				user_id, is_active, salary_settings, note)
			VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10::jsonb, $11)
			RETURNING `+staffColumns,
			strings.TrimSpace(in.FullName), in.Phone, in.Email, in.IdentificationNumber, dateArg(in.DateOfBirth),
			in.Address, in.Position, nullable(in.UserID), in.IsActive, string(settings), in.Note))
		if err != nil {
			return staffConflict(err)
		}
		return r.audit(ctx, tx, actor, "staff", out.ID, audit.ActionCreate, nil, out)
	})
	return out, err
}

func (r *Repository) UpdateStaff(ctx context.Context, actor httpx.Actor, id string, in StaffInput) (Staff, error) {
	if err := in.Validate(); err != nil {
		return Staff{}, err
	}
	settings, err := json.Marshal(in.SalarySettings)
	if err != nil {
		return Staff{}, err
	}
	var out Staff
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getStaff(ctx, tx, id, true)
		if err != nil {
			return err
		}
		out, err = scanStaff(tx.QueryRow(ctx, `
			UPDATE staff SET full_name = $2, phone = $3, email = $4, identification_number = $5,
				date_of_birth = $6::date, address = $7, position = $8, user_id = $9, is_active = $10,
				salary_settings = $11::jsonb, note = $12, updated_at = now()
			WHERE id = $1
			RETURNING `+staffColumns,
			id, strings.TrimSpace(in.FullName), in.Phone, in.Email, in.IdentificationNumber, dateArg(in.DateOfBirth),
			in.Address, in.Position, nullable(in.UserID), in.IsActive, string(settings), in.Note))
		if err != nil {
			return staffConflict(err)
		}
		return r.audit(ctx, tx, actor, "staff", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// DeleteStaff removes a staff member together with their schedules and
// attendance. Anyone who appears on a payroll is kept for the books.
func (r *Repository) DeleteStaff(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getStaff(ctx, tx, id, true)
		if err != nil {
			return err
		}
		var paid bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payroll_items WHERE staff_id = $1)`, id).Scan(&paid); err != nil {
			return err
		}
		if paid {
			return ErrStaffInUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM staff WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "staff", id, audit.ActionDelete, before, nil)
	})
}

// members loads the staff payroll considers: everyone active plus the ids
// in extra.
func (r *Repository) members(ctx context.Context, q querier, extra []string) ([]staffing.StaffMember, error) {
	if extra == nil {
		extra = []string{}
	}
	rows, err := q.Query(ctx, `
		SELECT `+staffColumns+` FROM staff
		WHERE is_active OR id::text = ANY($1)
		ORDER BY full_name, id
	`, extra)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []staffing.StaffMember{}
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, staffing.StaffMember{ID: s.ID, Name: s.FullName, Settings: s.SalarySettings})
	}
	return out, rows.Err()
}
