package storage

import (
	"context"
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

type AttendanceFilter struct {
	StaffID string
	From    *dates.Date
	To      *dates.Date
	Limit   int
}

const attendanceColumns = `a.id::text, a.staff_id::text, s.full_name, a.date::text, a.check_in_time::text,
	a.check_out_time::text, a.note`

const attendanceFrom = ` FROM attendance_records a JOIN staff s ON s.id = a.staff_id`

func scanAttendance(row pgx.Row) (staffing.Attendance, error) {
	var (
		a   staffing.Attendance
		out *string
	)
	if err := row.Scan(&a.ID, &a.StaffID, &a.StaffName, &a.Date, &a.CheckIn, &out, &a.Note); err != nil {
		return a, err
	}
	var err error
	a.CheckOut, err = optClock(out)
	return a, err
}

func (r *Repository) ListAttendance(ctx context.Context, f AttendanceFilter) ([]staffing.Attendance, error) {
	return r.attendance(ctx, r.pool, f)
}

func (r *Repository) attendance(ctx context.Context, q querier, f AttendanceFilter) ([]staffing.Attendance, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.StaffID != "" {
		add("a.staff_id = $%d", f.StaffID)
	}
	if f.From != nil {
		add("a.date >= $%d::date", f.From.String())
	}
	if f.To != nil {
		add("a.date <= $%d::date", f.To.String())
	}
	sql := `SELECT ` + attendanceColumns + attendanceFrom
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY a.date DESC, a.check_in_time, s.full_name"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []staffing.Attendance{}
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) getAttendance(ctx context.Context, q querier, id string, lock bool) (staffing.Attendance, error) {
	sql := `SELECT ` + attendanceColumns + attendanceFrom + ` WHERE a.id = $1`
	if lock {
		sql += ` FOR UPDATE OF a`
	}
	a, err := scanAttendance(q.QueryRow(ctx, sql, id))
	if db.IsNotFound(err) {
		return a, ErrAttendanceNotFound
	}
	return a, err
}

func (r *Repository) GetAttendance(ctx context.Context, id string) (staffing.Attendance, error) {
	return r.getAttendance(ctx, r.pool, id, false)
}

func (r *Repository) insertAttendance(ctx context.Context, tx pgx.Tx, actor httpx.Actor, a staffing.Attendance) (staffing.Attendance, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO attendance_records (staff_id, date, check_in_time, check_out_time, note)
		VALUES ($1, $2::date, $3::time, $4::time, $5)
		RETURNING id::text
	`, a.StaffID, a.Date.String(), a.CheckIn.String(), clockArg(a.CheckOut), a.Note).Scan(&id)
	if err != nil {
		return a, err
	}
	out, err := r.getAttendance(ctx, tx, id, false)
	if err != nil {
		return out, err
	}
	return out, r.audit(ctx, tx, actor, "attendance_records", id, audit.ActionCreate, nil, out)
}

// CheckIn opens an attendance record for staffID at the given instant.
func (r *Repository) CheckIn(ctx context.Context, actor httpx.Actor, staffID string, at time.Time) (staffing.Attendance, error) {
	at = at.In(dates.Location())
	var out staffing.Attendance
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		s, err := r.getStaff(ctx, tx, staffID, true)
		if err != nil {
			return err
		}
		if !s.IsActive {
			return ErrStaffInactive
		}
		var open bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM attendance_records WHERE staff_id = $1 AND date = $2::date AND check_out_time IS NULL)
		`, staffID, dates.DateOf(at).String()).Scan(&open); err != nil {
			return err
		}
		if open {
			return apperr.Conflict("already checked in today")
		}
		out, err = r.insertAttendance(ctx, tx, actor, staffing.Attendance{
			StaffID: staffID,
			Date:    dates.DateOf(at),
			CheckIn: dates.ClockOf(at),
		})
		return err
	})
	return out, err
}

// CheckOut closes the latest open record of today, or of yesterday for
// shifts that run past midnight.
func (r *Repository) CheckOut(ctx context.Context, actor httpx.Actor, staffID string, at time.Time) (staffing.Attendance, error) {
	at = at.In(dates.Location())
	today := dates.DateOf(at)
	var out staffing.Attendance
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			SELECT id::text FROM attendance_records
			WHERE staff_id = $1 AND check_out_time IS NULL AND date BETWEEN $2::date AND $3::date
			ORDER BY date DESC, check_in_time DESC
			LIMIT 1
			FOR UPDATE
		`, staffID, today.AddDays(-1).String(), today.String()).Scan(&id)
		if db.IsNotFound(err) {
			return apperr.Invalid("no open check-in found for today")
		}
		if err != nil {
			return err
		}
		before, err := r.getAttendance(ctx, tx, id, false)
		if err != nil {
			return err
		}
		checkout := dates.ClockOf(at)
		if before.Date.Before(today) && !checkout.Before(before.CheckIn) {
			return apperr.Invalid("no open check-in found for today")
		}
		if checkout == before.CheckIn {
			return apperr.Invalid("check-out must be after check-in")
		}
		if _, err := tx.Exec(ctx, `
			UPDATE attendance_records SET check_out_time = $2::time, updated_at = now() WHERE id = $1
		`, id, checkout.String()); err != nil {
			return err
		}
		if out, err = r.getAttendance(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "attendance_records", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

// AddAttendance records a manual entry.
func (r *Repository) AddAttendance(ctx context.Context, actor httpx.Actor, a staffing.Attendance) (staffing.Attendance, error) {
	if err := a.Validate(); err != nil {
		return a, err
	}
	var out staffing.Attendance
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := r.getStaff(ctx, tx, a.StaffID, false); err != nil {
			return err
		}
		var err error
		out, err = r.insertAttendance(ctx, tx, actor, a)
		return err
	})
	return out, err
}

func (r *Repository) UpdateAttendance(ctx context.Context, actor httpx.Actor, id string, a staffing.Attendance) (staffing.Attendance, error) {
	var out staffing.Attendance
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getAttendance(ctx, tx, id, true)
		if err != nil {
			return err
		}
		a.StaffID = before.StaffID
		if a.Date.IsZero() {
			a.Date = before.Date
		}
		if err := a.Validate(); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE attendance_records
			SET date = $2::date, check_in_time = $3::time, check_out_time = $4::time, note = $5, updated_at = now()
			WHERE id = $1
		`, id, a.Date.String(), a.CheckIn.String(), clockArg(a.CheckOut), a.Note); err != nil {
			return err
		}
		if out, err = r.getAttendance(ctx, tx, id, false); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "attendance_records", id, audit.ActionUpdate, before, out)
	})
	return out, err
}

func (r *Repository) DeleteAttendance(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getAttendance(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM attendance_records WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "attendance_records", id, audit.ActionDelete, before, nil)
	})
}
