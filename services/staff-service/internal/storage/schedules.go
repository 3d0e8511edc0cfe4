package storage

import (
	"context"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `sc.id::text, sc.staff_id::text, s.full_name, sc.shift_id::text, sc.is_fixed_shift,
	sc.start_date::text, sc.end_date::text, sc.by_day`

const scheduleFrom = ` FROM schedules sc JOIN staff s ON s.id = sc.staff_id`

func scanSchedule(row pgx.Row) (staffing.Schedule, error) {
	var (
		sc  staffing.Schedule
		end *string
	)
	if err := row.Scan(&sc.ID, &sc.StaffID, &sc.StaffName, &sc.ShiftID, &sc.IsFixed, &sc.StartDate, &end, &sc.ByDay); err != nil {
		return sc, err
	}
	var err error
	sc.EndDate, err = optDate(end)
	return sc, err
}

func collectSchedules(rows pgx.Rows) ([]staffing.Schedule, error) {
	defer rows.Close()
	out := []staffing.Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// schedulesBetween loads the schedules that can produce a shift between from
// and to, optionally for one staff member.
func (r *Repository) schedulesBetween(ctx context.Context, q querier, staffID string, from, to dates.Date) ([]staffing.Schedule, error) {
	rows, err := q.Query(ctx, `
		SELECT `+scheduleColumns+scheduleFrom+`
		WHERE ($1 = '' OR sc.staff_id::text = $1)
		  AND (
		    (sc.is_fixed_shift AND sc.start_date <= $3::date AND (sc.end_date IS NULL OR sc.end_date >= $2::date))
		    OR (NOT sc.is_fixed_shift AND sc.start_date BETWEEN $2::date AND $3::date)
		  )
		ORDER BY sc.start_date, sc.id
	`, staffID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *Repository) cancellations(ctx context.Context, q querier, from, to dates.Date) ([]staffing.Cancellation, error) {
	rows, err := q.Query(ctx, `
		SELECT staff_id::text, shift_id::text, date::text FROM cancelled_shifts
		WHERE date BETWEEN $1::date AND $2::date
	`, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []staffing.Cancellation{}
	for rows.Next() {
		var c staffing.Cancellation
		if err := rows.Scan(&c.StaffID, &c.ShiftID, &c.Date); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// occurrences expands the schedules in [from, to] after dropping cancelled
// shifts.
func (r *Repository) occurrences(ctx context.Context, q querier, staffID string, from, to dates.Date) ([]staffing.Occurrence, error) {
	schedules, err := r.schedulesBetween(ctx, q, staffID, from, to)
	if err != nil {
		return nil, err
	}
	shifts, err := r.shiftMap(ctx, q)
	if err != nil {
		return nil, err
	}
	cancelled, err := r.cancellations(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	return staffing.Expand(schedules, shifts, cancelled, from, to), nil
}

func (r *Repository) ListSchedules(ctx context.Context, staffID string) ([]staffing.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+scheduleFrom+`
		WHERE ($1 = '' OR sc.staff_id::text = $1)
		ORDER BY s.full_name, sc.start_date DESC, sc.id
	`, staffID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// ScheduleView lists every shift occurrence in [from, to] with the
// attendance status of each.
func (r *Repository) ScheduleView(ctx context.Context, staffID string, from, to dates.Date) ([]staffing.Occurrence, error) {
	if to.Before(from) {
		return nil, apperr.Invalid("to must not be before from")
	}
	occs, err := r.occurrences(ctx, r.pool, staffID, from, to)
	if err != nil {
		return nil, err
	}
	records, err := r.attendance(ctx, r.pool, AttendanceFilter{StaffID: staffID, From: &from, To: &to})
	if err != nil {
		return nil, err
	}
	now := r.now()
	for i := range occs {
		occs[i].Status = staffing.ShiftStatus(records, occs[i], now)
	}
	return occs, nil
}

// AssignSchedule puts a staff member on a shift. Assigning a single shift
// that was cancelled out of a fixed schedule restores the occurrence instead
// of adding a schedule; restored is true in that case.
func (r *Repository) AssignSchedule(ctx context.Context, actor httpx.Actor, sc staffing.Schedule) (out staffing.Schedule, restored bool, err error) {
	for i, d := range sc.ByDay {
		sc.ByDay[i] = strings.ToUpper(strings.TrimSpace(d))
	}
	if !sc.IsFixed {
		sc.EndDate, sc.ByDay = nil, []string{}
	}
	if err := sc.Validate(); err != nil {
		return out, false, err
	}
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		staff, err := r.getStaff(ctx, tx, sc.StaffID, false)
		if err != nil {
			return err
		}
		if !staff.IsActive {
			return ErrStaffInactive
		}
		shift, err := r.getShift(ctx, tx, sc.ShiftID, false)
		if err != nil {
			return err
		}
		if !shift.IsActive {
			return apperr.Conflict("shift %s is inactive", shift.Name)
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM cancelled_shifts WHERE staff_id = $1 AND shift_id = $2 AND date = $3::date
		`, sc.StaffID, sc.ShiftID, sc.StartDate.String())
		if err != nil {
			return err
		}
		if !sc.IsFixed && tag.RowsAffected() > 0 {
			restored = true
			out = sc
			out.StaffName = staff.FullName
			return r.audit(ctx, tx, actor, "cancelled_shifts", sc.StaffID+":"+sc.ShiftID+":"+sc.StartDate.String(),
				audit.ActionDelete, staffing.Cancellation{StaffID: sc.StaffID, ShiftID: sc.ShiftID, Date: sc.StartDate}, nil)
		}

		var id string
		if err := tx.QueryRow(ctx, `
			INSERT INTO schedules (staff_id, shift_id, is_fixed_shift, start_date, end_date, by_day)
			VALUES ($1, $2, $3, $4::date, $5::date, $6)
			RETURNING id::text
		`, sc.StaffID, sc.ShiftID, sc.IsFixed, sc.StartDate.String(), dateArg(sc.EndDate), sc.ByDay).Scan(&id); err != nil {
			return err
		}
		if out, err = r.getSchedule(ctx, tx, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "schedules", id, audit.ActionCreate, nil, out)
	})
	return out, restored, err
}

func (r *Repository) getSchedule(ctx context.Context, q querier, id string) (staffing.Schedule, error) {
	sc, err := scanSchedule(q.QueryRow(ctx, `SELECT `+scheduleColumns+scheduleFrom+` WHERE sc.id = $1`, id))
	if db.IsNotFound(err) {
		return sc, ErrScheduleNotFound
	}
	return sc, err
}

func (r *Repository) DeleteSchedule(ctx context.Context, actor httpx.Actor, id string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		before, err := r.getSchedule(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
			return err
		}
		return r.audit(ctx, tx, actor, "schedules", id, audit.ActionDelete, before, nil)
	})
}

// CancelOccurrence takes one shift off a staff member's day. Fixed
// schedules record a cancellation; single-day schedules are deleted. Shifts
// that already have attendance on record stay.
func (r *Repository) CancelOccurrence(ctx context.Context, actor httpx.Actor, staffID, shiftID string, day dates.Date) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "staff:schedule:"+staffID); err != nil {
			return err
		}
		schedules, err := r.schedulesBetween(ctx, tx, staffID, day, day)
		if err != nil {
			return err
		}
		var covering []staffing.Schedule
		for _, sc := range schedules {
			if sc.ShiftID == shiftID && sc.Covers(day) {
				covering = append(covering, sc)
			}
		}
		if len(covering) == 0 {
			return apperr.NotFound("staff is not scheduled on this shift on %s", day)
		}

		shift, err := r.getShift(ctx, tx, shiftID, false)
		if err != nil {
			return err
		}
		records, err := r.attendance(ctx, tx, AttendanceFilter{StaffID: staffID, From: &day, To: &day})
		if err != nil {
			return err
		}
		occ := staffing.Occurrence{StaffID: staffID, Shift: shift, Date: day}
		if status := staffing.ShiftStatus(records, occ, r.now()); !staffing.Removable(status) {
			return apperr.Invalid("shift on %s already has attendance (%s) and cannot be removed", day, status)
		}

		for _, sc := range covering {
			if sc.IsFixed {
				if _, err := tx.Exec(ctx, `
					INSERT INTO cancelled_shifts (staff_id, shift_id, date) VALUES ($1, $2, $3::date)
					ON CONFLICT (staff_id, shift_id, date) DO NOTHING
				`, staffID, shiftID, day.String()); err != nil {
					return err
				}
				if err := r.audit(ctx, tx, actor, "cancelled_shifts", staffID+":"+shiftID+":"+day.String(), audit.ActionCreate,
					nil, staffing.Cancellation{StaffID: staffID, ShiftID: shiftID, Date: day}); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, sc.ID); err != nil {
				return err
			}
			if err := r.audit(ctx, tx, actor, "schedules", sc.ID, audit.ActionDelete, sc, nil); err != nil {
				return err
			}
		}
		return nil
	})
}
