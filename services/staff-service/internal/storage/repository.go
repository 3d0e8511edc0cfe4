package storage

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/jackc/pgx/v5"
)

const serviceName = "staff-service"

var (
	ErrStaffNotFound      = apperr.NotFound("staff not found")
	ErrStaffInactive      = apperr.Conflict("staff is inactive")
	ErrStaffInUse         = apperr.Conflict("staff has payroll history; deactivate instead")
	ErrShiftNotFound      = apperr.NotFound("shift not found")
	ErrShiftInUse         = apperr.Conflict("shift is used by schedules")
	ErrScheduleNotFound   = apperr.NotFound("schedule not found")
	ErrAttendanceNotFound = apperr.NotFound("attendance record not found")
	ErrPayrollNotFound    = apperr.NotFound("payroll not found")
	ErrPayrollItemMissing = apperr.NotFound("payroll item not found")
	ErrPayrollPaid        = apperr.Conflict("payroll has payments and cannot be deleted")
)

// SystemActor is recorded on changes made by workers.
var SystemActor = httpx.Actor{Name: "system"}

type Repository struct {
	pool  *db.Pool
	now   func() time.Time
	today func() dates.Date
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool, now: dates.Now, today: dates.Today}
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

// nextCode allocates the next code for prefix. The advisory lock holds off
// concurrent allocations until the transaction ends.
func (r *Repository) nextCode(ctx context.Context, tx pgx.Tx, table, prefix string) (string, error) {
	if err := db.AdvisoryXactLock(ctx, tx, "staff:code:"+prefix); err != nil {
		return "", err
	}
	return codes.Next(ctx, tx, table, "code", prefix)
}

func optDate(s *string) (*dates.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := dates.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func optClock(s *string) (*dates.Clock, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	c, err := dates.ParseClock(*s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func dateArg(d *dates.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func clockArg(c *dates.Clock) any {
	if c == nil {
		return nil
	}
	return c.String()
}
