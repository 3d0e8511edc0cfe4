// Package handlers serves staff records, shifts, schedules, attendance and
// payroll. Staff may read the roster and clock in and out; everything that
// changes people, shifts or pay is admin only.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
	"github.com/shopspring/decimal"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	ListStaff(ctx context.Context, f storage.StaffFilter) ([]storage.Staff, error)
	GetStaff(ctx context.Context, id string) (storage.Staff, error)
	StaffByUser(ctx context.Context, userID string) (storage.Staff, error)
	CreateStaff(ctx context.Context, actor httpx.Actor, in storage.StaffInput) (storage.Staff, error)
	UpdateStaff(ctx context.Context, actor httpx.Actor, id string, in storage.StaffInput) (storage.Staff, error)
	DeleteStaff(ctx context.Context, actor httpx.Actor, id string) error

	ListShifts(ctx context.Context, activeOnly bool) ([]staffing.Shift, error)
	GetShift(ctx context.Context, id string) (staffing.Shift, error)
	CreateShift(ctx context.Context, actor httpx.Actor, s staffing.Shift) (staffing.Shift, error)
	UpdateShift(ctx context.Context, actor httpx.Actor, id string, s staffing.Shift) (staffing.Shift, error)
	DeleteShift(ctx context.Context, actor httpx.Actor, id string) error

	ListSchedules(ctx context.Context, staffID string) ([]staffing.Schedule, error)
	ScheduleView(ctx context.Context, staffID string, from, to dates.Date) ([]staffing.Occurrence, error)
	AssignSchedule(ctx context.Context, actor httpx.Actor, sc staffing.Schedule) (staffing.Schedule, bool, error)
	DeleteSchedule(ctx context.Context, actor httpx.Actor, id string) error
	CancelOccurrence(ctx context.Context, actor httpx.Actor, staffID, shiftID string, day dates.Date) error

	ListAttendance(ctx context.Context, f storage.AttendanceFilter) ([]staffing.Attendance, error)
	CheckIn(ctx context.Context, actor httpx.Actor, staffID string, at time.Time) (staffing.Attendance, error)
	CheckOut(ctx context.Context, actor httpx.Actor, staffID string, at time.Time) (staffing.Attendance, error)
	AddAttendance(ctx context.Context, actor httpx.Actor, a staffing.Attendance) (staffing.Attendance, error)
	UpdateAttendance(ctx context.Context, actor httpx.Actor, id string, a staffing.Attendance) (staffing.Attendance, error)
	DeleteAttendance(ctx context.Context, actor httpx.Actor, id string) error

	ListPayrolls(ctx context.Context, f storage.PayrollFilter) ([]staffing.Payroll, error)
	GetPayroll(ctx context.Context, id string) (staffing.Payroll, error)
	ItemsByStaff(ctx context.Context, staffID string) ([]staffing.PayrollItem, error)
	CreatePayroll(ctx context.Context, actor httpx.Actor, in storage.NewPayroll) (staffing.Payroll, error)
	UpdatePayroll(ctx context.Context, actor httpx.Actor, id, name, note string) (staffing.Payroll, error)
	RefreshPayroll(ctx context.Context, actor httpx.Actor, id string) (staffing.Payroll, error)
	RefreshOpenPayrolls(ctx context.Context) (int, error)
	PayItem(ctx context.Context, actor httpx.Actor, payrollID, itemID string, amount decimal.Decimal) (staffing.Payroll, error)
	DeletePayroll(ctx context.Context, actor httpx.Actor, id string) error
}

type Handler struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Handler {
	return &Handler{store: store, now: dates.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/staff", h.ListStaff)
	mux.HandleFunc("GET /api/v1/staff/me", h.Me)
	mux.HandleFunc("GET /api/v1/staff/{id}", h.GetStaff)
	mux.HandleFunc("GET /api/v1/staff/{id}/payslips", h.Payslips)
	mux.HandleFunc("POST /api/v1/staff", h.CreateStaff)
	mux.HandleFunc("PUT /api/v1/staff/{id}", h.UpdateStaff)
	mux.HandleFunc("DELETE /api/v1/staff/{id}", h.DeleteStaff)

	mux.HandleFunc("GET /api/v1/shifts", h.ListShifts)
	mux.HandleFunc("GET /api/v1/shifts/{id}", h.GetShift)
	mux.HandleFunc("POST /api/v1/shifts", h.CreateShift)
	mux.HandleFunc("PUT /api/v1/shifts/{id}", h.UpdateShift)
	mux.HandleFunc("DELETE /api/v1/shifts/{id}", h.DeleteShift)

	mux.HandleFunc("GET /api/v1/schedules", h.ListSchedules)
	mux.HandleFunc("GET /api/v1/schedules/view", h.ScheduleView)
	mux.HandleFunc("POST /api/v1/schedules", h.AssignSchedule)
	mux.HandleFunc("POST /api/v1/schedules/cancel", h.CancelOccurrence)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", h.DeleteSchedule)

	mux.HandleFunc("GET /api/v1/attendance", h.ListAttendance)
	mux.HandleFunc("POST /api/v1/attendance", h.AddAttendance)
	mux.HandleFunc("POST /api/v1/attendance/check-in", h.CheckIn)
	mux.HandleFunc("POST /api/v1/attendance/check-out", h.CheckOut)
	mux.HandleFunc("PUT /api/v1/attendance/{id}", h.UpdateAttendance)
	mux.HandleFunc("DELETE /api/v1/attendance/{id}", h.DeleteAttendance)

	mux.HandleFunc("GET /api/v1/payrolls", h.ListPayrolls)
	mux.HandleFunc("GET /api/v1/payrolls/{id}", h.GetPayroll)
	mux.HandleFunc("POST /api/v1/payrolls", h.CreatePayroll)
	mux.HandleFunc("PUT /api/v1/payrolls/{id}", h.UpdatePayroll)
	mux.HandleFunc("DELETE /api/v1/payrolls/{id}", h.DeletePayroll)
	mux.HandleFunc("POST /api/v1/payrolls/refresh", h.RefreshOpenPayrolls)
	mux.HandleFunc("POST /api/v1/payrolls/{id}/refresh", h.RefreshPayroll)
	mux.HandleFunc("POST /api/v1/payrolls/{id}/items/{itemId}/pay", h.PayItem)
}

func requireStaff(w http.ResponseWriter, r *http.Request) bool {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	case !actor.IsStaff():
		httpx.WriteError(w, r, apperr.Forbidden("staff only"))
		return false
	}
	return true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	case actor.Role != httpx.RoleAdmin:
		httpx.WriteError(w, r, apperr.Forbidden("admin only"))
		return false
	}
	return true
}

// adminPath checks the caller is an admin and returns the {id} path value.
func adminPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !requireAdmin(w, r) {
		return "", false
	}
	return pathID(w, r, "id")
}

func staffPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !requireStaff(w, r) {
		return "", false
	}
	return pathID(w, r, "id")
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := httpx.PathUUID(r, name)
	if err != nil {
		httpx.WriteError(w, r, err)
		return "", false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
