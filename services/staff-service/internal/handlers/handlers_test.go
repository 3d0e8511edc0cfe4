package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	staffID   = "0b6f7c1e-2a3d-4f5e-8a9b-1c2d3e4f5a6b"
	otherID   = "5d4c3b2a-1f0e-4d9c-8b7a-6f5e4d3c2b1a"
	shiftID   = "9e8d7c6b-5a4f-4e3d-9c2b-1a0f9e8d7c6b"
	payrollID = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	itemID    = "7f6e5d4c-3b2a-4190-8f7e-6d5c4b3a2918"
)

type fakeStore struct {
	Store

	staffIn    *storage.StaffInput
	viewFrom   dates.Date
	viewTo     dates.Date
	checkedIn  string
	checkInAt  time.Time
	payrollF   storage.PayrollFilter
	newPayroll *storage.NewPayroll
	paid       decimal.Decimal
	schedule   *staffing.Schedule
	restored   bool
}

func (f *fakeStore) CreateStaff(_ context.Context, _ httpx.Actor, in storage.StaffInput) (storage.Staff, error) {
	f.staffIn = &in
	return storage.Staff{ID: staffID, FullName: in.FullName, IsActive: in.IsActive, SalarySettings: in.SalarySettings}, nil
}

func (f *fakeStore) StaffByUser(_ context.Context, userID string) (storage.Staff, error) {
	if userID != "user-1" {
		return storage.Staff{}, storage.ErrStaffNotFound
	}
	return storage.Staff{ID: staffID, FullName: "An", IsActive: true}, nil
}

func (f *fakeStore) ItemsByStaff(_ context.Context, id string) ([]staffing.PayrollItem, error) {
	return []staffing.PayrollItem{{StaffID: id}}, nil
}

func (f *fakeStore) ScheduleView(_ context.Context, _ string, from, to dates.Date) ([]staffing.Occurrence, error) {
	f.viewFrom, f.viewTo = from, to
	return nil, nil
}

func (f *fakeStore) AssignSchedule(_ context.Context, _ httpx.Actor, sc staffing.Schedule) (staffing.Schedule, bool, error) {
	f.schedule = &sc
	return sc, f.restored, nil
}

func (f *fakeStore) CheckIn(_ context.Context, _ httpx.Actor, id string, at time.Time) (staffing.Attendance, error) {
	f.checkedIn, f.checkInAt = id, at
	return staffing.Attendance{StaffID: id, Date: dates.DateOf(at), CheckIn: dates.ClockOf(at)}, nil
}

func (f *fakeStore) ListPayrolls(_ context.Context, pf storage.PayrollFilter) ([]staffing.Payroll, error) {
	f.payrollF = pf
	return nil, nil
}

func (f *fakeStore) CreatePayroll(_ context.Context, _ httpx.Actor, in storage.NewPayroll) (staffing.Payroll, error) {
	f.newPayroll = &in
	return staffing.Payroll{ID: payrollID, Code: "BL000001", Name: in.Name, StartDate: in.StartDate, EndDate: in.EndDate}, nil
}

func (f *fakeStore) PayItem(_ context.Context, _ httpx.Actor, _, _ string, amount decimal.Decimal) (staffing.Payroll, error) {
	f.paid = amount
	return staffing.Payroll{ID: payrollID}, nil
}

// Thursday 2 October 2025, 09:00 venue time.
var fixedNow = time.Date(2025, 10, 2, 9, 0, 0, 0, dates.Location())

func serve(t *testing.T, store Store, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h := New(store)
	h.now = func() time.Time { return fixedNow }
	h.Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(httpx.HeaderUserID, "user-1")
		req.Header.Set(httpx.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateStaffIsAdminOnly(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/staff", "", `{"full_name":"An"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/staff", httpx.RoleStaff, `{"full_name":"An"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, store.staffIn)
}

func TestCreateStaffReadsSalarySettings(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/staff", httpx.RoleAdmin, `{
		"full_name":" Nguyen Van An ",
		"phone":"0901",
		"salary_settings":{"salaryType":"hourly","salaryAmount":"25000","showAdvanced":"True",
			"advancedRows":[{"shiftId":"`+shiftID+`","amount":30000,"saturday":"150%"}]}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.staffIn)
	assert.Equal(t, "Nguyen Van An", store.staffIn.FullName)
	assert.True(t, store.staffIn.IsActive)
	assert.Equal(t, staffing.SalaryHourly, store.staffIn.SalarySettings.SalaryType)
	assert.True(t, bool(store.staffIn.SalarySettings.ShowAdvanced))
	require.Len(t, store.staffIn.SalarySettings.AdvancedRows, 1)
}

func TestCreateStaffRejectsBadSalaryType(t *testing.T) {
	rec := serve(t, &fakeStore{}, http.MethodPost, "/api/v1/staff", httpx.RoleAdmin,
		`{"full_name":"An","salary_settings":{"salaryType":"weekly","salaryAmount":"1"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateStaffDefaultsToFixedSalary(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/staff", httpx.RoleAdmin, `{"full_name":"An","is_active":false}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, staffing.SalaryFixed, store.staffIn.SalarySettings.SalaryType)
	assert.False(t, store.staffIn.IsActive)
}

func TestPayslipsOnlyForOwner(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/staff/"+staffID+"/payslips", httpx.RoleStaff, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, store, http.MethodGet, "/api/v1/staff/"+otherID+"/payslips", httpx.RoleStaff, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, store, http.MethodGet, "/api/v1/staff/"+otherID+"/payslips", httpx.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleViewDefaultsToCurrentWeek(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/schedules/view", httpx.RoleStaff, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-09-29", store.viewFrom.String())
	assert.Equal(t, "2025-10-05", store.viewTo.String())
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestScheduleViewRejectsLongRanges(t *testing.T) {
	rec := serve(t, &fakeStore{}, http.MethodGet, "/api/v1/schedules/view?from=2025-01-01&to=2025-06-01", httpx.RoleStaff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeStore{}, http.MethodGet, "/api/v1/schedules/view?from=2025-02-01&to=2025-01-01", httpx.RoleStaff, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignScheduleReportsRestore(t *testing.T) {
	body := `{"staff_id":"` + staffID + `","shift_id":"` + shiftID + `","start_date":"2025-10-06"}`
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/schedules", httpx.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.schedule)
	assert.Equal(t, "2025-10-06", store.schedule.StartDate.String())

	store = &fakeStore{restored: true}
	rec = serve(t, store, http.MethodPost, "/api/v1/schedules", httpx.RoleAdmin, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Restored bool `json:"restored"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Restored)
}

func TestAssignScheduleValidatesIDs(t *testing.T) {
	rec := serve(t, &fakeStore{}, http.MethodPost, "/api/v1/schedules", httpx.RoleAdmin,
		`{"staff_id":"nope","shift_id":"`+shiftID+`","start_date":"2025-10-06"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckInUsesLinkedStaff(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/attendance/check-in", httpx.RoleStaff, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, staffID, store.checkedIn)
	assert.True(t, fixedNow.Equal(store.checkInAt))
}

func TestCheckInForOthersIsAdminOnly(t *testing.T) {
	store := &fakeStore{}
	body := `{"staff_id":"` + otherID + `"}`
	rec := serve(t, store, http.MethodPost, "/api/v1/attendance/check-in", httpx.RoleStaff, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/attendance/check-in", httpx.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, otherID, store.checkedIn)
}

func TestListPayrollsParsesDateOperators(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet,
		"/api/v1/payrolls?keyword=BL0001&status=Pending&start_date=2025-09-01&start_date_op=gt&end_date=2025-09-30", httpx.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BL0001", store.payrollF.Keyword)
	assert.Equal(t, staffing.PayrollPending, store.payrollF.Status)
	require.NotNil(t, store.payrollF.Start)
	assert.Equal(t, ">", store.payrollF.Start.Op)
	require.NotNil(t, store.payrollF.End)
	assert.Equal(t, "=", store.payrollF.End.Op)

	rec = serve(t, store, http.MethodGet, "/api/v1/payrolls?start_date=2025-09-01&start_date_op=!", httpx.RoleAdmin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, store, http.MethodGet, "/api/v1/payrolls?status=Paid", httpx.RoleAdmin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePayrollValidatesPeriod(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/payrolls", httpx.RoleAdmin,
		`{"start_date":"2025-09-30","end_date":"2025-09-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.newPayroll)

	rec = serve(t, store, http.MethodPost, "/api/v1/payrolls", httpx.RoleAdmin,
		`{"start_date":"2025-09-01","end_date":"2025-09-30","name":" September "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "September", store.newPayroll.Name)
	assert.Contains(t, rec.Body.String(), `"code":"BL000001"`)
}

func TestPayItemRequiresPositiveAmount(t *testing.T) {
	path := "/api/v1/payrolls/" + payrollID + "/items/" + itemID + "/pay"
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, path, httpx.RoleAdmin, `{"amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, store, http.MethodPost, path, httpx.RoleAdmin, `{"amount":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, store, http.MethodPost, path, httpx.RoleAdmin, `{"amount":"1500000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1500000", store.paid.String())
}

func TestPayrollsAreAdminOnly(t *testing.T) {
	rec := serve(t, &fakeStore{}, http.MethodGet, "/api/v1/payrolls", httpx.RoleStaff, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
