package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
)

// maxViewDays bounds the schedule view so one request cannot expand years of
// fixed schedules.
const maxViewDays = 62

type shiftRequest struct {
	Name      string      `json:"name"`
	StartTime dates.Clock `json:"start_time"`
	EndTime   dates.Clock `json:"end_time"`
	IsActive  *bool       `json:"is_active"`
}

func (req shiftRequest) toShift() staffing.Shift {
	s := staffing.Shift{
		Name:      strings.TrimSpace(req.Name),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		IsActive:  true,
	}
	if req.IsActive != nil {
		s.IsActive = *req.IsActive
	}
	return s
}

func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	active, err := httpx.QueryBool(r, "active")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListShifts(r.Context(), active != nil && *active)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	s, err := h.store.GetShift(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) CreateShift(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req shiftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.CreateShift(r.Context(), httpx.ActorFromRequest(r), req.toShift())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, s)
}

func (h *Handler) UpdateShift(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	var req shiftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.UpdateShift(r.Context(), httpx.ActorFromRequest(r), id, req.toShift())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteShift(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func optionalUUID(r *http.Request, key string) (string, error) {
	raw := httpx.QueryString(r, key)
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.Invalid("%s must be a valid id", key)
	}
	return id.String(), nil
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	staffID, err := optionalUUID(r, "staff_id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListSchedules(r.Context(), staffID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

// ScheduleView expands schedules into shift occurrences with attendance
// status. The range defaults to the current week starting Monday.
func (h *Handler) ScheduleView(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	staffID, err := optionalUUID(r, "staff_id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	today := dates.DateOf(h.now())
	if from == nil {
		offset := (int(today.Weekday()) + 6) % 7
		monday := today.AddDays(-offset)
		from = &monday
	}
	if to == nil {
		end := from.AddDays(6)
		to = &end
	}
	if to.Before(*from) {
		httpx.WriteError(w, r, apperr.Invalid("to must not be before from"))
		return
	}
	if from.DaysUntil(*to) >= maxViewDays {
		httpx.WriteError(w, r, apperr.Invalid("range must be shorter than %d days", maxViewDays))
		return
	}
	list, err := h.store.ScheduleView(r.Context(), staffID, *from, *to)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

type scheduleRequest struct {
	StaffID   string      `json:"staff_id"`
	ShiftID   string      `json:"shift_id"`
	IsFixed   bool        `json:"is_fixed_shift"`
	StartDate dates.Date  `json:"start_date"`
	EndDate   *dates.Date `json:"end_date"`
	ByDay     []string    `json:"by_day"`
}

func (h *Handler) AssignSchedule(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	for _, id := range []string{req.StaffID, req.ShiftID} {
		if _, err := uuid.Parse(id); err != nil {
			httpx.WriteError(w, r, apperr.Invalid("staff_id and shift_id must be valid ids"))
			return
		}
	}
	sc, restored, err := h.store.AssignSchedule(r.Context(), httpx.ActorFromRequest(r), staffing.Schedule{
		StaffID:   req.StaffID,
		ShiftID:   req.ShiftID,
		IsFixed:   req.IsFixed,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		ByDay:     req.ByDay,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if restored {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, map[string]any{"schedule": sc, "restored": restored})
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSchedule(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelOccurrenceRequest struct {
	StaffID string     `json:"staff_id"`
	ShiftID string     `json:"shift_id"`
	Date    dates.Date `json:"date"`
}

func (h *Handler) CancelOccurrence(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req cancelOccurrenceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	for _, id := range []string{req.StaffID, req.ShiftID} {
		if _, err := uuid.Parse(id); err != nil {
			httpx.WriteError(w, r, apperr.Invalid("staff_id and shift_id must be valid ids"))
			return
		}
	}
	if req.Date.IsZero() {
		httpx.WriteError(w, r, apperr.Invalid("date is required"))
		return
	}
	if err := h.store.CancelOccurrence(r.Context(), httpx.ActorFromRequest(r), req.StaffID, req.ShiftID, req.Date); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
