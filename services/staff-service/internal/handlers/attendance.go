package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
)

type attendanceRequest struct {
	StaffID      string       `json:"staff_id"`
	Date         dates.Date   `json:"date"`
	CheckInTime  dates.Clock  `json:"check_in_time"`
	CheckOutTime *dates.Clock `json:"check_out_time"`
	Note         string       `json:"note"`
}

func (req attendanceRequest) toAttendance() staffing.Attendance {
	return staffing.Attendance{
		StaffID:  req.StaffID,
		Date:     req.Date,
		CheckIn:  req.CheckInTime,
		CheckOut: req.CheckOutTime,
		Note:     strings.TrimSpace(req.Note),
	}
}

func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
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
	limit, err := httpx.Limit(r, 500, 5000)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListAttendance(r.Context(), storage.AttendanceFilter{StaffID: staffID, From: from, To: to, Limit: limit})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

type clockRequest struct {
	StaffID string `json:"staff_id"`
}

// clockTarget resolves whose attendance a check-in or check-out is for.
// Admins may name any staff member; everyone else clocks themselves.
func (h *Handler) clockTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !requireStaff(w, r) {
		return "", false
	}
	var req clockRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return "", false
		}
	}
	actor := httpx.ActorFromRequest(r)
	if req.StaffID != "" {
		if actor.Role != httpx.RoleAdmin {
			httpx.WriteError(w, r, apperr.Forbidden("only admins can clock other staff"))
			return "", false
		}
		id, err := uuid.Parse(req.StaffID)
		if err != nil {
			httpx.WriteError(w, r, apperr.Invalid("staff_id must be a valid id"))
			return "", false
		}
		return id.String(), true
	}
	me, err := h.store.StaffByUser(r.Context(), actor.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return "", false
	}
	return me.ID, true
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.clockTarget(w, r)
	if !ok {
		return
	}
	a, err := h.store.CheckIn(r.Context(), httpx.ActorFromRequest(r), staffID, h.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	staffID, ok := h.clockTarget(w, r)
	if !ok {
		return
	}
	a, err := h.store.CheckOut(r.Context(), httpx.ActorFromRequest(r), staffID, h.now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) AddAttendance(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req attendanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if _, err := uuid.Parse(req.StaffID); err != nil {
		httpx.WriteError(w, r, apperr.Invalid("staff_id must be a valid id"))
		return
	}
	a := req.toAttendance()
	if err := a.Validate(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.AddAttendance(r.Context(), httpx.ActorFromRequest(r), a)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) UpdateAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	var req attendanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.UpdateAttendance(r.Context(), httpx.ActorFromRequest(r), id, req.toAttendance())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAttendance(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
