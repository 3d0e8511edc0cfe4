package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
)

type staffRequest struct {
	FullName             string                   `json:"full_name"`
	Phone                string                   `json:"phone"`
	Email                string                   `json:"email"`
	IdentificationNumber string                   `json:"identification_number"`
	DateOfBirth          *dates.Date              `json:"date_of_birth"`
	Address              string                   `json:"address"`
	Position             string                   `json:"position"`
	UserID               string                   `json:"user_id"`
	IsActive             *bool                    `json:"is_active"`
	SalarySettings       *staffing.SalarySettings `json:"salary_settings"`
	Note                 string                   `json:"note"`
}

func (req staffRequest) toInput() (storage.StaffInput, error) {
	in := storage.StaffInput{
		FullName:             strings.TrimSpace(req.FullName),
		Phone:                strings.TrimSpace(req.Phone),
		Email:                strings.TrimSpace(req.Email),
		IdentificationNumber: strings.TrimSpace(req.IdentificationNumber),
		DateOfBirth:          req.DateOfBirth,
		Address:              strings.TrimSpace(req.Address),
		Position:             strings.TrimSpace(req.Position),
		UserID:               strings.TrimSpace(req.UserID),
		IsActive:             true,
		Note:                 strings.TrimSpace(req.Note),
	}
	if req.IsActive != nil {
		in.IsActive = *req.IsActive
	}
	if req.SalarySettings != nil {
		in.SalarySettings = *req.SalarySettings
	} else {
		in.SalarySettings = staffing.SalarySettings{SalaryType: staffing.SalaryFixed}
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return in, apperr.Invalid("email is invalid")
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(dates.Today()) {
		return in, apperr.Invalid("date_of_birth must not be in the future")
	}
	return in, in.Validate()
}

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 200, 1000)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	active, err := httpx.QueryBool(r, "is_active")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListStaff(r.Context(), storage.StaffFilter{
		Keyword:  httpx.QueryString(r, "keyword"),
		IsActive: active,
		Limit:    limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	s, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

// Me returns the staff record linked to the signed-in user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	s, err := h.store.StaffByUser(r.Context(), httpx.ActorFromRequest(r).UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req staffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.CreateStaff(r.Context(), httpx.ActorFromRequest(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, s)
}

func (h *Handler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	var req staffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.UpdateStaff(r.Context(), httpx.ActorFromRequest(r), id, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteStaff(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Payslips lists a staff member's payroll items. Staff may read their own;
// admins may read anyone's.
func (h *Handler) Payslips(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	actor := httpx.ActorFromRequest(r)
	if actor.Role != httpx.RoleAdmin {
		me, err := h.store.StaffByUser(r.Context(), actor.UserID)
		if err != nil || me.ID != id {
			httpx.WriteError(w, r, apperr.Forbidden("you can only view your own payslips"))
			return
		}
	}
	items, err := h.store.ItemsByStaff(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(items))
}
