package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
)

type customerRequest struct {
	FullName    string      `json:"full_name"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email"`
	DateOfBirth *dates.Date `json:"date_of_birth"`
	Gender      string      `json:"gender"`
	Address     string      `json:"address"`
	Note        string      `json:"note"`
	Status      string      `json:"status"`
}

func (req *customerRequest) toInput(update bool) (storage.CustomerInput, error) {
	in := storage.CustomerInput{
		FullName:    strings.TrimSpace(req.FullName),
		Phone:       strings.TrimSpace(req.Phone),
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		DateOfBirth: req.DateOfBirth,
		Gender:      strings.TrimSpace(req.Gender),
		Address:     strings.TrimSpace(req.Address),
		Note:        strings.TrimSpace(req.Note),
		Status:      strings.TrimSpace(req.Status),
	}
	if in.FullName == "" {
		return in, apperr.Invalid("full_name is required")
	}
	if in.Phone == "" {
		return in, apperr.Invalid("phone is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return in, apperr.Invalid("email is not valid")
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(dates.Today()) {
		return in, apperr.Invalid("date_of_birth must not be in the future")
	}
	switch in.Status {
	case "":
	case storage.CustomerActive, storage.CustomerInactive:
		if !update {
			return in, apperr.Invalid("status cannot be set on create")
		}
	default:
		return in, apperr.Invalid("status must be Active or Inactive")
	}
	return in, nil
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.ListCustomers(r.Context(), storage.CustomerFilter{
		Keyword: httpx.QueryString(r, "keyword"),
		Status:  httpx.QueryString(r, "status"),
		Limit:   limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput(false)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.CreateCustomer(r.Context(), httpx.ActorFromRequest(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput(true)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.UpdateCustomer(r.Context(), httpx.ActorFromRequest(r), id, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteCustomer(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
