package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
)

type supplierRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Note    string `json:"note"`
}

func (req supplierRequest) toInput() (storage.SupplierInput, error) {
	in := storage.SupplierInput{
		Code:    strings.TrimSpace(req.Code),
		Name:    strings.TrimSpace(req.Name),
		Phone:   strings.TrimSpace(req.Phone),
		Email:   strings.TrimSpace(req.Email),
		Address: strings.TrimSpace(req.Address),
		Note:    strings.TrimSpace(req.Note),
	}
	if in.Name == "" {
		return in, apperr.Invalid("name is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return in, apperr.Invalid("email is invalid")
	}
	return in, nil
}

func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 200, 1000)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := httpx.QueryString(r, "status")
	if status != "" && !storage.ValidSupplierStatus(status) {
		httpx.WriteError(w, r, apperr.Invalid("status must be Active or Inactive"))
		return
	}
	list, err := h.store.ListSuppliers(r.Context(), storage.SupplierFilter{
		Keyword: httpx.QueryString(r, "keyword"),
		Status:  status,
		Limit:   limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	s, err := h.store.GetSupplier(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.CreateSupplier(r.Context(), httpx.ActorFromRequest(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, s)
}

func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.UpdateSupplier(r.Context(), httpx.ActorFromRequest(r), id, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) SetSupplierStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.store.SetSupplierStatus(r.Context(), httpx.ActorFromRequest(r), id, strings.TrimSpace(req.Status))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSupplier(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
