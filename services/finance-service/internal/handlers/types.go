package handlers

import (
	"net/http"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
)

func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	isPayment, err := httpx.QueryBool(r, "is_payment")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListTypes(r.Context(), isPayment)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetType(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	t, err := h.store.GetType(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

type typeRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	IsPayment   bool   `json:"is_payment"`
	Description string `json:"description"`
}

func (req typeRequest) toType() (ledger.CashflowType, error) {
	t := ledger.CashflowType{Code: req.Code, Name: req.Name, IsPayment: req.IsPayment, Description: req.Description}
	return t, t.Normalize()
}

func (h *Handler) CreateType(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req typeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toType()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.CreateType(r.Context(), httpx.ActorFromRequest(r), t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) UpdateType(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	var req typeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toType()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.UpdateType(r.Context(), httpx.ActorFromRequest(r), id, t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) DeleteType(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteType(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
