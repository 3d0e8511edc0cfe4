package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
)

// dateBound parses ?<key>=YYYY-MM-DD with an optional ?<key>_op=<|=|>,
// defaulting to equality.
func dateBound(r *http.Request, key string) (*storage.DateBound, error) {
	d, err := httpx.QueryDate(r, key)
	if err != nil || d == nil {
		return nil, err
	}
	op := httpx.QueryString(r, key+"_op")
	switch op {
	case "":
		op = "="
	case "lt":
		op = "<"
	case "gt":
		op = ">"
	case "eq":
		op = "="
	}
	if !storage.ValidDateOp(op) {
		return nil, apperr.Invalid("%s_op must be one of <, =, >", key)
	}
	return &storage.DateBound{Op: op, Date: *d}, nil
}

func (h *Handler) ListPayrolls(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := httpx.QueryString(r, "status")
	if status != "" && status != staffing.PayrollPending && status != staffing.PayrollCompleted {
		httpx.WriteError(w, r, apperr.Invalid("status must be Pending or Completed"))
		return
	}
	start, err := dateBound(r, "start_date")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	end, err := dateBound(r, "end_date")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListPayrolls(r.Context(), storage.PayrollFilter{
		Keyword: httpx.QueryString(r, "keyword"),
		Status:  status,
		Start:   start,
		End:     end,
		Limit:   limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetPayroll(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p.Items = nonNil(p.Items)
	httpx.WriteJSON(w, http.StatusOK, p)
}

type payrollRequest struct {
	Name      string     `json:"name"`
	StartDate dates.Date `json:"start_date"`
	EndDate   dates.Date `json:"end_date"`
	Note      string     `json:"note"`
}

func (h *Handler) CreatePayroll(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req payrollRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := staffing.ValidPeriod(req.StartDate, req.EndDate); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.store.CreatePayroll(r.Context(), httpx.ActorFromRequest(r), storage.NewPayroll{
		Name:      strings.TrimSpace(req.Name),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

type payrollUpdateRequest struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

func (h *Handler) UpdatePayroll(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	var req payrollUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httpx.WriteError(w, r, apperr.Invalid("name is required"))
		return
	}
	p, err := h.store.UpdatePayroll(r.Context(), httpx.ActorFromRequest(r), id, strings.TrimSpace(req.Name), strings.TrimSpace(req.Note))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) DeletePayroll(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeletePayroll(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RefreshPayroll(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	p, err := h.store.RefreshPayroll(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) RefreshOpenPayrolls(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	n, err := h.store.RefreshOpenPayrolls(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"refreshed": n})
}

type payRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) PayItem(w http.ResponseWriter, r *http.Request) {
	id, ok := adminPath(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemId")
	if !ok {
		return
	}
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("amount must be a number"))
		return
	}
	if !amount.IsPositive() {
		httpx.WriteError(w, r, apperr.Invalid("amount must be greater than zero"))
		return
	}
	p, err := h.store.PayItem(r.Context(), httpx.ActorFromRequest(r), id, itemID, amount)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
