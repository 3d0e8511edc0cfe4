package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
)

type checkRequest struct {
	Note  string `json:"note"`
	Lines []struct {
		ProductID      string `json:"product_id"`
		ActualQuantity int    `json:"actual_quantity"`
	} `json:"lines"`
	Complete bool `json:"complete"`
}

func (req checkRequest) toLines() ([]inventory.CheckLine, error) {
	lines := make([]inventory.CheckLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, inventory.CheckLine{ProductID: strings.TrimSpace(l.ProductID), ActualQuantity: l.ActualQuantity})
	}
	return lines, inventory.ValidateCheckLines(lines)
}

type idsRequest struct {
	IDs  []string `json:"ids"`
	Note string   `json:"note"`
}

func (req idsRequest) parse() ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, apperr.Invalid("ids must be valid ids")
		}
		if seen[id.String()] {
			continue
		}
		seen[id.String()] = true
		out = append(out, id.String())
	}
	return out, nil
}

func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, err := httpx.QueryTime(r, "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := httpx.QueryTime(r, "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := httpx.QueryString(r, "status")
	if !validDocumentStatus(status) {
		httpx.WriteError(w, r, apperr.Invalid("status must be Draft, Completed or Cancelled"))
		return
	}
	list, err := h.store.ListChecks(r.Context(), storage.CheckFilter{
		Status:  status,
		Keyword: httpx.QueryString(r, "keyword"),
		From:    from,
		To:      to,
		Limit:   limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	c, err := h.store.GetCheck(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateCheck(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	lines, err := req.toLines()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.CreateCheck(r.Context(), httpx.ActorFromRequest(r), strings.TrimSpace(req.Note), lines, req.Complete)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	lines, err := req.toLines()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.UpdateCheck(r.Context(), httpx.ActorFromRequest(r), id, strings.TrimSpace(req.Note), lines)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) CompleteCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	c, err := h.store.CompleteCheck(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) CancelCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	c, err := h.store.CancelCheck(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) CancelChecks(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ids, err := req.parse()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	n, err := h.store.CancelChecks(r.Context(), httpx.ActorFromRequest(r), ids)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (h *Handler) MergeChecks(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req idsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ids, err := req.parse()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.MergeChecks(r.Context(), httpx.ActorFromRequest(r), ids, strings.TrimSpace(req.Note))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	limit, err := httpx.Limit(r, 200, 1000)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	from, err := httpx.QueryTime(r, "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := httpx.QueryTime(r, "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListCards(r.Context(), storage.CardFilter{
		ProductID: httpx.QueryString(r, "product_id"),
		Kind:      httpx.QueryString(r, "kind"),
		From:      from,
		To:        to,
		Limit:     limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}
