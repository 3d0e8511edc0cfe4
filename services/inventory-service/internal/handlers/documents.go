package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
)

type lineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type documentRequest struct {
	SupplierID *string       `json:"supplier_id"`
	PaidAmount string        `json:"paid_amount"`
	Note       string        `json:"note"`
	Lines      []lineRequest `json:"lines"`
	Complete   bool          `json:"complete"`
}

func (req documentRequest) toDocument(kind string) (inventory.Document, error) {
	paid, err := money.Parse(req.PaidAmount)
	if err != nil {
		return inventory.Document{}, apperr.Invalid("paid_amount must be a number")
	}
	d := inventory.Document{
		Kind:       kind,
		PaidAmount: money.Round2(paid),
		Note:       strings.TrimSpace(req.Note),
		Lines:      make([]inventory.Line, 0, len(req.Lines)),
	}
	if req.SupplierID != nil && strings.TrimSpace(*req.SupplierID) != "" {
		id := strings.TrimSpace(*req.SupplierID)
		d.SupplierID = &id
	}
	for _, l := range req.Lines {
		price, err := money.Parse(l.UnitPrice)
		if err != nil {
			return inventory.Document{}, apperr.Invalid("unit_price must be a number")
		}
		d.Lines = append(d.Lines, inventory.Line{ProductID: strings.TrimSpace(l.ProductID), Quantity: l.Quantity, UnitPrice: price})
	}
	return d, d.Normalize()
}

func validDocumentStatus(s string) bool {
	switch s {
	case "", inventory.StatusDraft, inventory.StatusCompleted, inventory.StatusCancelled:
		return true
	}
	return false
}

func (h *Handler) ListDocuments(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		list, err := h.store.ListDocuments(r.Context(), storage.DocumentFilter{
			Kind:       kind,
			Status:     status,
			SupplierID: httpx.QueryString(r, "supplier_id"),
			Keyword:    httpx.QueryString(r, "keyword"),
			From:       from,
			To:         to,
			Limit:      limit,
		})
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, nonNil(list))
	}
}

func (h *Handler) GetDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := staffPath(w, r)
		if !ok {
			return
		}
		d, err := h.store.GetDocument(r.Context(), kind, id)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, d)
	}
}

func (h *Handler) CreateDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireStaff(w, r) {
			return
		}
		var req documentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		d, err := req.toDocument(kind)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		out, err := h.store.CreateDocument(r.Context(), httpx.ActorFromRequest(r), d, req.Complete)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, out)
	}
}

func (h *Handler) UpdateDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := staffPath(w, r)
		if !ok {
			return
		}
		var req documentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		if req.Complete {
			httpx.WriteError(w, r, apperr.Invalid("use the complete endpoint to complete a draft"))
			return
		}
		d, err := req.toDocument(kind)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		out, err := h.store.UpdateDocument(r.Context(), httpx.ActorFromRequest(r), kind, id, d)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) CompleteDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := staffPath(w, r)
		if !ok {
			return
		}
		out, err := h.store.CompleteDocument(r.Context(), httpx.ActorFromRequest(r), kind, id)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) CancelDocument(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := staffPath(w, r)
		if !ok {
			return
		}
		out, err := h.store.CancelDocument(r.Context(), httpx.ActorFromRequest(r), kind, id)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}
