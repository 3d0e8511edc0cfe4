package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
)

type tablePriceRequest struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

func toTablePrices(reqs []tablePriceRequest) ([]inventory.TablePrice, error) {
	out := make([]inventory.TablePrice, 0, len(reqs))
	for _, p := range reqs {
		price, err := money.Parse(p.Price)
		if err != nil {
			return nil, apperr.Invalid("price for %s must be a number", p.ProductID)
		}
		out = append(out, inventory.TablePrice{ProductID: strings.TrimSpace(p.ProductID), Price: money.Round2(price)})
	}
	return out, nil
}

type priceTableRequest struct {
	Name          string                `json:"name"`
	EffectiveFrom *time.Time            `json:"effective_from"`
	EffectiveTo   *time.Time            `json:"effective_to"`
	IsActive      bool                  `json:"is_active"`
	TimeRanges    []inventory.TimeRange `json:"time_ranges"`
	Products      *[]tablePriceRequest  `json:"products"`
}

func (req priceTableRequest) toTable() (inventory.PriceTable, error) {
	t := inventory.PriceTable{
		Name:          strings.TrimSpace(req.Name),
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsActive:      req.IsActive,
		TimeRanges:    req.TimeRanges,
	}
	if req.Products != nil {
		products, err := toTablePrices(*req.Products)
		if err != nil {
			return t, err
		}
		t.Products = products
	}
	return t, t.Validate()
}

func (h *Handler) ListPriceTables(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	list, err := h.store.ListPriceTables(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetPriceTable(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	t, err := h.store.GetPriceTable(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) CreatePriceTable(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req priceTableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toTable()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.CreatePriceTable(r.Context(), httpx.ActorFromRequest(r), t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

func (h *Handler) UpdatePriceTable(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req priceTableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	t, err := req.toTable()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.UpdatePriceTable(r.Context(), httpx.ActorFromRequest(r), id, t)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) DeletePriceTable(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeletePriceTable(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetPriceTableProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	list, err := h.store.PriceTableProducts(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) SetPriceTableProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req struct {
		Products []tablePriceRequest `json:"products"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	products, err := toTablePrices(req.Products)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.store.SetPriceTableProducts(r.Context(), httpx.ActorFromRequest(r), id, products)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) SetPriceTableStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.IsActive == nil {
		httpx.WriteError(w, r, apperr.Invalid("is_active is required"))
		return
	}
	out, err := h.store.SetPriceTableStatus(r.Context(), httpx.ActorFromRequest(r), id, *req.IsActive)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
