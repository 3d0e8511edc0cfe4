package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
)

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (req categoryRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Invalid("name is required")
	}
	return nil
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	if !requireUser(w, r) {
		return
	}
	list, err := h.store.ListCategories(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.CreateCategory(r.Context(), httpx.ActorFromRequest(r), strings.TrimSpace(req.Name), strings.TrimSpace(req.Description))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.UpdateCategory(r.Context(), httpx.ActorFromRequest(r), id, strings.TrimSpace(req.Name), strings.TrimSpace(req.Description))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCategory(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type productRequest struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	CategoryID  *string `json:"category_id"`
	Unit        string  `json:"unit"`
	CostPrice   string  `json:"cost_price"`
	SalePrice   string  `json:"sale_price"`
	MinStock    int     `json:"min_stock"`
	IsActive    *bool   `json:"is_active"`
	Description string  `json:"description"`
}

func (req productRequest) toInput() (storage.ProductInput, error) {
	cost, err := money.Parse(req.CostPrice)
	if err != nil {
		return storage.ProductInput{}, apperr.Invalid("cost_price must be a number")
	}
	sale, err := money.Parse(req.SalePrice)
	if err != nil {
		return storage.ProductInput{}, apperr.Invalid("sale_price must be a number")
	}
	in := storage.ProductInput{
		Code:        strings.TrimSpace(req.Code),
		Name:        strings.TrimSpace(req.Name),
		Unit:        strings.TrimSpace(req.Unit),
		CostPrice:   cost,
		SalePrice:   sale,
		MinStock:    req.MinStock,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Description: strings.TrimSpace(req.Description),
	}
	if req.CategoryID != nil && strings.TrimSpace(*req.CategoryID) != "" {
		id := strings.TrimSpace(*req.CategoryID)
		in.CategoryID = &id
	}
	return in, in.Validate()
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if !requireUser(w, r) {
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
	low, err := httpx.QueryBool(r, "low_stock")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	f := storage.ProductFilter{
		Keyword:    httpx.QueryString(r, "keyword"),
		CategoryID: httpx.QueryString(r, "category_id"),
		IsActive:   active,
		LowStock:   low != nil && *low,
		Limit:      limit,
	}
	list, err := h.store.ListProducts(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

// CurrentPrices lists what each active product sells for right now, or at
// ?at= when given.
func (h *Handler) CurrentPrices(w http.ResponseWriter, r *http.Request) {
	if !requireUser(w, r) {
		return
	}
	at := h.now()
	if t, err := httpx.QueryTime(r, "at"); err != nil {
		httpx.WriteError(w, r, err)
		return
	} else if t != nil {
		at = *t
	}
	prices, err := h.store.PricesAt(r.Context(), at)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out := make([]inventory.TablePrice, 0, len(prices))
	for _, p := range prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	if !requireUser(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.store.CreateProduct(r.Context(), httpx.ActorFromRequest(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.store.UpdateProduct(r.Context(), httpx.ActorFromRequest(r), id, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := staffPath(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteProduct(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
