// Package handlers exposes the pro shop's catalog, price tables, suppliers
// and stock documents over HTTP. Everything except browsing the catalog is
// staff only.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	ListCategories(ctx context.Context) ([]storage.Category, error)
	CreateCategory(ctx context.Context, actor httpx.Actor, name, description string) (storage.Category, error)
	UpdateCategory(ctx context.Context, actor httpx.Actor, id, name, description string) (storage.Category, error)
	DeleteCategory(ctx context.Context, actor httpx.Actor, id string) error

	ListProducts(ctx context.Context, f storage.ProductFilter) ([]storage.Product, error)
	GetProduct(ctx context.Context, id string) (storage.Product, error)
	CreateProduct(ctx context.Context, actor httpx.Actor, in storage.ProductInput) (storage.Product, error)
	UpdateProduct(ctx context.Context, actor httpx.Actor, id string, in storage.ProductInput) (storage.Product, error)
	DeleteProduct(ctx context.Context, actor httpx.Actor, id string) error
	PricesAt(ctx context.Context, at time.Time) (map[string]inventory.TablePrice, error)

	ListPriceTables(ctx context.Context) ([]inventory.PriceTable, error)
	GetPriceTable(ctx context.Context, id string) (inventory.PriceTable, error)
	CreatePriceTable(ctx context.Context, actor httpx.Actor, t inventory.PriceTable) (inventory.PriceTable, error)
	UpdatePriceTable(ctx context.Context, actor httpx.Actor, id string, t inventory.PriceTable) (inventory.PriceTable, error)
	DeletePriceTable(ctx context.Context, actor httpx.Actor, id string) error
	SetPriceTableProducts(ctx context.Context, actor httpx.Actor, id string, products []inventory.TablePrice) (inventory.PriceTable, error)
	PriceTableProducts(ctx context.Context, id string) ([]inventory.TablePrice, error)
	SetPriceTableStatus(ctx context.Context, actor httpx.Actor, id string, active bool) (inventory.PriceTable, error)

	ListSuppliers(ctx context.Context, f storage.SupplierFilter) ([]storage.Supplier, error)
	GetSupplier(ctx context.Context, id string) (storage.Supplier, error)
	CreateSupplier(ctx context.Context, actor httpx.Actor, in storage.SupplierInput) (storage.Supplier, error)
	UpdateSupplier(ctx context.Context, actor httpx.Actor, id string, in storage.SupplierInput) (storage.Supplier, error)
	SetSupplierStatus(ctx context.Context, actor httpx.Actor, id, status string) (storage.Supplier, error)
	DeleteSupplier(ctx context.Context, actor httpx.Actor, id string) error

	ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]inventory.Document, error)
	GetDocument(ctx context.Context, kind, id string) (inventory.Document, error)
	CreateDocument(ctx context.Context, actor httpx.Actor, d inventory.Document, complete bool) (inventory.Document, error)
	UpdateDocument(ctx context.Context, actor httpx.Actor, kind, id string, d inventory.Document) (inventory.Document, error)
	CompleteDocument(ctx context.Context, actor httpx.Actor, kind, id string) (inventory.Document, error)
	CancelDocument(ctx context.Context, actor httpx.Actor, kind, id string) (inventory.Document, error)

	ListChecks(ctx context.Context, f storage.CheckFilter) ([]storage.CheckView, error)
	GetCheck(ctx context.Context, id string) (storage.CheckView, error)
	CreateCheck(ctx context.Context, actor httpx.Actor, note string, lines []inventory.CheckLine, complete bool) (storage.CheckView, error)
	UpdateCheck(ctx context.Context, actor httpx.Actor, id, note string, lines []inventory.CheckLine) (storage.CheckView, error)
	CompleteCheck(ctx context.Context, actor httpx.Actor, id string) (storage.CheckView, error)
	CancelCheck(ctx context.Context, actor httpx.Actor, id string) (storage.CheckView, error)
	CancelChecks(ctx context.Context, actor httpx.Actor, ids []string) (int, error)
	MergeChecks(ctx context.Context, actor httpx.Actor, ids []string, note string) (storage.CheckView, error)

	ListCards(ctx context.Context, f storage.CardFilter) ([]storage.Card, error)
}

type Handler struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// documentRoutes maps URL segments to document kinds.
var documentRoutes = map[string]string{
	"receipts":   inventory.KindReceipt,
	"returns":    inventory.KindReturn,
	"stock-outs": inventory.KindStockOut,
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/categories", h.ListCategories)
	mux.HandleFunc("POST /api/v1/categories", h.CreateCategory)
	mux.HandleFunc("PUT /api/v1/categories/{id}", h.UpdateCategory)
	mux.HandleFunc("DELETE /api/v1/categories/{id}", h.DeleteCategory)

	mux.HandleFunc("GET /api/v1/products", h.ListProducts)
	mux.HandleFunc("GET /api/v1/products/prices", h.CurrentPrices)
	mux.HandleFunc("GET /api/v1/products/{id}", h.GetProduct)
	mux.HandleFunc("POST /api/v1/products", h.CreateProduct)
	mux.HandleFunc("PUT /api/v1/products/{id}", h.UpdateProduct)
	mux.HandleFunc("DELETE /api/v1/products/{id}", h.DeleteProduct)

	mux.HandleFunc("GET /api/v1/price-tables", h.ListPriceTables)
	mux.HandleFunc("GET /api/v1/price-tables/{id}", h.GetPriceTable)
	mux.HandleFunc("POST /api/v1/price-tables", h.CreatePriceTable)
	mux.HandleFunc("PUT /api/v1/price-tables/{id}", h.UpdatePriceTable)
	mux.HandleFunc("DELETE /api/v1/price-tables/{id}", h.DeletePriceTable)
	mux.HandleFunc("GET /api/v1/price-tables/{id}/products", h.GetPriceTableProducts)
	mux.HandleFunc("PUT /api/v1/price-tables/{id}/products", h.SetPriceTableProducts)
	mux.HandleFunc("PATCH /api/v1/price-tables/{id}/status", h.SetPriceTableStatus)

	mux.HandleFunc("GET /api/v1/suppliers", h.ListSuppliers)
	mux.HandleFunc("GET /api/v1/suppliers/{id}", h.GetSupplier)
	mux.HandleFunc("POST /api/v1/suppliers", h.CreateSupplier)
	mux.HandleFunc("PUT /api/v1/suppliers/{id}", h.UpdateSupplier)
	mux.HandleFunc("PATCH /api/v1/suppliers/{id}/status", h.SetSupplierStatus)
	mux.HandleFunc("DELETE /api/v1/suppliers/{id}", h.DeleteSupplier)

	for segment, kind := range documentRoutes {
		base := "/api/v1/" + segment
		mux.HandleFunc("GET "+base, h.ListDocuments(kind))
		mux.HandleFunc("GET "+base+"/{id}", h.GetDocument(kind))
		mux.HandleFunc("POST "+base, h.CreateDocument(kind))
		mux.HandleFunc("PUT "+base+"/{id}", h.UpdateDocument(kind))
		mux.HandleFunc("POST "+base+"/{id}/complete", h.CompleteDocument(kind))
		mux.HandleFunc("POST "+base+"/{id}/cancel", h.CancelDocument(kind))
	}

	mux.HandleFunc("GET /api/v1/inventory-checks", h.ListChecks)
	mux.HandleFunc("GET /api/v1/inventory-checks/{id}", h.GetCheck)
	mux.HandleFunc("POST /api/v1/inventory-checks", h.CreateCheck)
	mux.HandleFunc("PUT /api/v1/inventory-checks/{id}", h.UpdateCheck)
	mux.HandleFunc("POST /api/v1/inventory-checks/{id}/complete", h.CompleteCheck)
	mux.HandleFunc("POST /api/v1/inventory-checks/{id}/cancel", h.CancelCheck)
	mux.HandleFunc("POST /api/v1/inventory-checks/cancel", h.CancelChecks)
	mux.HandleFunc("POST /api/v1/inventory-checks/merge", h.MergeChecks)

	mux.HandleFunc("GET /api/v1/inventory-cards", h.ListCards)
}

func requireStaff(w http.ResponseWriter, r *http.Request) bool {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	case !actor.IsStaff():
		httpx.WriteError(w, r, apperr.Forbidden("staff only"))
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) bool {
	if httpx.ActorFromRequest(r).UserID == "" {
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	}
	return true
}

// staffPath checks the caller and returns the {id} path value.
func staffPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !requireStaff(w, r) {
		return "", false
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return "", false
	}
	return id, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
