package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/inventory"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	productID  = "6c1f0f55-8f2a-4a55-9a8c-0d2f6b1b7e01"
	supplierID = "a9d3c2f1-4b7e-4e0c-8d55-3f1e2a6b9c10"
)

type fakeStore struct {
	Store

	productIn   *storage.ProductInput
	productF    storage.ProductFilter
	document    *inventory.Document
	complete    bool
	tableActive *bool
	mergeIDs    []string
	cancelled   []string
	pricesAt    time.Time
}

func (f *fakeStore) CreateProduct(_ context.Context, _ httpx.Actor, in storage.ProductInput) (storage.Product, error) {
	f.productIn = &in
	return storage.Product{ID: productID, Code: "SP000001", Name: in.Name, SalePrice: in.SalePrice, IsActive: in.IsActive}, nil
}

func (f *fakeStore) ListProducts(_ context.Context, pf storage.ProductFilter) ([]storage.Product, error) {
	f.productF = pf
	return nil, nil
}

func (f *fakeStore) PricesAt(_ context.Context, at time.Time) (map[string]inventory.TablePrice, error) {
	f.pricesAt = at
	return map[string]inventory.TablePrice{
		"b": {ProductID: "b", ProductName: "Water", Price: decimal.NewFromInt(10000)},
		"a": {ProductID: "a", ProductName: "Grip", Price: decimal.NewFromInt(45000)},
	}, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, actor httpx.Actor, d inventory.Document, complete bool) (inventory.Document, error) {
	f.document = &d
	f.complete = complete
	d.Code = inventory.CodePrefix(d.Kind) + "000001"
	d.CreatedBy = actor.Label()
	return d, nil
}

func (f *fakeStore) SetPriceTableStatus(_ context.Context, _ httpx.Actor, id string, active bool) (inventory.PriceTable, error) {
	f.tableActive = &active
	return inventory.PriceTable{ID: id, IsActive: active}, nil
}

func (f *fakeStore) MergeChecks(_ context.Context, _ httpx.Actor, ids []string, note string) (storage.CheckView, error) {
	f.mergeIDs = ids
	return storage.CheckView{Check: inventory.Check{Code: "KK000003", Note: note}}, nil
}

func (f *fakeStore) CancelChecks(_ context.Context, _ httpx.Actor, ids []string) (int, error) {
	f.cancelled = ids
	return len(ids), nil
}

func serve(t *testing.T, store Store, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h := New(store)
	h.now = func() time.Time { return time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC) }
	h.Register(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(httpx.HeaderUserID, "user-1")
		req.Header.Set(httpx.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateProductRequiresStaff(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/products", "", `{"name":"Grip"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/products", httpx.RoleCustomer, `{"name":"Grip"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, store.productIn)
}

func TestCreateProductParsesPrices(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/products", httpx.RoleStaff,
		`{"name":" Overgrip ","unit":"pcs","cost_price":"30000","sale_price":"45000","min_stock":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.productIn)
	assert.Equal(t, "Overgrip", store.productIn.Name)
	assert.True(t, store.productIn.SalePrice.Equal(decimal.NewFromInt(45000)))
	assert.True(t, store.productIn.IsActive, "products default to active")
	assert.Empty(t, store.productIn.Code, "empty code is allocated by storage")
}

func TestCreateProductRejectsNegativePrice(t *testing.T) {
	rec := serve(t, &fakeStore{}, http.MethodPost, "/api/v1/products", httpx.RoleAdmin, `{"name":"Grip","sale_price":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProductsFilters(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/products?keyword=grip&low_stock=true&is_active=false", httpx.RoleCustomer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, "grip", store.productF.Keyword)
	assert.True(t, store.productF.LowStock)
	require.NotNil(t, store.productF.IsActive)
	assert.False(t, *store.productF.IsActive)
}

func TestCurrentPricesSortedByName(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodGet, "/api/v1/products/prices", httpx.RoleCustomer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []inventory.TablePrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Grip", out[0].ProductName)
	assert.Equal(t, 2025, store.pricesAt.Year())
}

func TestCreateReceiptComputesTotals(t *testing.T) {
	store := &fakeStore{}
	body := `{"supplier_id":"` + supplierID + `","paid_amount":"100000","complete":true,
		"lines":[{"product_id":"` + productID + `","quantity":3,"unit_price":"45000.5"}]}`
	rec := serve(t, store, http.MethodPost, "/api/v1/receipts", httpx.RoleStaff, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.document)
	assert.True(t, store.complete)
	assert.Equal(t, inventory.KindReceipt, store.document.Kind)
	assert.Equal(t, "135001.5", store.document.TotalAmount.String())
	assert.Contains(t, rec.Body.String(), `"code":"PN000001"`)
}

func TestReturnNeedsSupplier(t *testing.T) {
	store := &fakeStore{}
	body := `{"lines":[{"product_id":"` + productID + `","quantity":1,"unit_price":"1"}]}`
	rec := serve(t, store, http.MethodPost, "/api/v1/returns", httpx.RoleStaff, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.document)

	rec = serve(t, store, http.MethodPost, "/api/v1/stock-outs", httpx.RoleStaff, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, inventory.KindStockOut, store.document.Kind)
	assert.False(t, store.complete)
}

func TestPaidAmountCannotExceedTotal(t *testing.T) {
	body := `{"supplier_id":"` + supplierID + `","paid_amount":"10",
		"lines":[{"product_id":"` + productID + `","quantity":1,"unit_price":"5"}]}`
	rec := serve(t, &fakeStore{}, http.MethodPost, "/api/v1/receipts", httpx.RoleStaff, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceTableStatusRequiresFlag(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPatch, "/api/v1/price-tables/"+productID+"/status", httpx.RoleStaff, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, store, http.MethodPatch, "/api/v1/price-tables/"+productID+"/status", httpx.RoleStaff, `{"is_active":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.tableActive)
	assert.True(t, *store.tableActive)
}

func TestMergeChecksDeduplicatesIDs(t *testing.T) {
	store := &fakeStore{}
	body := `{"ids":["` + productID + `","` + supplierID + `","` + productID + `"]}`
	rec := serve(t, store, http.MethodPost, "/api/v1/inventory-checks/merge", httpx.RoleStaff, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{productID, supplierID}, store.mergeIDs)
}

func TestCancelChecksRejectsBadIDs(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/inventory-checks/cancel", httpx.RoleStaff, `{"ids":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.cancelled)

	rec = serve(t, store, http.MethodPost, "/api/v1/inventory-checks/cancel", httpx.RoleStaff, `{"ids":["`+productID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled":1}`, rec.Body.String())
}
