// Package handlers serves the cash book. Staff record and read cashflows and
// related people; only admins manage cashflow types.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/storage"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	ListTypes(ctx context.Context, isPayment *bool) ([]ledger.CashflowType, error)
	GetType(ctx context.Context, id int64) (ledger.CashflowType, error)
	CreateType(ctx context.Context, actor httpx.Actor, t ledger.CashflowType) (ledger.CashflowType, error)
	UpdateType(ctx context.Context, actor httpx.Actor, id int64, t ledger.CashflowType) (ledger.CashflowType, error)
	DeleteType(ctx context.Context, actor httpx.Actor, id int64) error

	ListCashflows(ctx context.Context, f storage.CashflowFilter) ([]ledger.Cashflow, error)
	GetCashflow(ctx context.Context, id int64) (ledger.Cashflow, error)
	CashflowByReference(ctx context.Context, ref string) (ledger.Cashflow, error)
	CreateCashflow(ctx context.Context, actor httpx.Actor, e ledger.Entry) (ledger.Cashflow, error)
	UpdateCashflow(ctx context.Context, actor httpx.Actor, id int64, e ledger.Entry) (ledger.Cashflow, error)
	DeleteCashflow(ctx context.Context, actor httpx.Actor, id int64) error
	Summary(ctx context.Context, from, to *time.Time) (ledger.Summary, error)

	ListPeople(ctx context.Context, f storage.PersonFilter) ([]ledger.RelatedPerson, error)
	GetPerson(ctx context.Context, id int64) (ledger.RelatedPerson, error)
	CreatePerson(ctx context.Context, actor httpx.Actor, p ledger.RelatedPerson) (ledger.RelatedPerson, error)
	UpdatePerson(ctx context.Context, actor httpx.Actor, id int64, p ledger.RelatedPerson) (ledger.RelatedPerson, error)
	DeletePerson(ctx context.Context, actor httpx.Actor, id int64) error
}

type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/cashflow-types", h.ListTypes)
	mux.HandleFunc("GET /api/v1/cashflow-types/{id}", h.GetType)
	mux.HandleFunc("POST /api/v1/cashflow-types", h.CreateType)
	mux.HandleFunc("PUT /api/v1/cashflow-types/{id}", h.UpdateType)
	mux.HandleFunc("DELETE /api/v1/cashflow-types/{id}", h.DeleteType)

	mux.HandleFunc("GET /api/v1/cashflows", h.ListCashflows)
	mux.HandleFunc("GET /api/v1/cashflows/summary", h.Summary)
	mux.HandleFunc("GET /api/v1/cashflows/{ref}", h.GetCashflow)
	mux.HandleFunc("POST /api/v1/cashflows", h.CreateCashflow)
	mux.HandleFunc("PUT /api/v1/cashflows/{id}", h.UpdateCashflow)
	mux.HandleFunc("DELETE /api/v1/cashflows/{id}", h.DeleteCashflow)

	mux.HandleFunc("GET /api/v1/related-people", h.ListPeople)
	mux.HandleFunc("GET /api/v1/related-people/{id}", h.GetPerson)
	mux.HandleFunc("POST /api/v1/related-people", h.CreatePerson)
	mux.HandleFunc("PUT /api/v1/related-people/{id}", h.UpdatePerson)
	mux.HandleFunc("DELETE /api/v1/related-people/{id}", h.DeletePerson)
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

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return false
	case actor.Role != httpx.RoleAdmin:
		httpx.WriteError(w, r, apperr.Forbidden("admin only"))
		return false
	}
	return true
}

// pathInt returns the numeric {name} path value.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, r, apperr.Invalid("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

func staffPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if !requireStaff(w, r) {
		return 0, false
	}
	return pathInt(w, r, "id")
}

func adminPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if !requireAdmin(w, r) {
		return 0, false
	}
	return pathInt(w, r, "id")
}

// timeBound reads ?<key>= as RFC3339 or as a venue calendar date. A bare
// date used as an upper bound covers the whole day.
func timeBound(r *http.Request, key string, upper bool) (*time.Time, error) {
	raw := httpx.QueryString(r, key)
	if raw == "" {
		return nil, nil
	}
	if d, err := dates.ParseDate(raw); err == nil {
		t := d.At(dates.Clock{})
		if upper {
			t = d.AddDays(1).At(dates.Clock{}).Add(-time.Microsecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Invalid("%s must be RFC3339 or YYYY-MM-DD", key)
	}
	return &t, nil
}

func timeRange(r *http.Request) (from, to *time.Time, err error) {
	if from, err = timeBound(r, "from", false); err != nil {
		return nil, nil, err
	}
	if to, err = timeBound(r, "to", true); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, apperr.Invalid("to must not be before from")
	}
	return from, to, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
