package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/vouchers"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

// Store is the persistence surface the handlers need.
type Store interface {
	VoucherReader

	ListVouchers(ctx context.Context, f storage.VoucherFilter) ([]vouchers.Voucher, error)
	GetVoucher(ctx context.Context, id string) (vouchers.Voucher, error)
	CreateVoucher(ctx context.Context, actor httpx.Actor, v vouchers.Voucher) (vouchers.Voucher, error)
	UpdateVoucher(ctx context.Context, actor httpx.Actor, v vouchers.Voucher) (vouchers.Voucher, error)
	DeleteVoucher(ctx context.Context, actor httpx.Actor, id string) error
	ExtendVoucher(ctx context.Context, actor httpx.Actor, id string, ext storage.Extension) (vouchers.Voucher, error)
	AvailableFor(ctx context.Context, customerID string, at time.Time) ([]vouchers.Voucher, error)
	CustomerByUser(ctx context.Context, userID string) (storage.Customer, error)

	ListMemberships(ctx context.Context, status string) ([]storage.Membership, error)
	GetMembership(ctx context.Context, id string) (storage.Membership, error)
	CreateMembership(ctx context.Context, actor httpx.Actor, m storage.Membership) (storage.Membership, error)
	UpdateMembership(ctx context.Context, actor httpx.Actor, m storage.Membership) (storage.Membership, error)
	DeleteMembership(ctx context.Context, actor httpx.Actor, id string) error

	ListUserMemberships(ctx context.Context, f storage.UserMembershipFilter) ([]storage.UserMembership, error)
	CreateUserMembership(ctx context.Context, actor httpx.Actor, in storage.NewUserMembership) (storage.UserMembership, error)
	ConfirmPayment(ctx context.Context, actor httpx.Actor, id string) (storage.Settlement, error)
	ActiveDiscount(ctx context.Context, customerID string) (storage.MembershipDiscount, error)
}

type Handler struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// Register mounts the loyalty routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/vouchers", h.ListVouchers)
	mux.HandleFunc("GET /api/v1/vouchers/available", h.AvailableVouchers)
	mux.HandleFunc("POST /api/v1/vouchers/validate", h.ValidateVoucher)
	mux.HandleFunc("GET /api/v1/vouchers/{id}", h.GetVoucher)
	mux.HandleFunc("POST /api/v1/vouchers", h.CreateVoucher)
	mux.HandleFunc("PUT /api/v1/vouchers/{id}", h.UpdateVoucher)
	mux.HandleFunc("DELETE /api/v1/vouchers/{id}", h.DeleteVoucher)
	mux.HandleFunc("PATCH /api/v1/vouchers/{id}/extend", h.ExtendVoucher)

	mux.HandleFunc("GET /api/v1/memberships", h.ListMemberships)
	mux.HandleFunc("GET /api/v1/memberships/{id}", h.GetMembership)
	mux.HandleFunc("POST /api/v1/memberships", h.CreateMembership)
	mux.HandleFunc("PUT /api/v1/memberships/{id}", h.UpdateMembership)
	mux.HandleFunc("DELETE /api/v1/memberships/{id}", h.DeleteMembership)

	mux.HandleFunc("GET /api/v1/user-memberships", h.ListUserMemberships)
	mux.HandleFunc("POST /api/v1/user-memberships", h.CreateUserMembership)
	mux.HandleFunc("POST /api/v1/membership-payments/{id}/confirm", h.ConfirmPayment)
	mux.HandleFunc("GET /api/v1/memberships/discount", h.MembershipDiscount)
}

// requireStaff writes 401/403 and reports false for non-staff callers.
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

// customerFor resolves whose data a request concerns. Staff pass
// ?customer_id=, customers always get their own record.
func (h *Handler) customerFor(r *http.Request, requested string) (string, error) {
	actor := httpx.ActorFromRequest(r)
	if actor.IsStaff() {
		if requested == "" {
			return "", apperr.Invalid("customer_id is required")
		}
		return requested, nil
	}
	if actor.UserID == "" {
		return "", errUnauthenticated
	}
	c, err := h.store.CustomerByUser(r.Context(), actor.UserID)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
