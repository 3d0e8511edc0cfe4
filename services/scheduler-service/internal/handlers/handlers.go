// Package handlers lets staff look up the reminders planned for a booking.
package handlers

import (
	"context"
	"net/http"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/scheduler-service/internal/jobs"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	List(ctx context.Context, f jobs.Filter) ([]jobs.Job, error)
}

type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/reminders", h.List)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor := httpx.ActorFromRequest(r)
	if actor.UserID == "" {
		httpx.WriteError(w, r, errUnauthenticated)
		return
	}
	if !actor.IsStaff() {
		httpx.WriteError(w, r, apperr.Forbidden("staff only"))
		return
	}
	status := httpx.QueryString(r, "status")
	if status != "" && !jobs.ValidStatus(status) {
		httpx.WriteError(w, r, apperr.Invalid("status must be pending, processed, failed or cancelled"))
		return
	}
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.List(r.Context(), jobs.Filter{
		BookingID: httpx.QueryString(r, "booking_id"),
		Status:    status,
		Limit:     limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
