// Package handlers exposes the notification log to staff.
package handlers

import (
	"context"
	"net/http"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/storage"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Store interface {
	List(ctx context.Context, f storage.Filter) ([]storage.Notification, error)
}

type Handler struct {
	store Store
}

func New(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications", h.List)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return
	case !actor.IsStaff():
		httpx.WriteError(w, r, apperr.Forbidden("staff only"))
		return
	}
	status := httpx.QueryString(r, "status")
	if status != "" && status != storage.StatusSent && status != storage.StatusFailed {
		httpx.WriteError(w, r, apperr.Invalid("status must be sent or failed"))
		return
	}
	limit, err := httpx.Limit(r, 50, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.List(r.Context(), storage.Filter{
		Recipient: httpx.QueryString(r, "recipient"),
		Status:    status,
		BookingID: httpx.QueryString(r, "booking_id"),
		Limit:     limit,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.Notification{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}
