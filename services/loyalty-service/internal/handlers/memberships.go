package handlers

import (
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
)

type membershipRequest struct {
	Name            string `json:"name"`
	Price           string `json:"price"`
	DiscountPercent string `json:"discount_percent"`
	DurationDays    int    `json:"duration_days"`
	Status          string `json:"status"`
	Description     string `json:"description"`
}

func (req membershipRequest) toMembership() (storage.Membership, error) {
	price, err := money.Parse(req.Price)
	if err != nil {
		return storage.Membership{}, apperr.Invalid("price must be a number")
	}
	pct, err := money.Parse(req.DiscountPercent)
	if err != nil {
		return storage.Membership{}, apperr.Invalid("discount_percent must be a number")
	}
	m := storage.Membership{
		Name:            strings.TrimSpace(req.Name),
		Price:           price,
		DiscountPercent: pct,
		DurationDays:    req.DurationDays,
		Status:          strings.TrimSpace(req.Status),
		Description:     strings.TrimSpace(req.Description),
	}
	if m.Status == "" {
		m.Status = storage.MembershipActive
	}
	return m, m.Validate()
}

func (h *Handler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListMemberships(r.Context(), httpx.QueryString(r, "status"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := h.store.GetMembership(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	var req membershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := req.toMembership()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	created, err := h.store.CreateMembership(r.Context(), httpx.ActorFromRequest(r), m)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateMembership(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req membershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := req.toMembership()
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m.ID = id
	updated, err := h.store.UpdateMembership(r.Context(), httpx.ActorFromRequest(r), m)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteMembership(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteMembership(r.Context(), httpx.ActorFromRequest(r), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListUserMemberships(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	active, err := httpx.QueryBool(r, "is_active")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	f := storage.UserMembershipFilter{
		CustomerID:   httpx.QueryString(r, "customer_id"),
		MembershipID: httpx.QueryString(r, "membership_id"),
		IsActive:     active,
		Limit:        limit,
	}
	if !httpx.ActorFromRequest(r).IsStaff() {
		if f.CustomerID, err = h.customerFor(r, ""); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	list, err := h.store.ListUserMemberships(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, nonNil(list))
}

type userMembershipRequest struct {
	CustomerID    string `json:"customer_id"`
	MembershipID  string `json:"membership_id"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) CreateUserMembership(w http.ResponseWriter, r *http.Request) {
	var req userMembershipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	actor := httpx.ActorFromRequest(r)
	method := normalizeMethod(req.PaymentMethod)
	// Customers buy for themselves and pay online.
	if !actor.IsStaff() && method == storage.MethodCash {
		httpx.WriteError(w, r, apperr.Forbidden("cash payments are taken at the front desk"))
		return
	}
	customerID, err := h.customerFor(r, strings.TrimSpace(req.CustomerID))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if strings.TrimSpace(req.MembershipID) == "" {
		httpx.WriteError(w, r, apperr.Invalid("membership_id is required"))
		return
	}
	um, err := h.store.CreateUserMembership(r.Context(), actor, storage.NewUserMembership{
		CustomerID:   customerID,
		MembershipID: strings.TrimSpace(req.MembershipID),
		Method:       method,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, um)
}

func normalizeMethod(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return storage.MethodCash
	case "bank", "":
		return storage.MethodBank
	case "card":
		return storage.MethodCard
	}
	return raw
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if !requireStaff(w, r) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		httpx.WriteError(w, r, apperr.Invalid("payment id is required"))
		return
	}
	s, err := h.store.ConfirmPayment(r.Context(), httpx.ActorFromRequest(r), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if s.AlreadyPaid {
		httpx.WriteError(w, r, apperr.Conflict("payment %s is already paid", s.Payment.ID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) MembershipDiscount(w http.ResponseWriter, r *http.Request) {
	customerID, err := h.customerFor(r, httpx.QueryString(r, "customer_id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	d, err := h.store.ActiveDiscount(r.Context(), customerID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"active":             d.Active,
		"user_membership_id": d.UserMembershipID,
		"membership_name":    d.MembershipName,
		"discount_percent":   d.Percent,
	})
}
