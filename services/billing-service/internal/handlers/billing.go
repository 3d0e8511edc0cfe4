package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/jackc/pgx/v5"
)

type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	GetPayable(ctx context.Context, ref string) (storage.Payable, error)
	OpenSession(ctx context.Context, ref string) (storage.CheckoutSession, bool, error)
	InsertSession(ctx context.Context, s storage.CheckoutSession) error
	ListSessions(ctx context.Context, ref string, limit int) ([]storage.CheckoutSession, error)
	InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt storage.ProviderEvent) error
}

// Settler applies a provider result to a payable.
type Settler interface {
	Apply(ctx context.Context, tx pgx.Tx, res settlement.Result) (bool, error)
}

type Config struct {
	WebhookSecret    string
	WebhookTolerance time.Duration

	// Used when a checkout request leaves the redirect URLs out.
	SuccessURL string
	CancelURL  string
}

type Handler struct {
	store   Store
	gateway stripeapi.Gateway
	settler Settler
	logger  *slog.Logger
	cfg     Config
}

// New builds the billing handlers. gateway may be nil when Stripe is not
// configured; checkout then answers 501.
func New(store Store, gateway stripeapi.Gateway, settler Settler, logger *slog.Logger, cfg Config) *Handler {
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	return &Handler{store: store, gateway: gateway, settler: settler, logger: logger, cfg: cfg}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/billing/checkout", h.Checkout)
	mux.HandleFunc("GET /api/v1/billing/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/v1/billing/payables/{ref}", h.GetPayable)
	mux.HandleFunc("POST /api/v1/billing/stripe/webhook", h.StripeWebhook)
}

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type checkoutRequest struct {
	PaymentRef string `json:"payment_ref"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	SessionID  string `json:"session_id"`
	URL        string `json:"url"`
	PaymentRef string `json:"payment_ref"`
	Reused     bool   `json:"reused"`
}

// Checkout opens a Stripe checkout session for an open payable, or hands
// back the session that is already open for it.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor := httpx.ActorFromRequest(r)
	if actor.UserID == "" {
		httpx.WriteError(w, r, errUnauthenticated)
		return
	}
	if h.gateway == nil {
		httpx.WriteError(w, r, apperr.New(http.StatusNotImplemented, "not_configured", "card payments are not configured"))
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.PaymentRef = strings.TrimSpace(req.PaymentRef)
	if req.PaymentRef == "" {
		httpx.WriteError(w, r, apperr.Invalid("payment_ref is required"))
		return
	}
	if req.SuccessURL == "" {
		req.SuccessURL = h.cfg.SuccessURL
	}
	if req.CancelURL == "" {
		req.CancelURL = h.cfg.CancelURL
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		httpx.WriteError(w, r, apperr.Invalid("success_url and cancel_url are required"))
		return
	}

	ctx := r.Context()
	p, err := h.store.GetPayable(ctx, req.PaymentRef)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	// A failed payable may be retried with a new session.
	if p.Status == storage.PayablePaid {
		httpx.WriteError(w, r, apperr.Conflict("payment %s is already paid", p.PaymentRef))
		return
	}
	if !p.Amount.IsPositive() {
		httpx.WriteError(w, r, apperr.Invalid("payment %s has nothing to pay", p.PaymentRef))
		return
	}

	if open, ok, err := h.store.OpenSession(ctx, p.PaymentRef); err != nil {
		httpx.WriteError(w, r, err)
		return
	} else if ok && open.URL != "" {
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{SessionID: open.StripeSessionID, URL: open.URL, PaymentRef: p.PaymentRef, Reused: true})
		return
	}

	idemKey := ""
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		idemKey = "checkout:" + p.PaymentRef + ":" + key
	}
	sess, err := h.gateway.CreateSession(ctx, stripeapi.SessionRequest{
		PaymentRef:     p.PaymentRef,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Description:    describe(p),
		CustomerEmail:  p.CustomerEmail,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		h.logger.Error("stripe checkout session failed", "payment_ref", p.PaymentRef, "err", err)
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.InsertSession(ctx, storage.CheckoutSession{
		StripeSessionID: sess.ID,
		PaymentRef:      p.PaymentRef,
		Kind:            p.Kind,
		Amount:          p.Amount,
		Currency:        p.Currency,
		URL:             sess.URL,
	}); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.logger.Info("checkout session created", "payment_ref", p.PaymentRef, "session_id", sess.ID, "kind", p.Kind)
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{SessionID: sess.ID, URL: sess.URL, PaymentRef: p.PaymentRef})
}

func describe(p storage.Payable) string {
	if p.Description != "" {
		return p.Description
	}
	return "CourtOps " + p.Kind + " " + p.PaymentRef
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !httpx.ActorFromRequest(r).IsStaff() {
		httpx.WriteError(w, r, apperr.Forbidden("staff only"))
		return
	}
	limit, err := httpx.Limit(r, 50, 200)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	sessions, err := h.store.ListSessions(r.Context(), httpx.QueryString(r, "payment_ref"), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []storage.CheckoutSession{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (h *Handler) GetPayable(w http.ResponseWriter, r *http.Request) {
	if httpx.ActorFromRequest(r).UserID == "" {
		httpx.WriteError(w, r, errUnauthenticated)
		return
	}
	p, err := h.store.GetPayable(r.Context(), r.PathValue("ref"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
