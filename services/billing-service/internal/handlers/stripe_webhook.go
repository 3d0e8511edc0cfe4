package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks. There is no JWT here: the signature
// is the authentication, so the gateway exposes this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.cfg.WebhookSecret) == "" {
		httpx.WriteError(w, r, apperr.Unavailable("stripe webhook not configured"))
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.WriteError(w, r, apperr.Invalid("missing Stripe-Signature header"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("failed to read request body"))
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("invalid signature"))
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	res, relevant, err := resultFromEvent(evt, occurredAt)
	if err != nil {
		h.logger.Error("stripe: invalid checkout session payload", "provider_event_id", evt.ID, "err", err)
		httpx.WriteError(w, r, apperr.Invalid("invalid checkout session payload"))
		return
	}

	ctx := r.Context()
	settled := false
	err = h.store.InTx(ctx, func(tx pgx.Tx) error {
		if err := h.store.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       evtType,
			Payload:         body,
		}); err != nil {
			return err
		}
		if !relevant {
			return nil
		}
		var err error
		settled, err = h.settler.Apply(ctx, tx, res)
		return err
	})
	if errors.Is(err, storage.ErrDuplicateProviderEvent) {
		h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := "ignored"
	if relevant {
		status = "processed"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": status, "settled": settled})
}

// resultFromEvent maps the checkout events billing acts on. A completed
// session whose payment is still pending (delayed payment methods) waits for
// the async_payment events.
func resultFromEvent(evt stripe.Event, at time.Time) (settlement.Result, bool, error) {
	var succeeded bool
	var reason string
	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		succeeded = true
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		reason = "async payment failed"
	case stripe.EventTypeCheckoutSessionExpired:
		reason = "checkout session expired"
	default:
		return settlement.Result{}, false, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
		return settlement.Result{}, false, err
	}
	if evt.Type == stripe.EventTypeCheckoutSessionCompleted && cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return settlement.Result{}, false, nil
	}
	sess := stripeapi.FromStripe(&cs)
	return settlement.Result{
		SessionID:       sess.ID,
		PaymentRef:      firstNonEmpty(sess.PaymentRef, cs.ClientReferenceID),
		Kind:            sess.Kind,
		Succeeded:       succeeded,
		Amount:          stripeapi.FromMinorUnits(sess.AmountTotal, sess.Currency),
		ProviderEventID: evt.ID,
		Reason:          reason,
		At:              at,
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
