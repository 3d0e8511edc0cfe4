package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	secret = "whsec_test"
	ref    = "PM-01032025-000001"
)

type fakeStore struct {
	payables map[string]storage.Payable
	open     *storage.CheckoutSession
	inserted []storage.CheckoutSession
	seen     map[string]bool
}

func newStore() *fakeStore {
	return &fakeStore{
		payables: map[string]storage.Payable{
			ref: {PaymentRef: ref, Kind: "booking", Amount: decimal.NewFromInt(54000), Currency: "vnd", Status: storage.PayableOpen},
		},
		seen: map[string]bool{},
	}
}

func (f *fakeStore) InTx(_ context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) GetPayable(_ context.Context, r string) (storage.Payable, error) {
	p, ok := f.payables[r]
	if !ok {
		return storage.Payable{}, storage.ErrPayableNotFound
	}
	return p, nil
}

func (f *fakeStore) OpenSession(context.Context, string) (storage.CheckoutSession, bool, error) {
	if f.open == nil {
		return storage.CheckoutSession{}, false, nil
	}
	return *f.open, true, nil
}

func (f *fakeStore) InsertSession(_ context.Context, s storage.CheckoutSession) error {
	f.inserted = append(f.inserted, s)
	return nil
}

func (f *fakeStore) ListSessions(context.Context, string, int) ([]storage.CheckoutSession, error) {
	return nil, nil
}

func (f *fakeStore) InsertProviderEvent(_ context.Context, _ pgx.Tx, evt storage.ProviderEvent) error {
	if f.seen[evt.ProviderEventID] {
		return storage.ErrDuplicateProviderEvent
	}
	f.seen[evt.ProviderEventID] = true
	return nil
}

type fakeGateway struct {
	last *stripeapi.SessionRequest
}

func (g *fakeGateway) CreateSession(_ context.Context, req stripeapi.SessionRequest) (stripeapi.Session, error) {
	g.last = &req
	return stripeapi.Session{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new", Status: "open"}, nil
}

func (g *fakeGateway) GetSession(context.Context, string) (stripeapi.Session, error) {
	return stripeapi.Session{}, fmt.Errorf("not used")
}

type fakeSettler struct {
	results []settlement.Result
}

func (s *fakeSettler) Apply(_ context.Context, _ pgx.Tx, res settlement.Result) (bool, error) {
	s.results = append(s.results, res)
	return true, nil
}

func newHandler(store *fakeStore, gw stripeapi.Gateway, settler *fakeSettler) http.Handler {
	h := New(store, gw, settler, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		WebhookSecret: secret,
		SuccessURL:    "https://courtops.test/paid",
		CancelURL:     "https://courtops.test/cancelled",
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func checkout(t *testing.T, mux http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(body))
	req.Header.Set(httpx.HeaderUserID, "u1")
	req.Header.Set(httpx.HeaderRole, httpx.RoleCustomer)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutCreatesSession(t *testing.T) {
	store, gw := newStore(), &fakeGateway{}
	mux := newHandler(store, gw, &fakeSettler{})

	rec := checkout(t, mux, `{"payment_ref":"`+ref+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "cs_new", out.SessionID)
	assert.False(t, out.Reused)

	require.NotNil(t, gw.last)
	assert.Equal(t, "booking", gw.last.Kind)
	assert.True(t, gw.last.Amount.Equal(decimal.NewFromInt(54000)))
	assert.Equal(t, "https://courtops.test/paid", gw.last.SuccessURL)
	assert.Empty(t, gw.last.IdempotencyKey)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, ref, store.inserted[0].PaymentRef)
}

func TestCheckoutReusesOpenSession(t *testing.T) {
	store, gw := newStore(), &fakeGateway{}
	store.open = &storage.CheckoutSession{StripeSessionID: "cs_old", URL: "https://checkout.stripe.test/cs_old", Status: storage.SessionOpen}
	mux := newHandler(store, gw, &fakeSettler{})

	rec := checkout(t, mux, `{"payment_ref":"`+ref+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cs_old")
	assert.Nil(t, gw.last)
}

func TestCheckoutRejections(t *testing.T) {
	store := newStore()
	paid := store.payables[ref]
	paid.PaymentRef = "PM-paid"
	paid.Status = storage.PayablePaid
	store.payables["PM-paid"] = paid

	mux := newHandler(store, &fakeGateway{}, &fakeSettler{})
	assert.Equal(t, http.StatusConflict, checkout(t, mux, `{"payment_ref":"PM-paid"}`).Code)
	assert.Equal(t, http.StatusNotFound, checkout(t, mux, `{"payment_ref":"PM-missing"}`).Code)
	assert.Equal(t, http.StatusBadRequest, checkout(t, mux, `{"payment_ref":" "}`).Code)

	unconfigured := newHandler(newStore(), nil, &fakeSettler{})
	assert.Equal(t, http.StatusNotImplemented, checkout(t, unconfigured, `{"payment_ref":"`+ref+`"}`).Code)

	anon := httptest.NewRecorder()
	mux.ServeHTTP(anon, httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}

func signedWebhook(t *testing.T, payload string, key string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    key,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/stripe/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func sessionEvent(id, typ, paymentStatus string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": %d,
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"status": "complete",
			"payment_status": %q,
			"amount_total": 54000,
			"currency": "vnd",
			"client_reference_id": %q,
			"metadata": {"payment_ref": %q, "kind": "booking"}
		}}
	}`, id, typ, time.Now().Unix(), paymentStatus, ref, ref)
}

func TestStripeWebhookSettlesCompletedSession(t *testing.T) {
	store, settler := newStore(), &fakeSettler{}
	mux := newHandler(store, nil, settler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_1", "checkout.session.completed", "paid"), secret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"processed"`)

	require.Len(t, settler.results, 1)
	res := settler.results[0]
	assert.True(t, res.Succeeded)
	assert.Equal(t, "cs_1", res.SessionID)
	assert.Equal(t, ref, res.PaymentRef)
	assert.Equal(t, "booking", res.Kind)
	assert.Equal(t, "evt_1", res.ProviderEventID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(54000)))

	// Stripe retries deliver the same event id.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_1", "checkout.session.completed", "paid"), secret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate"`)
	assert.Len(t, settler.results, 1)
}

func TestStripeWebhookExpiredFails(t *testing.T) {
	settler := &fakeSettler{}
	mux := newHandler(newStore(), nil, settler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_2", "checkout.session.expired", "unpaid"), secret))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, settler.results, 1)
	assert.False(t, settler.results[0].Succeeded)
	assert.Equal(t, "checkout session expired", settler.results[0].Reason)
}

func TestStripeWebhookWaitsForDelayedPayment(t *testing.T) {
	settler := &fakeSettler{}
	mux := newHandler(newStore(), nil, settler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_3", "checkout.session.completed", "unpaid"), secret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
	assert.Empty(t, settler.results)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_4", "checkout.session.async_payment_succeeded", "paid"), secret))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, settler.results, 1)
	assert.True(t, settler.results[0].Succeeded)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	settler := &fakeSettler{}
	mux := newHandler(newStore(), nil, settler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, sessionEvent("evt_5", "checkout.session.completed", "paid"), "whsec_other"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/billing/stripe/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, settler.results)
}

func TestStripeWebhookIgnoresOtherEvents(t *testing.T) {
	settler := &fakeSettler{}
	mux := newHandler(newStore(), nil, settler)

	payload := fmt.Sprintf(`{"id":"evt_6","object":"event","type":"customer.created","created":%d,"data":{"object":{"id":"cus_1","object":"customer"}}}`, time.Now().Unix())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedWebhook(t, payload, secret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
	assert.Empty(t, settler.results)
}
