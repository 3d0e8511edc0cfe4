package main

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/codes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func testOptions() options {
	return options{
		BaseURL:  "http://gateway:8080/",
		Type:     string(stripe.EventTypeCheckoutSessionCompleted),
		Ref:      "PM-06102025-000123",
		Kind:     "booking",
		Amount:   decimal.NewFromInt(250000),
		Currency: "vnd",
		Secret:   "whsec_test",
		APIKey:   "key-1",
	}
}

func TestStripeRequestIsVerifiable(t *testing.T) {
	now := time.Now().UTC()
	req, err := stripeRequest(testOptions(), now)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway:8080"+stripePath, req.URL.String())

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	evt, err := webhook.ConstructEventWithOptions(body, req.Header.Get("Stripe-Signature"), "whsec_test",
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	require.NoError(t, err)
	assert.Equal(t, stripe.EventTypeCheckoutSessionCompleted, evt.Type)

	var cs stripe.CheckoutSession
	require.NoError(t, json.Unmarshal(evt.Data.Raw, &cs))
	assert.Equal(t, "PM-06102025-000123", cs.Metadata["payment_ref"])
	assert.Equal(t, "booking", cs.Metadata["kind"])
	assert.EqualValues(t, 250000, cs.AmountTotal)
	assert.Equal(t, stripe.CheckoutSessionPaymentStatusPaid, cs.PaymentStatus)
}

func TestStripeEventRejectsUnknownType(t *testing.T) {
	o := testOptions()
	o.Type = "invoice.paid"
	_, err := stripeEvent(o, time.Now())
	assert.Error(t, err)

	o = testOptions()
	o.Secret = ""
	_, err = stripeRequest(o, time.Now())
	assert.Error(t, err)
}

func TestSePayRequestCarriesReference(t *testing.T) {
	req, err := sepayRequest(testOptions(), time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Apikey key-1", req.Header.Get("Authorization"))

	var body struct {
		Content        string `json:"content"`
		TransferType   string `json:"transferType"`
		TransferAmount int64  `json:"transferAmount"`
	}
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.Equal(t, "in", body.TransferType)
	assert.EqualValues(t, 250000, body.TransferAmount)
	assert.Equal(t, "PM-06102025-000123", codes.FindPaymentRef(body.Content))
}
