// Command webhook-sim posts signed payment provider webhooks to a running
// gateway, for exercising settlement without real Stripe or bank traffic.
//
//	webhook-sim -provider stripe -ref PM-06102025-000123 -amount 250000
//	webhook-sim -provider sepay -ref PM-06102025-000123 -amount 250000
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const (
	stripePath = "/api/v1/billing/stripe/webhook"
	sepayPath  = "/api/v1/payments/sepay/webhook"
)

type options struct {
	BaseURL  string
	Provider string
	Type     string
	Ref      string
	Kind     string
	Amount   decimal.Decimal
	Currency string
	Secret   string
	APIKey   string
}

func main() {
	var (
		o      options
		amount string
	)
	flag.StringVar(&o.BaseURL, "base-url", getenv("BASE_URL", "http://localhost:8080"), "gateway base url")
	flag.StringVar(&o.Provider, "provider", getenv("PROVIDER", "stripe"), "stripe or sepay")
	flag.StringVar(&o.Type, "type", getenv("STRIPE_EVENT_TYPE", string(stripe.EventTypeCheckoutSessionCompleted)), "stripe event type")
	flag.StringVar(&o.Ref, "ref", getenv("PAYMENT_REF", ""), "payment reference (PM-ddMMyyyy-NNNNNN)")
	flag.StringVar(&o.Kind, "kind", getenv("PAYMENT_KIND", events.KindBooking), "booking, order or membership")
	flag.StringVar(&amount, "amount", getenv("AMOUNT", "0"), "amount in the main currency unit")
	flag.StringVar(&o.Currency, "currency", getenv("CURRENCY", "vnd"), "stripe currency")
	flag.StringVar(&o.Secret, "secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	flag.StringVar(&o.APIKey, "api-key", getenv("SEPAY_API_KEY", ""), "sepay api key")
	flag.Parse()

	v, err := decimal.NewFromString(amount)
	if err != nil {
		fatal("amount must be a number")
	}
	o.Amount = v
	if strings.TrimSpace(o.Ref) == "" {
		fatal("PAYMENT_REF is required")
	}

	var req *http.Request
	switch o.Provider {
	case "stripe":
		req, err = stripeRequest(o, time.Now().UTC())
	case "sepay":
		req, err = sepayRequest(o, time.Now().UTC())
	default:
		err = fmt.Errorf("unknown provider %q", o.Provider)
	}
	if err != nil {
		fatal(err.Error())
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func stripeRequest(o options, now time.Time) (*http.Request, error) {
	if strings.TrimSpace(o.Secret) == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	payload, err := stripeEvent(o, now)
	if err != nil {
		return nil, err
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    o.Secret,
		Timestamp: now,
		Scheme:    "v1",
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(o.BaseURL, "/")+stripePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req, nil
}

// stripeEvent builds a checkout session event carrying the metadata billing
// reads when it settles a payment.
func stripeEvent(o options, now time.Time) ([]byte, error) {
	status, paymentStatus := "complete", "paid"
	switch stripe.EventType(o.Type) {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		paymentStatus = "unpaid"
	case stripe.EventTypeCheckoutSessionExpired:
		status, paymentStatus = "expired", "unpaid"
	default:
		return nil, fmt.Errorf("unsupported event type: %s", o.Type)
	}
	minor := o.Amount.Round(0).IntPart()
	if o.Currency != "vnd" {
		minor = o.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	return json.Marshal(map[string]any{
		"id":          fmt.Sprintf("evt_test_%d", now.UnixNano()),
		"object":      "event",
		"created":     now.Unix(),
		"type":        o.Type,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  fmt.Sprintf("cs_test_%d", now.UnixNano()),
				"object":              "checkout.session",
				"status":              status,
				"payment_status":      paymentStatus,
				"amount_total":        minor,
				"currency":            o.Currency,
				"client_reference_id": o.Ref,
				"metadata": map[string]any{
					"payment_ref": o.Ref,
					"kind":        o.Kind,
				},
			},
		},
	})
}

// sepayRequest imitates a bank transfer whose memo carries the payment
// reference with the dashes stripped, as most banks do.
func sepayRequest(o options, now time.Time) (*http.Request, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, fmt.Errorf("SEPAY_API_KEY is required")
	}
	memo := strings.ReplaceAll(o.Ref, "-", "") + " thanh toan"
	payload, err := json.Marshal(map[string]any{
		"id":              now.UnixNano() / int64(time.Millisecond),
		"gateway":         "Vietcombank",
		"transactionDate": now.Format("2006-01-02 15:04:05"),
		"accountNumber":   "0000000000",
		"content":         memo,
		"transferType":    "in",
		"transferAmount":  o.Amount.Round(0).IntPart(),
		"referenceCode":   fmt.Sprintf("FT%d", now.Unix()),
		"description":     memo,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(o.BaseURL, "/")+sepayPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Apikey "+o.APIKey)
	return req, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
