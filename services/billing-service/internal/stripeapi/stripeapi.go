// Package stripeapi wraps the Stripe Checkout calls billing-service makes.
package stripeapi

import (
	"context"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

// Metadata keys set on every session.
const (
	MetaPaymentRef = "payment_ref"
	MetaKind       = "kind"
)

// Session is the part of a Stripe checkout session billing cares about.
type Session struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	PaymentRef    string
	Kind          string
	AmountTotal   int64
	Currency      string
}

// Paid reports whether the customer completed and paid the session.
func (s Session) Paid() bool {
	return s.Status == string(stripe.CheckoutSessionStatusComplete) &&
		s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

func (s Session) Expired() bool {
	return s.Status == string(stripe.CheckoutSessionStatusExpired)
}

type SessionRequest struct {
	PaymentRef     string
	Kind           string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
}

// Client talks to Stripe with its own key instead of the package-global one.
type Client struct {
	sessions checkoutsession.Client
}

// New returns nil when key is empty so callers can treat card payments as
// not configured.
func New(key string) *Client {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return &Client{sessions: checkoutsession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}}
}

func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = "vnd"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.PaymentRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(MinorUnits(req.Amount, currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			MetaPaymentRef: req.PaymentRef,
			MetaKind:       req.Kind,
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				MetaPaymentRef: req.PaymentRef,
				MetaKind:       req.Kind,
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := c.sessions.New(params)
	if err != nil {
		return Session{}, apperr.Unavailable("stripe: %v", err)
	}
	return FromStripe(sess), nil
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := c.sessions.Get(id, params)
	if err != nil {
		return Session{}, err
	}
	return FromStripe(sess), nil
}

func FromStripe(s *stripe.CheckoutSession) Session {
	return Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		PaymentRef:    s.Metadata[MetaPaymentRef],
		Kind:          s.Metadata[MetaKind],
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
	}
}

// Stripe amounts are integers in the currency's smallest unit; these
// currencies have none below the main unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts amount to Stripe's integer representation.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(v int64, currency string) decimal.Decimal {
	if zeroDecimal[strings.ToLower(currency)] {
		return decimal.NewFromInt(v)
	}
	return decimal.New(v, -2)
}
