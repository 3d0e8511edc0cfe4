package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	linked   []string
	settled  []string
	failed   map[string]string
	products []string
	missing  bool
}

func (r *recorder) LinkAccount(_ context.Context, _ pgx.Tx, u events.UserRegisteredPayload) (storage.Customer, bool, error) {
	r.linked = append(r.linked, u.UserID)
	return storage.Customer{ID: "c1"}, true, nil
}

func (r *recorder) SettleFromProvider(_ context.Context, _ pgx.Tx, id string) (storage.Settlement, error) {
	if r.missing {
		return storage.Settlement{}, storage.ErrPaymentNotFound
	}
	r.settled = append(r.settled, id)
	return storage.Settlement{
		Payment: storage.Payment{ID: id},
		Booking: &storage.Booking{ID: "b1"},
		Changed: true,
	}, nil
}

func (r *recorder) FailPayment(_ context.Context, _ pgx.Tx, id, reason string) (storage.Payment, bool, error) {
	if r.failed == nil {
		r.failed = map[string]string{}
	}
	r.failed[id] = reason
	return storage.Payment{ID: id}, true, nil
}

func (r *recorder) UpsertProduct(_ context.Context, _ pgx.Tx, p events.ProductPricePayload) error {
	r.products = append(r.products, p.ProductID)
	return nil
}

type board struct{ events []string }

func (b *board) Publish(_ context.Context, event string, _ any) { b.events = append(b.events, event) }

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(topic, value string) kafka.Message {
	return kafka.Message{Topic: topic, Value: []byte(value)}
}

func TestUserRegisteredLinksCustomersOnly(t *testing.T) {
	rec := &recorder{}
	h := UserRegistered(rec, logger)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, message(events.UserRegistered, `{"user_id":"u1","email":"a@b.vn","role":"Customer"}`)))
	require.NoError(t, h(ctx, nil, message(events.UserRegistered, `{"user_id":"u2","role":"Staff"}`)))
	require.NoError(t, h(ctx, nil, message(events.UserRegistered, `{`)))

	assert.Equal(t, []string{"u1"}, rec.linked)
}

func TestPaymentSucceededSettlesBookingAndOrderKinds(t *testing.T) {
	rec := &recorder{}
	b := &board{}
	h := PaymentSucceeded(rec, b, logger)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"PM-01032025-000001","kind":"booking"}`)))
	require.NoError(t, h(ctx, nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"PM-01032025-000002","kind":"order"}`)))
	require.NoError(t, h(ctx, nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"MP-1","kind":"membership"}`)))

	assert.Equal(t, []string{"PM-01032025-000001", "PM-01032025-000002"}, rec.settled)
	assert.Equal(t, []string{"paymentUpdated", "bookingUpdated", "paymentUpdated", "bookingUpdated"}, b.events)
}

func TestPaymentSucceededForUnknownPaymentIsDropped(t *testing.T) {
	rec := &recorder{missing: true}
	b := &board{}
	err := PaymentSucceeded(rec, b, logger)(context.Background(), nil,
		message(events.BillingPaymentSucceeded, `{"payment_ref":"PM-x","kind":"booking"}`))
	assert.NoError(t, err)
	assert.Empty(t, b.events)
}

func TestPaymentFailedDefaultsReason(t *testing.T) {
	rec := &recorder{}
	b := &board{}
	h := PaymentFailed(rec, b, logger)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, message(events.BillingPaymentFailed, `{"payment_ref":"PM-1","kind":"booking"}`)))
	require.NoError(t, h(ctx, nil, message(events.BillingPaymentFailed, `{"payment_ref":"PM-2","kind":"order","reason":"card_declined"}`)))

	assert.Equal(t, map[string]string{"PM-1": "declined", "PM-2": "card_declined"}, rec.failed)
	assert.Equal(t, []string{"paymentUpdated", "paymentUpdated"}, b.events)
}

func TestProductChangedUpsertsCatalogue(t *testing.T) {
	rec := &recorder{}
	h := ProductChanged(rec, logger)
	ctx := context.Background()

	require.NoError(t, h(ctx, nil, message(events.ProductPriceChanged, `{"product_id":"p1","name":"Water","unit_price":"10000","is_active":true}`)))
	require.NoError(t, h(ctx, nil, message(events.ProductPriceChanged, `{"name":"orphan"}`)))

	assert.Equal(t, []string{"p1"}, rec.products)
}
