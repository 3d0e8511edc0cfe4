package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	payables []storage.Payable
}

func (r *recorder) UpsertPayable(_ context.Context, _ pgx.Tx, p storage.Payable) error {
	r.payables = append(r.payables, p)
	return nil
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPaymentCreatedRecordsPayable(t *testing.T) {
	rec := &recorder{}
	fn := PaymentCreated(rec, logger)

	msg := kafka.Message{Topic: events.PaymentCreated, Value: []byte(`{
		"payment_id": "PM-01032025-000001",
		"kind": "booking",
		"reference_id": "b1",
		"customer_id": "c1",
		"customer_email": "an@example.com",
		"amount": "54000",
		"currency": "VND",
		"description": "Court A deposit"
	}`)}
	require.NoError(t, fn(context.Background(), nil, msg))
	require.Len(t, rec.payables, 1)
	p := rec.payables[0]
	assert.Equal(t, "booking", p.Kind)
	assert.Equal(t, "vnd", p.Currency)
	assert.Equal(t, "54000", p.Amount.String())
	assert.Equal(t, "b1", p.ReferenceID)
}

func TestPaymentCreatedSkipsUnusable(t *testing.T) {
	rec := &recorder{}
	fn := PaymentCreated(rec, logger)

	for _, raw := range []string{
		`not json`,
		`{"payment_id":"PM-1","kind":"membership","amount":"10"}`,
		`{"payment_id":"","kind":"order","amount":"10"}`,
		`{"payment_id":"PM-2","kind":"order","amount":"0"}`,
	} {
		require.NoError(t, fn(context.Background(), nil, kafka.Message{Topic: events.PaymentCreated, Value: []byte(raw)}))
	}
	assert.Empty(t, rec.payables)
}

func TestMembershipPaymentCreated(t *testing.T) {
	rec := &recorder{}
	fn := MembershipPaymentCreated(rec, logger)

	msg := kafka.Message{Topic: events.MembershipPaymentCreated, Value: []byte(`{
		"payment_id": "PM-02032025-000004",
		"user_membership_id": "um1",
		"customer_id": "c1",
		"amount": "500000"
	}`)}
	require.NoError(t, fn(context.Background(), nil, msg))
	require.Len(t, rec.payables, 1)
	assert.Equal(t, events.KindMembership, rec.payables[0].Kind)
	assert.Equal(t, "um1", rec.payables[0].ReferenceID)
	assert.Equal(t, "vnd", rec.payables[0].Currency)
}
