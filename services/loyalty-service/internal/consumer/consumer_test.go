package consumer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	customers []events.CustomerUpsertedPayload
	orders    []events.OrderPaidPayload
	settled   []string
	failed    map[string]string
}

func (f *fakeStore) UpsertCustomer(_ context.Context, _ pgx.Tx, c events.CustomerUpsertedPayload) error {
	f.customers = append(f.customers, c)
	return nil
}

func (f *fakeStore) RecordOrder(_ context.Context, _ pgx.Tx, o events.OrderPaidPayload) (bool, error) {
	f.orders = append(f.orders, o)
	return true, nil
}

func (f *fakeStore) SettleFromProvider(_ context.Context, _ pgx.Tx, id string) (storage.Settlement, error) {
	if id == "MP-missing" {
		return storage.Settlement{}, storage.ErrPaymentNotFound
	}
	f.settled = append(f.settled, id)
	return storage.Settlement{}, nil
}

func (f *fakeStore) FailPayment(_ context.Context, _ pgx.Tx, id, reason string) (bool, error) {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = reason
	return true, nil
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(topic, value string) kafka.Message {
	return kafka.Message{Topic: topic, Value: []byte(value)}
}

func TestCustomerUpserted(t *testing.T) {
	store := &fakeStore{}
	fn := CustomerUpserted(store, logger)
	require.NoError(t, fn(context.Background(), nil, message(events.CustomerUpserted,
		`{"customer_id":"c1","full_name":"An","phone":"0901","email":"an@example.com","status":"Active"}`)))
	require.NoError(t, fn(context.Background(), nil, message(events.CustomerUpserted, `{broken`)))
	require.Len(t, store.customers, 1)
	assert.Equal(t, "An", store.customers[0].FullName)
}

func TestOrderPaidForwardsVoucher(t *testing.T) {
	store := &fakeStore{}
	fn := OrderPaid(store, logger)
	require.NoError(t, fn(context.Background(), nil, message(events.OrderPaid,
		`{"order_id":"o1","customer_id":"c1","voucher_id":"v1","discount_amount":"15000","total_amount":"85000"}`)))
	require.NoError(t, fn(context.Background(), nil, message(events.OrderPaid, `{"order_id":"","customer_id":"c1"}`)))
	require.Len(t, store.orders, 1)
	assert.Equal(t, "v1", store.orders[0].VoucherID)
	assert.Equal(t, "15000", store.orders[0].DiscountAmount.String())
}

func TestBillingResultsOnlyTouchMemberships(t *testing.T) {
	store := &fakeStore{}
	ok := BillingSucceeded(store, logger)
	fail := BillingFailed(store, logger)

	require.NoError(t, ok(context.Background(), nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"PM-01072025-000001","kind":"booking"}`)))
	require.NoError(t, ok(context.Background(), nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"MP-01072025-000001","kind":"membership"}`)))
	require.NoError(t, ok(context.Background(), nil, message(events.BillingPaymentSucceeded, `{"payment_ref":"MP-missing","kind":"membership"}`)))
	assert.Equal(t, []string{"MP-01072025-000001"}, store.settled)

	require.NoError(t, fail(context.Background(), nil, message(events.BillingPaymentFailed, `{"payment_ref":"MP-01072025-000002","kind":"membership"}`)))
	assert.Equal(t, "card payment failed", store.failed["MP-01072025-000002"])
}
