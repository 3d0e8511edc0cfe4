package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/inventory-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderID = "5b0e7d3a-2c61-4f7e-9d2a-8e4c1f3b6a90"

type fakeStore struct {
	calls []string
	items []events.OrderItem
	err   error
}

func (f *fakeStore) RecordSale(_ context.Context, _ pgx.Tx, id string, items []events.OrderItem) (storage.SaleResult, error) {
	f.calls = append(f.calls, id)
	f.items = items
	return storage.SaleResult{Moved: len(items), Shortfalls: []storage.Shortfall{{ProductID: "p1", Missing: 2}}}, f.err
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: events.OrderPaid, Value: raw}
}

func TestOrderPaidRecordsSale(t *testing.T) {
	store := &fakeStore{}
	msg := message(t, events.OrderPaidPayload{
		OrderID: orderID,
		Items:   []events.OrderItem{{ProductID: "p1", Quantity: 3, UnitPrice: decimal.NewFromInt(10000)}},
	})
	require.NoError(t, OrderPaid(store, logger)(context.Background(), nil, msg))
	assert.Equal(t, []string{orderID}, store.calls)
	require.Len(t, store.items, 1)
	assert.Equal(t, 3, store.items[0].Quantity)
}

func TestOrderPaidSkipsMalformedAndEmpty(t *testing.T) {
	store := &fakeStore{}
	h := OrderPaid(store, logger)
	assert.NoError(t, h(context.Background(), nil, kafka.Message{Topic: events.OrderPaid, Value: []byte("{")}))
	assert.NoError(t, h(context.Background(), nil, message(t, events.OrderPaidPayload{OrderID: "not-a-uuid",
		Items: []events.OrderItem{{ProductID: "p1", Quantity: 1}}})))
	assert.NoError(t, h(context.Background(), nil, message(t, events.OrderPaidPayload{OrderID: orderID})))
	assert.Empty(t, store.calls)
}

func TestOrderPaidPropagatesStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	msg := message(t, events.OrderPaidPayload{OrderID: orderID, Items: []events.OrderItem{{ProductID: "p1", Quantity: 1}}})
	assert.Error(t, OrderPaid(store, logger)(context.Background(), nil, msg))
}
