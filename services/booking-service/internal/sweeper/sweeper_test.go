package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	holds   []storage.ExpiredHold
	orders  storage.ExpiredOrders
	noShows []storage.Occurrence
	cutoff  time.Time
	err     error
}

func (f *fakeStore) ExpireHolds(context.Context, time.Time, int) ([]storage.ExpiredHold, error) {
	return f.holds, f.err
}

func (f *fakeStore) ExpireOrders(_ context.Context, cutoff time.Time, _ int) (storage.ExpiredOrders, error) {
	f.cutoff = cutoff
	return f.orders, f.err
}

func (f *fakeStore) MarkNoShows(context.Context, time.Time, int) ([]storage.Occurrence, error) {
	return f.noShows, f.err
}

type board struct {
	events   []string
	payloads []any
}

func (b *board) Publish(_ context.Context, event string, payload any) {
	b.events = append(b.events, event)
	b.payloads = append(b.payloads, payload)
}

func newSweeper(store *fakeStore, b *board) *Sweeper {
	s := New(store, b, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSweepHoldsAnnouncesBookingsAndPayments(t *testing.T) {
	store := &fakeStore{holds: []storage.ExpiredHold{
		{
			Booking: storage.Booking{ID: "b1", Payments: []storage.Payment{
				{ID: "PM-01032025-000001", Status: "Cancelled"},
				{ID: "PM-01032025-000003", Status: "Paid"},
			}},
			PaymentIDs: []string{"PM-01032025-000001"},
		},
		{Booking: storage.Booking{ID: "b2", Payments: []storage.Payment{{ID: "PM-01032025-000004", Status: "Paid"}}}},
	}}
	b := &board{}
	require.NoError(t, newSweeper(store, b).SweepHolds(context.Background()))
	assert.Equal(t, []string{"bookingExpired", "paymentsCancelled", "bookingExpired"}, b.events)
	// Only payments the sweep cancelled are announced, never paid ones.
	assert.Equal(t, map[string]any{"booking_id": "b1", "payment_ids": []string{"PM-01032025-000001"}}, b.payloads[1])
}

func TestSweepOrdersUsesTTLCutoff(t *testing.T) {
	store := &fakeStore{}
	b := &board{}
	s := newSweeper(store, b)

	require.NoError(t, s.SweepOrders(context.Background()))
	assert.Equal(t, time.Date(2025, 3, 1, 11, 55, 0, 0, time.UTC), store.cutoff)
	assert.Empty(t, b.events)

	store.orders = storage.ExpiredOrders{OrderIDs: []string{"o1"}, PaymentIDs: []string{"PM-01032025-000002"}}
	require.NoError(t, s.SweepOrders(context.Background()))
	assert.Equal(t, []string{"ordersExpired", "paymentsCancelled"}, b.events)
}

func TestSweepNoShows(t *testing.T) {
	store := &fakeStore{noShows: []storage.Occurrence{{ID: "o1"}, {ID: "o2"}}}
	b := &board{}
	require.NoError(t, newSweeper(store, b).SweepNoShows(context.Background()))
	assert.Equal(t, []string{"occurrenceNoShow", "occurrenceNoShow"}, b.events)
}

func TestSweepErrorsPropagate(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	b := &board{}
	s := newSweeper(store, b)
	assert.Error(t, s.SweepHolds(context.Background()))
	assert.Error(t, s.SweepOrders(context.Background()))
	assert.Error(t, s.SweepNoShows(context.Background()))
	assert.Empty(t, b.events)
}

func TestRunStopsWithContext(t *testing.T) {
	s := newSweeper(&fakeStore{}, &board{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
