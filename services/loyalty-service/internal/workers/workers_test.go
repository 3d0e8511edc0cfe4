package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	expired  []string
	next     time.Time
	pending  bool
	cutoff   time.Time
	err      error
	statusAt time.Time
}

func (f *fakeStore) RefreshStatuses(_ context.Context, now time.Time) (int64, int64, error) {
	f.statusAt = now
	return 1, 2, f.err
}

func (f *fakeStore) ExpirePayments(_ context.Context, cutoff time.Time, _ int) ([]string, error) {
	f.cutoff = cutoff
	return f.expired, f.err
}

func (f *fakeStore) NextPaymentExpiry(context.Context, time.Duration) (time.Time, bool, error) {
	return f.next, f.pending, nil
}

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newWorkers(store *fakeStore, cfg Config) *Workers {
	w := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	w.now = func() time.Time { return now }
	return w
}

func TestExpirePaymentsUsesHoldCutoff(t *testing.T) {
	store := &fakeStore{}
	w := newWorkers(store, Config{})
	sleep, err := w.ExpirePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-5*time.Minute), store.cutoff)
	assert.Equal(t, 30*time.Second, sleep, "idle when nothing is pending")
}

func TestExpirePaymentsSleepsUntilNextExpiry(t *testing.T) {
	store := &fakeStore{pending: true, next: now.Add(90 * time.Second)}
	w := newWorkers(store, Config{})
	sleep, err := w.ExpirePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, sleep)

	store.next = now.Add(10 * time.Minute)
	sleep, _ = w.ExpirePayments(context.Background())
	assert.Equal(t, 2*time.Minute, sleep)

	store.next = now.Add(-time.Second)
	sleep, _ = w.ExpirePayments(context.Background())
	assert.Equal(t, 250*time.Millisecond, sleep)
}

func TestExpirePaymentsFullBatchRunsAgainSoon(t *testing.T) {
	store := &fakeStore{expired: []string{"MP-1", "MP-2"}}
	w := newWorkers(store, Config{BatchSize: 2})
	sleep, err := w.ExpirePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, sleep)
}

func TestWorkerErrorsSurface(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	w := newWorkers(store, Config{})
	_, err := w.ExpirePayments(context.Background())
	assert.Error(t, err)
	assert.Error(t, w.RefreshStatuses(context.Background()))
	assert.Equal(t, now, store.statusAt)
}
