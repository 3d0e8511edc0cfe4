package pricewatch

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
	at  []time.Time
	n   int
	err error
}

func (f *fakeStore) RefreshPrices(_ context.Context, at time.Time) (int, error) {
	f.at = append(f.at, at)
	return f.n, f.err
}

func TestTickUsesClock(t *testing.T) {
	store := &fakeStore{n: 2}
	w := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	now := time.Date(2025, 10, 2, 17, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []time.Time{now}, store.at)
	assert.Equal(t, time.Minute, w.every)
}

func TestTickReturnsStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("boom")}
	w := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)
	_, err := w.Tick(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	w := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.NotEmpty(t, store.at)
}
