package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	cutoff time.Time
}

func (f *fakeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestTickDeletesBeforeCutoff(t *testing.T) {
	store := &fakeStore{}
	w := New(store, logger, 90, 0)
	w.now = func() time.Time { return time.Date(2025, 10, 6, 3, 0, 0, 0, time.UTC) }

	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, time.Date(2025, 7, 8, 3, 0, 0, 0, time.UTC), store.cutoff)
	assert.Equal(t, 24*time.Hour, w.every)
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	store := &fakeStore{}
	New(store, logger, 0, time.Millisecond).Run(context.Background())
	assert.True(t, store.cutoff.IsZero())
}

func TestRunStopsWithContext(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New(store, logger, 30, time.Hour).Run(ctx)
	// The first pass runs before the context is checked.
	assert.False(t, store.cutoff.IsZero())
}
