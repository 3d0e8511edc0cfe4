// Package pricewatch re-publishes product prices when a price table starts
// or stops applying. Table edits publish immediately; this loop catches the
// changes that only the passage of time causes.
package pricewatch

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	RefreshPrices(ctx context.Context, at time.Time) (int, error)
}

type Watcher struct {
	store  Store
	logger *slog.Logger
	every  time.Duration
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, every time.Duration) *Watcher {
	if every <= 0 {
		every = time.Minute
	}
	return &Watcher{store: store, logger: logger, every: every, now: time.Now}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("price refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one refresh and returns how many products changed price.
func (w *Watcher) Tick(ctx context.Context) (int, error) {
	n, err := w.store.RefreshPrices(ctx, w.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("effective prices changed", "products", n)
	}
	return n, nil
}
