// Package retention prunes old audit entries once a day.
package retention

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Worker struct {
	store  Store
	logger *slog.Logger
	days   int
	every  time.Duration
	now    func() time.Time
}

// New returns a worker keeping days of history. days <= 0 disables pruning.
func New(store Store, logger *slog.Logger, days int, every time.Duration) *Worker {
	if every <= 0 {
		every = 24 * time.Hour
	}
	return &Worker{store: store, logger: logger, days: days, every: every, now: time.Now}
}

// Cutoff is the oldest creation time kept when keeping days of history.
func Cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

func (w *Worker) Run(ctx context.Context) {
	if w.days <= 0 {
		w.logger.Info("audit retention disabled")
		return
	}
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		if _, err := w.Tick(ctx); err != nil {
			w.logger.Error("audit retention failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) Tick(ctx context.Context) (int64, error) {
	n, err := w.store.DeleteOlderThan(ctx, Cutoff(w.now(), w.days))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("audit logs pruned", "deleted", n, "retention_days", w.days)
	}
	return n, nil
}
