// Package workers keeps membership activity flags current and lets unpaid
// membership purchases lapse.
package workers

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	RefreshStatuses(ctx context.Context, now time.Time) (activated, deactivated int64, err error)
	ExpirePayments(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	NextPaymentExpiry(ctx context.Context, hold time.Duration) (time.Time, bool, error)
}

type Config struct {
	StatusEvery time.Duration
	// Hold is how long a bank or card purchase may stay unpaid.
	Hold      time.Duration
	BatchSize int

	MinSleep   time.Duration
	MaxSleep   time.Duration
	IdleSleep  time.Duration
	ErrorSleep time.Duration
}

type Workers struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, cfg Config) *Workers {
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = time.Minute
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = 250 * time.Millisecond
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 2 * time.Minute
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 30 * time.Second
	}
	if cfg.ErrorSleep <= 0 {
		cfg.ErrorSleep = 5 * time.Second
	}
	return &Workers{store: store, logger: logger, cfg: cfg, now: time.Now}
}

// Run starts both loops and blocks until ctx is cancelled.
func (w *Workers) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.statusLoop(ctx)
	}()
	w.expiryLoop(ctx)
	<-done
}

func (w *Workers) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StatusEvery)
	defer ticker.Stop()
	for {
		if err := w.RefreshStatuses(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("membership status refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Workers) RefreshStatuses(ctx context.Context) error {
	activated, deactivated, err := w.store.RefreshStatuses(ctx, w.now())
	if err != nil {
		return err
	}
	if activated > 0 || deactivated > 0 {
		w.logger.Info("membership statuses refreshed", "activated", activated, "deactivated", deactivated)
	}
	return nil
}

func (w *Workers) expiryLoop(ctx context.Context) {
	for {
		sleep, err := w.ExpirePayments(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("membership payment expiry failed", "err", err)
			sleep = w.cfg.ErrorSleep
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ExpirePayments cancels lapsed payments and returns how long to wait before
// the next one is due.
func (w *Workers) ExpirePayments(ctx context.Context) (time.Duration, error) {
	now := w.now()
	ids, err := w.store.ExpirePayments(ctx, now.Add(-w.cfg.Hold), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		w.logger.Info("membership payments expired", "count", len(ids))
	}
	if len(ids) >= w.cfg.BatchSize {
		return w.cfg.MinSleep, nil
	}
	next, ok, err := w.store.NextPaymentExpiry(ctx, w.cfg.Hold)
	if err != nil {
		return 0, err
	}
	if !ok {
		return w.cfg.IdleSleep, nil
	}
	return w.clamp(next.Sub(now)), nil
}

func (w *Workers) clamp(d time.Duration) time.Duration {
	switch {
	case d < w.cfg.MinSleep:
		return w.cfg.MinSleep
	case d > w.cfg.MaxSleep:
		return w.cfg.MaxSleep
	}
	return d
}
