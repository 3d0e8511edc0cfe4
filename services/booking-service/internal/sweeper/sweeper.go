// Package sweeper runs the periodic booking clean-ups: expired payment
// holds, abandoned checkouts and missed sessions.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
)

type Store interface {
	ExpireHolds(ctx context.Context, now time.Time, limit int) ([]storage.ExpiredHold, error)
	ExpireOrders(ctx context.Context, cutoff time.Time, limit int) (storage.ExpiredOrders, error)
	MarkNoShows(ctx context.Context, now time.Time, limit int) ([]storage.Occurrence, error)
}

type Config struct {
	HoldEvery   time.Duration
	OrderEvery  time.Duration
	NoShowEvery time.Duration

	// OrderTTL is how long a checkout may stay Pending.
	OrderTTL  time.Duration
	BatchSize int
}

type Sweeper struct {
	store  Store
	board  realtime.Publisher
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(store Store, board realtime.Publisher, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.HoldEvery <= 0 {
		cfg.HoldEvery = time.Minute
	}
	if cfg.OrderEvery <= 0 {
		cfg.OrderEvery = 30 * time.Second
	}
	if cfg.NoShowEvery <= 0 {
		cfg.NoShowEvery = time.Minute
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{store: store, board: board, logger: logger, cfg: cfg, now: dates.Now}
}

// Run starts the three loops and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	done := make(chan struct{}, 3)
	loops := []struct {
		every time.Duration
		fn    func(context.Context) error
		name  string
	}{
		{s.cfg.HoldEvery, s.SweepHolds, "holds"},
		{s.cfg.OrderEvery, s.SweepOrders, "orders"},
		{s.cfg.NoShowEvery, s.SweepNoShows, "no-shows"},
	}
	for _, l := range loops {
		go func() {
			defer func() { done <- struct{}{} }()
			s.loop(ctx, l.name, l.every, l.fn)
		}()
	}
	for range loops {
		<-done
	}
}

func (s *Sweeper) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.logger.Error("sweep failed", "sweep", name, "err", err)
			}
		}
	}
}

func (s *Sweeper) SweepHolds(ctx context.Context) error {
	expired, err := s.store.ExpireHolds(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, h := range expired {
		s.board.Publish(ctx, realtime.BookingExpired, h.Booking)
		if len(h.PaymentIDs) > 0 {
			s.board.Publish(ctx, realtime.PaymentsCancelled, map[string]any{"booking_id": h.Booking.ID, "payment_ids": h.PaymentIDs})
		}
	}
	if len(expired) > 0 {
		s.logger.Info("payment holds expired", "count", len(expired))
	}
	return nil
}

func (s *Sweeper) SweepOrders(ctx context.Context) error {
	res, err := s.store.ExpireOrders(ctx, s.now().Add(-s.cfg.OrderTTL), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(res.OrderIDs) == 0 {
		return nil
	}
	s.board.Publish(ctx, realtime.OrdersExpired, map[string]any{"order_ids": res.OrderIDs})
	if len(res.PaymentIDs) > 0 {
		s.board.Publish(ctx, realtime.PaymentsCancelled, map[string]any{"payment_ids": res.PaymentIDs})
	}
	s.logger.Info("pending checkouts expired", "count", len(res.OrderIDs))
	return nil
}

func (s *Sweeper) SweepNoShows(ctx context.Context) error {
	missed, err := s.store.MarkNoShows(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, o := range missed {
		s.board.Publish(ctx, realtime.OccurrenceNoShow, o)
	}
	if len(missed) > 0 {
		s.logger.Info("occurrences marked no-show", "count", len(missed))
	}
	return nil
}
