// Package workers keeps running payrolls in step with attendance and opens
// last month's payroll on the first day of each month.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/staffing"
	"github.com/hoaht-8203/courtops/services/staff-service/internal/storage"
)

type Store interface {
	RefreshOpenPayrolls(ctx context.Context) (int, error)
	EnsurePayroll(ctx context.Context, in storage.NewPayroll) (bool, error)
}

type Config struct {
	RefreshEvery time.Duration
	// AutoMonthly creates the previous month's payroll on the 1st.
	AutoMonthly bool
}

type Workers struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, cfg Config) *Workers {
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = time.Hour
	}
	return &Workers{store: store, logger: logger, cfg: cfg, now: dates.Now}
}

func (w *Workers) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("payroll maintenance failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick opens the monthly payroll when due, then refreshes every payroll
// whose period is still running.
func (w *Workers) Tick(ctx context.Context) error {
	today := dates.DateOf(w.now().In(dates.Location()))
	if w.cfg.AutoMonthly && today.Time().Day() == 1 {
		start, end := staffing.PreviousMonth(today)
		created, err := w.store.EnsurePayroll(ctx, storage.NewPayroll{
			StartDate: start,
			EndDate:   end,
			Note:      "Created automatically",
		})
		if err != nil {
			return err
		}
		if created {
			w.logger.Info("monthly payroll created", "start", start.String(), "end", end.String())
		}
	}
	n, err := w.store.RefreshOpenPayrolls(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Debug("open payrolls refreshed", "count", n)
	}
	return nil
}
