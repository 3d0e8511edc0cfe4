// Package reconcile settles checkout sessions whose webhook never arrived by
// asking Stripe for their current state.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/jackc/pgx/v5"
)

type Store interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	StaleOpenSessions(ctx context.Context, cutoff time.Time, limit int) ([]storage.CheckoutSession, error)
}

type Settler interface {
	Apply(ctx context.Context, tx pgx.Tx, res settlement.Result) (bool, error)
}

// Locker elects one reconciling instance per pass.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type Reconciler struct {
	store   Store
	gateway stripeapi.Gateway
	settler Settler
	lock    Locker
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

func New(store Store, gateway stripeapi.Gateway, settler Settler, lock Locker, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{store: store, gateway: gateway, settler: settler, lock: lock, logger: logger, cfg: cfg, now: time.Now}
}

// Run reconciles immediately and then every Interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	if r.gateway == nil {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	release, ok, err := r.lock.TryLock(ctx)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
		return
	}
	if !ok {
		r.logger.Debug("stripe reconcile: lock held by another instance")
		return
	}
	defer release()
	if n, err := r.ReconcileOnce(ctx); err != nil {
		r.logger.Error("stripe reconcile failed", "err", err)
	} else if n > 0 {
		r.logger.Info("stripe reconcile settled sessions", "count", n)
	}
}

// ReconcileOnce checks one batch of stale open sessions and returns how many
// of them produced a settlement.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	sessions, err := r.store.StaleOpenSessions(ctx, now.Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		remote, err := r.gateway.GetSession(ctx, s.StripeSessionID)
		if err != nil {
			r.logger.Warn("stripe reconcile: failed to fetch session", "err", err, "session_id", s.StripeSessionID, "payment_ref", s.PaymentRef)
			continue
		}
		res := settlement.Result{
			SessionID:       s.StripeSessionID,
			PaymentRef:      s.PaymentRef,
			Kind:            s.Kind,
			Amount:          s.Amount,
			ProviderEventID: "reconcile:" + s.StripeSessionID,
			At:              now,
		}
		switch {
		case remote.Paid():
			res.Succeeded = true
		case remote.Expired():
			res.Reason = "checkout session expired"
		default:
			continue
		}
		var changed bool
		err = r.store.InTx(ctx, func(tx pgx.Tx) error {
			var err error
			changed, err = r.settler.Apply(ctx, tx, res)
			return err
		})
		if err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "session_id", s.StripeSessionID, "payment_ref", s.PaymentRef)
			continue
		}
		if changed {
			settled++
		}
	}
	return settled, nil
}

// PoolLocker holds a session-level advisory lock on a dedicated connection
// for the duration of a pass.
type PoolLocker struct {
	pool *db.Pool
	key  int64
}

func NewPoolLocker(pool *db.Pool, key int64) *PoolLocker {
	if key == 0 {
		key = 4242001
	}
	return &PoolLocker{pool: pool, key: key}
}

func (l *PoolLocker) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, l.key)
		conn.Release()
	}, true, nil
}
