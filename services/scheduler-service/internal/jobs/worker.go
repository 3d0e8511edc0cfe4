package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const aggregateType = "reminder_job"

type Store interface {
	FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error
}

// enqueueFunc writes one event for job inside tx.
type enqueueFunc func(ctx context.Context, tx pgx.Tx, eventType string, job Job) error

type Worker struct {
	pool      *db.Pool
	store     Store
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	enqueue   enqueueFunc
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, store Store, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		store:     store,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		enqueue:   enqueueOutbox,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pool.InTx(ctx, func(tx pgx.Tx) error { return w.processBatch(ctx, tx) }); err != nil {
				w.logger.Error("scheduler batch failed", "err", err)
			}
		}
	}
}

// enqueueOutbox writes the event under a savepoint so one failed insert does
// not abort the batch transaction.
func enqueueOutbox(ctx context.Context, tx pgx.Tx, eventType string, job Job) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := outbox.EnqueueJSON(ctx, sp, aggregateType, job.BookingID, eventType, job.Due()); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (w *Worker) processBatch(ctx context.Context, tx pgx.Tx) error {
	jobs, err := w.store.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	var ids []int64
	for _, job := range jobs {
		jobCtx := otelx.TraceContext{Parent: job.Traceparent, State: job.Tracestate}.Resume(ctx)
		err := w.enqueue(jobCtx, tx, events.ReminderDue, job)
		if err == nil {
			ids = append(ids, job.ID)
			continue
		}
		if err := w.fail(jobCtx, tx, job, err); err != nil {
			return err
		}
	}
	if err := w.store.MarkProcessed(ctx, tx, ids); err != nil {
		return err
	}
	if len(ids) > 0 {
		w.logger.Info("reminders due", "count", len(ids))
	}
	return nil
}

// fail records a failed attempt. Retries back off linearly; the last attempt
// parks the job and reports it on the dead letter topic.
func (w *Worker) fail(ctx context.Context, tx pgx.Tx, job Job, cause error) error {
	job.Attempts++
	job.LastError = cause.Error()
	nextRunAt := w.now().UTC().Add(time.Duration(job.Attempts) * w.backoff)
	if err := w.store.MarkFailed(ctx, tx, job.ID, job.Attempts, job.MaxAttempts, nextRunAt, job.LastError); err != nil {
		return err
	}
	if job.Attempts < job.MaxAttempts {
		w.logger.Warn("reminder enqueue failed; will retry", "job_id", job.ID, "attempts", job.Attempts, "err", cause)
		return nil
	}
	w.logger.Error("reminder gave up", "job_id", job.ID, "booking_id", job.BookingID, "err", cause)
	return w.enqueue(ctx, tx, events.ReminderDLQ, job)
}
