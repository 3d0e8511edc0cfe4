// Package storage persists the audit trail and the operational records kept
// next to it.
package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/logs"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = apperr.NotFound("audit log not found")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func jsonOrNull(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Insert stores one change. Replays of the same event are ignored.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, eventID string, p audit.Payload) error {
	oldValues, err := jsonOrNull(p.OldValues)
	if err != nil {
		return err
	}
	newValues, err := jsonOrNull(p.NewValues)
	if err != nil {
		return err
	}
	cols := p.ChangedColumns
	if cols == nil {
		cols = []string{}
	}
	at := p.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (event_id, service, table_name, entity_id, action, user_id, user_name, ip_address,
			changed_columns, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, p.Service, p.TableName, p.EntityID, p.Action, p.UserID, p.UserName, p.IPAddress,
		cols, oldValues, newValues, at)
	return err
}

const entryColumns = `id, service, table_name, entity_id, action, user_id, user_name, ip_address, changed_columns,
	old_values, new_values, created_at`

func scanEntry(row pgx.Row) (logs.Entry, error) {
	var e logs.Entry
	err := row.Scan(&e.ID, &e.Service, &e.TableName, &e.EntityID, &e.Action, &e.UserID, &e.UserName, &e.IPAddress,
		&e.ChangedColumns, &e.OldValues, &e.NewValues, &e.CreatedAt)
	return e, err
}

// where renders q as a WHERE clause with numbered placeholders.
func where(q logs.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if q.Table != "" {
		add("table_name = ?", q.Table)
	}
	if q.Action != "" {
		add("action = ?", q.Action)
	}
	if q.UserID != "" {
		add("user_id = ?", q.UserID)
	}
	if q.EntityID != "" {
		add("entity_id = ?", q.EntityID)
	}
	if q.From != nil {
		add("created_at >= ?", *q.From)
	}
	if q.To != nil {
		add("created_at <= ?", *q.To)
	}
	if q.Keyword != "" {
		add(`(table_name ILIKE ? OR entity_id ILIKE ? OR user_name ILIKE ?
			OR old_values::text ILIKE ? OR new_values::text ILIKE ?)`, "%"+q.Keyword+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) Search(ctx context.Context, q logs.Query) (logs.Page, error) {
	clause, args := where(q)
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+clause, args...).Scan(&total); err != nil {
		return logs.Page{}, err
	}
	n := len(args)
	args = append(args, q.PageSize, q.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_logs`+clause+
		` ORDER BY created_at DESC, id DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return logs.Page{}, err
	}
	defer rows.Close()
	var items []logs.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return logs.Page{}, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return logs.Page{}, err
	}
	return logs.NewPage(items, q, total), nil
}

func (r *Repository) Get(ctx context.Context, id int64) (logs.Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_logs WHERE id = $1`, id))
	if db.IsNotFound(err) {
		return logs.Entry{}, ErrNotFound
	}
	return e, err
}

// DeleteOlderThan removes entries created before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) InsertSecurity(ctx context.Context, tx pgx.Tx, eventID string, p events.SecurityAuditPayload) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}
	if p.Metadata == nil {
		metadata = []byte("{}")
	}
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO security_audit_events (event_id, event_type, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, p.EventType, p.ActorID, metadata, at)
	return err
}

func (r *Repository) ListSecurity(ctx context.Context, eventType, actorID string, limit int) ([]logs.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, actor_id, metadata, created_at
		FROM security_audit_events
		WHERE ($1 = '' OR event_type = $1) AND ($2 = '' OR actor_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, eventType, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []logs.SecurityEvent
	for rows.Next() {
		var e logs.SecurityEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.ActorID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) InsertReminderFailure(ctx context.Context, tx pgx.Tx, p events.ReminderDuePayload) error {
	var startAt *time.Time
	if !p.StartAt.IsZero() {
		startAt = &p.StartAt
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO reminder_failures (job_id, booking_id, occurrence_id, customer_email, customer_phone, start_at,
			attempts, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.JobID, p.BookingID, p.OccurrenceID, p.CustomerEmail, p.CustomerPhone, startAt, p.Attempts, p.LastError)
	return err
}

func (r *Repository) ListReminderFailures(ctx context.Context, limit int) ([]logs.ReminderFailure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, booking_id, occurrence_id, customer_email, customer_phone, start_at, attempts,
			error_reason, failed_at
		FROM reminder_failures
		ORDER BY failed_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []logs.ReminderFailure
	for rows.Next() {
		var f logs.ReminderFailure
		if err := rows.Scan(&f.ID, &f.JobID, &f.BookingID, &f.OccurrenceID, &f.CustomerEmail, &f.CustomerPhone,
			&f.StartAt, &f.Attempts, &f.ErrorReason, &f.FailedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// BumpNotification adds to the day's delivery counters for channel.
func (r *Repository) BumpNotification(ctx context.Context, tx pgx.Tx, day dates.Date, channel string, sent, failed int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_notification_metrics (day, channel, sent_count, failed_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (day, channel)
		DO UPDATE SET sent_count = daily_notification_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_notification_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, day, channel, sent, failed)
	return err
}

func (r *Repository) ChannelStats(ctx context.Context, from, to dates.Date) ([]logs.ChannelStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day, channel, sent_count, failed_count
		FROM daily_notification_metrics
		WHERE day BETWEEN $1 AND $2
		ORDER BY day, channel
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []logs.ChannelStat
	for rows.Next() {
		var (
			s   logs.ChannelStat
			day dates.Date
		)
		if err := rows.Scan(&day, &s.Channel, &s.Sent, &s.Failed); err != nil {
			return nil, err
		}
		s.Day = day.String()
		out = append(out, s)
	}
	return out, rows.Err()
}
