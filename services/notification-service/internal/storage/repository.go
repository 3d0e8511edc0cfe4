// Package storage keeps the notification log. Every recorded notification is
// announced on Kafka through the outbox in the same transaction.
package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Notification struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider,omitempty"`
	Error     string    `json:"error,omitempty"`
	BookingID string    `json:"booking_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Delivered reports whether eventID already produced a notification on
// channel.
func (r *Repository) Delivered(ctx context.Context, tx pgx.Tx, eventID, channel string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE event_id = $1 AND channel = $2)
	`, eventID, channel).Scan(&exists)
	return exists, err
}

func (r *Repository) Record(ctx context.Context, tx pgx.Tx, n Notification) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, channel, recipient, subject, body, status, provider, error, booking_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id, channel) DO NOTHING
	`, n.EventID, n.EventType, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.Provider, n.Error, n.BookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	eventType := events.NotificationSent
	if n.Status == StatusFailed {
		eventType = events.NotificationFailed
	}
	return outbox.EnqueueJSON(ctx, tx, "notification", n.EventID, eventType, events.NotificationPayload{
		SourceEventID: n.EventID,
		Channel:       n.Channel,
		Recipient:     n.Recipient,
		Status:        n.Status,
		Error:         n.Error,
	})
}

type Filter struct {
	Recipient string
	Status    string
	BookingID string
	Limit     int
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Notification, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Recipient != "" {
		add("recipient = ?", f.Recipient)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.BookingID != "" {
		add("booking_id = ?", f.BookingID)
	}
	sql := `SELECT id, event_id, event_type, channel, recipient, subject, body, status, provider, error, booking_id, created_at
		FROM notifications`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	sql += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.EventType, &n.Channel, &n.Recipient, &n.Subject, &n.Body,
			&n.Status, &n.Provider, &n.Error, &n.BookingID, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
