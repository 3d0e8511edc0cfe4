package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/audit"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bump struct {
	day          dates.Date
	channel      string
	sent, failed int
}

type fakeStore struct {
	changes  map[string]audit.Payload
	security []events.SecurityAuditPayload
	failures []events.ReminderDuePayload
	bumps    []bump
}

func (f *fakeStore) Insert(_ context.Context, _ pgx.Tx, eventID string, p audit.Payload) error {
	if f.changes == nil {
		f.changes = map[string]audit.Payload{}
	}
	f.changes[eventID] = p
	return nil
}

func (f *fakeStore) InsertSecurity(_ context.Context, _ pgx.Tx, _ string, p events.SecurityAuditPayload) error {
	f.security = append(f.security, p)
	return nil
}

func (f *fakeStore) InsertReminderFailure(_ context.Context, _ pgx.Tx, p events.ReminderDuePayload) error {
	f.failures = append(f.failures, p)
	return nil
}

func (f *fakeStore) BumpNotification(_ context.Context, _ pgx.Tx, day dates.Date, channel string, sent, failed int) error {
	f.bumps = append(f.bumps, bump{day, channel, sent, failed})
	return nil
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(t *testing.T, topic string, v any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Value: raw, Headers: []kafka.Header{{Key: "event_id", Value: []byte("evt-9")}}}
}

func TestChangeStoresPayload(t *testing.T) {
	store := &fakeStore{}
	h := Change(store, logger)
	require.NoError(t, h(context.Background(), nil, message(t, audit.EventType, audit.Payload{
		Service: "court-service", TableName: "courts", EntityID: "c1", Action: audit.ActionUpdate,
		ChangedColumns: []string{"name"}, OldValues: map[string]any{"name": "A"}, NewValues: map[string]any{"name": "B"},
	})))
	require.Contains(t, store.changes, "evt-9")
	assert.Equal(t, "courts", store.changes["evt-9"].TableName)
	assert.Equal(t, []string{"name"}, store.changes["evt-9"].ChangedColumns)
}

func TestChangeSkipsInvalid(t *testing.T) {
	store := &fakeStore{}
	h := Change(store, logger)
	require.NoError(t, h(context.Background(), nil, message(t, audit.EventType, audit.Payload{TableName: "courts", EntityID: "c1", Action: "Merge"})))
	require.NoError(t, h(context.Background(), nil, kafka.Message{Topic: audit.EventType, Value: []byte("[")}))
	assert.Empty(t, store.changes)
}

func TestSecurityAndDeadLetters(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, Security(store, logger)(context.Background(), nil, message(t, events.SecurityAudit,
		events.SecurityAuditPayload{EventType: "login_failed", Metadata: map[string]any{"email": "a@b"}})))
	require.NoError(t, ReminderDeadLetter(store, logger)(context.Background(), nil, message(t, events.ReminderDLQ,
		events.ReminderDuePayload{JobID: "7", BookingID: "b1", Attempts: 5, LastError: "outbox down"})))
	require.Len(t, store.security, 1)
	assert.Equal(t, "login_failed", store.security[0].EventType)
	require.Len(t, store.failures, 1)
	assert.Equal(t, 5, store.failures[0].Attempts)
}

func TestNotificationCountsByVenueDay(t *testing.T) {
	store := &fakeStore{}
	h := Notification(store, logger)
	sent := message(t, events.NotificationSent, events.NotificationPayload{Channel: "email", Status: "sent"})
	// 18:30 UTC is already the next day in the venue.
	sent.Time = time.Date(2025, 10, 5, 18, 30, 0, 0, time.UTC)
	failed := message(t, events.NotificationFailed, events.NotificationPayload{Channel: "sms", Status: "failed"})
	failed.Time = time.Date(2025, 10, 5, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h(context.Background(), nil, sent))
	require.NoError(t, h(context.Background(), nil, failed))
	require.Len(t, store.bumps, 2)
	assert.Equal(t, bump{dates.NewDate(2025, 10, 6), "email", 1, 0}, store.bumps[0])
	assert.Equal(t, bump{dates.NewDate(2025, 10, 5), "sms", 0, 1}, store.bumps[1])
}
