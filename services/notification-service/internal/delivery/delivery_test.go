package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hoaht-8203/courtops/services/notification-service/internal/messages"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	done     map[string]bool
	recorded []storage.Notification
	err      error
}

func (f *fakeStore) Delivered(_ context.Context, _ pgx.Tx, eventID, channel string) (bool, error) {
	return f.done[eventID+"/"+channel], nil
}

func (f *fakeStore) Record(_ context.Context, _ pgx.Tx, n storage.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, n)
	return nil
}

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, _ string) error {
	f.sent = append(f.sent, to+"|"+subject)
	return f.err
}

func (f *fakeEmail) ProviderID() string { return "smtp" }

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "sms-test" }

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	src    = Source{EventID: "e1", EventType: "scheduler.reminder.due.v1", BookingID: "b1"}
	msg    = messages.Message{Subject: "Reminder", Body: "See you"}
)

func TestDeliverSendsOnEveryChannel(t *testing.T) {
	store, mail, text := &fakeStore{}, &fakeEmail{}, &fakeSMS{}
	d := New(store, mail, text, logger, Config{EmailEnabled: true, SMSEnabled: true})

	require.NoError(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Email: " lan@example.com ", Phone: "0901"}, msg))
	assert.Equal(t, []string{"lan@example.com|Reminder"}, mail.sent)
	assert.Equal(t, []string{"0901|Reminder\nSee you"}, text.sent)
	require.Len(t, store.recorded, 2)
	assert.Equal(t, storage.ChannelEmail, store.recorded[0].Channel)
	assert.Equal(t, storage.StatusSent, store.recorded[0].Status)
	assert.Equal(t, "smtp", store.recorded[0].Provider)
	assert.Equal(t, "b1", store.recorded[0].BookingID)
	assert.Equal(t, storage.ChannelSMS, store.recorded[1].Channel)
}

func TestDeliverSkipsMissingAddressesAndDisabledChannels(t *testing.T) {
	store, mail, text := &fakeStore{}, &fakeEmail{}, &fakeSMS{}
	d := New(store, mail, text, logger, Config{EmailEnabled: true})

	require.NoError(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Phone: "0901"}, msg))
	assert.Empty(t, mail.sent)
	assert.Empty(t, text.sent)
	assert.Empty(t, store.recorded)
}

func TestDeliverDoesNotResend(t *testing.T) {
	store := &fakeStore{done: map[string]bool{"e1/email": true}}
	mail, text := &fakeEmail{}, &fakeSMS{}
	d := New(store, mail, text, logger, Config{EmailEnabled: true, SMSEnabled: true})

	require.NoError(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Email: "a@b", Phone: "0901"}, msg))
	assert.Empty(t, mail.sent)
	assert.Len(t, text.sent, 1)
}

func TestDeliverRecordsProviderFailure(t *testing.T) {
	store, mail := &fakeStore{}, &fakeEmail{err: errors.New("relay refused")}
	d := New(store, mail, nil, logger, Config{EmailEnabled: true, SMSEnabled: true})

	require.NoError(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Email: "a@b", Phone: "0901"}, msg))
	require.Len(t, store.recorded, 1)
	assert.Equal(t, storage.StatusFailed, store.recorded[0].Status)
	assert.Equal(t, "relay refused", store.recorded[0].Error)
}

func TestDeliverSimulatedFailure(t *testing.T) {
	store, mail := &fakeStore{}, &fakeEmail{}
	d := New(store, mail, nil, logger, Config{EmailEnabled: true, FailSuffix: "@fail.test"})

	require.NoError(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Email: "x@fail.test"}, msg))
	assert.Empty(t, mail.sent)
	require.Len(t, store.recorded, 1)
	assert.Equal(t, "simulated failure", store.recorded[0].Error)
}

func TestDeliverReturnsStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	d := New(store, &fakeEmail{}, nil, logger, Config{EmailEnabled: true})
	assert.Error(t, d.Deliver(context.Background(), nil, src, messages.Recipient{Email: "a@b"}, msg))
}
