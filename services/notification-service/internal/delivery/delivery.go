// Package delivery sends one rendered message to every channel a recipient
// can be reached on and logs the outcome.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hoaht-8203/courtops/services/notification-service/internal/email"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/messages"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/sms"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

var errSimulated = errors.New("simulated failure")

type Store interface {
	Delivered(ctx context.Context, tx pgx.Tx, eventID, channel string) (bool, error)
	Record(ctx context.Context, tx pgx.Tx, n storage.Notification) error
}

// Source identifies the event a message answers.
type Source struct {
	EventID   string
	EventType string
	BookingID string
}

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	// FailSuffix makes delivery to matching recipients fail. Used by
	// end-to-end tests to exercise notification.failed.v1.
	FailSuffix string
}

type Dispatcher struct {
	store  Store
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger
	cfg    Config
}

func New(store Store, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{store: store, email: emailSender, sms: smsSender, logger: logger, cfg: cfg}
}

// Deliver sends msg on each enabled channel with an address. Provider errors
// are recorded as failed notifications; only store errors are returned, so
// the event is retried without resending what already went out.
func (d *Dispatcher) Deliver(ctx context.Context, tx pgx.Tx, src Source, to messages.Recipient, msg messages.Message) error {
	if d.cfg.EmailEnabled && d.email != nil && strings.TrimSpace(to.Email) != "" {
		err := d.send(ctx, tx, src, storage.ChannelEmail, strings.TrimSpace(to.Email), msg, d.email.ProviderID(),
			func(ctx context.Context, addr string) error { return d.email.Send(ctx, addr, msg.Subject, msg.Body) })
		if err != nil {
			return err
		}
	}
	if d.cfg.SMSEnabled && d.sms != nil && strings.TrimSpace(to.Phone) != "" {
		err := d.send(ctx, tx, src, storage.ChannelSMS, strings.TrimSpace(to.Phone), msg, d.sms.ProviderID(),
			func(ctx context.Context, addr string) error { return d.sms.Send(ctx, addr, msg.Subject+"\n"+msg.Body) })
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, tx pgx.Tx, src Source, channel, addr string, msg messages.Message, provider string,
	deliver func(context.Context, string) error) error {
	done, err := d.store.Delivered(ctx, tx, src.EventID, channel)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	n := storage.Notification{
		EventID:   src.EventID,
		EventType: src.EventType,
		Channel:   channel,
		Recipient: addr,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Status:    storage.StatusSent,
		Provider:  provider,
		BookingID: src.BookingID,
	}
	if d.cfg.FailSuffix != "" && strings.HasSuffix(addr, d.cfg.FailSuffix) {
		err = errSimulated
	} else {
		err = deliver(ctx, addr)
	}
	if err != nil {
		n.Status = storage.StatusFailed
		n.Error = err.Error()
		d.logger.Error("notification send failed", "channel", channel, "recipient", addr, "event_type", src.EventType, "err", err)
	}
	if err := d.store.Record(ctx, tx, n); err != nil {
		return err
	}
	if n.Status == storage.StatusSent {
		d.logger.Info("notification sent", "channel", channel, "event_type", src.EventType, "booking_id", src.BookingID)
	}
	return nil
}
