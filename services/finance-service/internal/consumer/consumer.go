// Package consumer books money that changed hands elsewhere: customer
// payments from booking and loyalty, supplier settlements from inventory and
// payroll payments from staff.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/inbox"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

const consumerName = "finance-service"

type Store interface {
	RecordAutomatic(ctx context.Context, tx pgx.Tx, a storage.Automatic) (ledger.Cashflow, error)
}

type Config struct {
	Brokers string
	GroupID string
}

func Start(ctx context.Context, logger *slog.Logger, pool *db.Pool, store Store, cfg Config) {
	if cfg.GroupID == "" {
		cfg.GroupID = consumerName
	}
	topics := map[string]inbox.TxHandler{
		events.PaymentPaid:      PaymentPaid(store, logger),
		events.OrderPaid:        OrderPaid(store, logger),
		events.MembershipPaid:   MembershipPaid(store, logger),
		events.ReceiptCompleted: SupplierSettled(store, logger, ledger.TypeSupplierPayment),
		events.ReturnCompleted:  SupplierSettled(store, logger, ledger.TypeSupplierRefund),
		events.PayrollPaid:      PayrollPaid(store, logger),
	}
	for topic, fn := range topics {
		c := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.GroupID,
			Topic:   topic,
		}, inbox.Handle(pool, consumerName, logger, fn))
		go c.Run(ctx)
	}
}

// book records a and logs the outcome. A missing built-in type is logged and
// skipped so the event is not retried forever.
func book(ctx context.Context, tx pgx.Tx, store Store, logger *slog.Logger, a storage.Automatic) error {
	if !a.Amount.IsPositive() {
		return nil
	}
	c, err := store.RecordAutomatic(ctx, tx, a)
	if errors.Is(err, storage.ErrTypeNotFound) {
		logger.Warn("cashflow type missing; entry skipped", "type", a.TypeCode, "source", a.Source, "related_id", a.RelatedID)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("cashflow recorded", "reference", c.ReferenceNumber, "source", a.Source, "value", c.Value.String())
	return nil
}

// PaymentPaid books court booking payments and late order payments. Regular
// order and membership payments arrive on their own topics.
func PaymentPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.PaymentPaidPayload](msg)
		if err != nil || evt.PaymentID == "" {
			logger.Warn("malformed payment event skipped", "err", err)
			return nil
		}
		note := "Booking payment"
		switch {
		case evt.Kind == events.KindBooking:
		case evt.Kind == events.KindOrder && evt.Late:
			note = "Late order payment"
		default:
			return nil
		}
		return book(ctx, tx, store, logger, storage.Automatic{
			TypeCode:      ledger.TypeCustomerPayment,
			Amount:        evt.Amount,
			Time:          evt.PaidAt,
			Method:        evt.Method,
			PersonType:    ledger.PersonCustomer,
			RelatedPerson: evt.CustomerName,
			RelatedID:     evt.PaymentID,
			Source:        msg.Topic,
			Note:          note,
		})
	}
}

func OrderPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.OrderPaidPayload](msg)
		if err != nil || evt.OrderID == "" {
			logger.Warn("malformed order event skipped", "err", err)
			return nil
		}
		return book(ctx, tx, store, logger, storage.Automatic{
			TypeCode:      ledger.TypeCustomerPayment,
			Amount:        evt.TotalAmount,
			Time:          evt.PaidAt,
			PersonType:    ledger.PersonCustomer,
			RelatedPerson: evt.CustomerName,
			RelatedID:     evt.OrderID,
			Source:        msg.Topic,
			Note:          "Order payment",
		})
	}
}

func MembershipPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.MembershipPaidPayload](msg)
		if err != nil || evt.PaymentID == "" {
			logger.Warn("malformed membership event skipped", "err", err)
			return nil
		}
		note := "Membership payment"
		if evt.MembershipName != "" {
			note += ": " + evt.MembershipName
		}
		return book(ctx, tx, store, logger, storage.Automatic{
			TypeCode:      ledger.TypeCustomerPayment,
			Amount:        evt.Amount,
			Time:          evt.PaidAt,
			PersonType:    ledger.PersonCustomer,
			RelatedPerson: evt.CustomerName,
			RelatedID:     evt.PaymentID,
			Source:        msg.Topic,
			Note:          note,
		})
	}
}

// SupplierSettled books what was actually paid on a receipt (typeCode
// CTNCC) or refunded on a return (TTNCC).
func SupplierSettled(store Store, logger *slog.Logger, typeCode string) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.SupplierSettlementPayload](msg)
		if err != nil || evt.DocumentID == "" {
			logger.Warn("malformed supplier event skipped", "err", err)
			return nil
		}
		return book(ctx, tx, store, logger, storage.Automatic{
			TypeCode:      typeCode,
			Amount:        evt.PaidAmount,
			Time:          evt.CompletedAt,
			PersonType:    ledger.PersonSupplier,
			RelatedPerson: evt.SupplierName,
			RelatedID:     evt.DocumentID,
			Source:        msg.Topic,
			Note:          evt.Code,
		})
	}
}

func PayrollPaid(store Store, logger *slog.Logger) inbox.TxHandler {
	return func(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
		evt, err := events.Decode[events.PayrollPaidPayload](msg)
		if err != nil || evt.PayrollItemID == "" {
			logger.Warn("malformed payroll event skipped", "err", err)
			return nil
		}
		return book(ctx, tx, store, logger, storage.Automatic{
			TypeCode:      ledger.TypePayStaff,
			Amount:        evt.Amount,
			Time:          evt.PaidAt,
			PersonType:    ledger.PersonStaff,
			RelatedPerson: evt.StaffName,
			RelatedID:     evt.PayrollItemID,
			Source:        msg.Topic,
			Note:          "Payroll payment for " + evt.StaffName,
		})
	}
}
