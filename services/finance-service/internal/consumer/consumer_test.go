package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/ledger"
	"github.com/hoaht-8203/courtops/services/finance-service/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	recorded []storage.Automatic
	err      error
}

func (f *fakeStore) RecordAutomatic(_ context.Context, _ pgx.Tx, a storage.Automatic) (ledger.Cashflow, error) {
	if f.err != nil {
		return ledger.Cashflow{}, f.err
	}
	f.recorded = append(f.recorded, a)
	return ledger.Cashflow{ReferenceNumber: a.TypeCode + "000001", Value: a.Amount}, nil
}

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func message(t *testing.T, topic string, v any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Value: raw}
}

func TestPaymentPaidBooksBookingPaymentsOnly(t *testing.T) {
	store := &fakeStore{}
	h := PaymentPaid(store, logger)
	paidAt := time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h(context.Background(), nil, message(t, events.PaymentPaid, events.PaymentPaidPayload{
		PaymentID: "p1", Kind: events.KindBooking, CustomerName: "Lan", Amount: decimal.NewFromInt(200000),
		Method: "Bank", PaidAt: paidAt,
	})))
	require.NoError(t, h(context.Background(), nil, message(t, events.PaymentPaid, events.PaymentPaidPayload{
		PaymentID: "p2", Kind: events.KindOrder, Amount: decimal.NewFromInt(50000),
	})))

	require.Len(t, store.recorded, 1)
	a := store.recorded[0]
	assert.Equal(t, ledger.TypeCustomerPayment, a.TypeCode)
	assert.Equal(t, ledger.PersonCustomer, a.PersonType)
	assert.Equal(t, "Lan", a.RelatedPerson)
	assert.Equal(t, "p1", a.RelatedID)
	assert.Equal(t, events.PaymentPaid, a.Source)
	assert.Equal(t, paidAt, a.Time)
	assert.Equal(t, "Bank", a.Method)
}

func TestPaymentPaidBooksLateOrderPayments(t *testing.T) {
	store := &fakeStore{}
	h := PaymentPaid(store, logger)

	require.NoError(t, h(context.Background(), nil, message(t, events.PaymentPaid, events.PaymentPaidPayload{
		PaymentID: "PM-02102025-000009", Kind: events.KindOrder, CustomerName: "Lan",
		Amount: decimal.NewFromInt(85000), Method: "Card", Late: true,
	})))

	require.Len(t, store.recorded, 1)
	assert.Equal(t, "PM-02102025-000009", store.recorded[0].RelatedID)
	assert.Equal(t, "Late order payment", store.recorded[0].Note)
	assert.True(t, store.recorded[0].Amount.Equal(decimal.NewFromInt(85000)))
}

func TestOrderAndMembershipAreCustomerIncome(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, OrderPaid(store, logger)(context.Background(), nil, message(t, events.OrderPaid, events.OrderPaidPayload{
		OrderID: "o1", CustomerName: "Huy", TotalAmount: decimal.NewFromInt(75000),
	})))
	require.NoError(t, MembershipPaid(store, logger)(context.Background(), nil, message(t, events.MembershipPaid, events.MembershipPaidPayload{
		PaymentID: "m1", MembershipName: "Gold", Amount: decimal.NewFromInt(500000),
	})))
	require.Len(t, store.recorded, 2)
	assert.Equal(t, "o1", store.recorded[0].RelatedID)
	assert.True(t, store.recorded[0].Amount.Equal(decimal.NewFromInt(75000)))
	assert.Equal(t, "Membership payment: Gold", store.recorded[1].Note)
	for _, a := range store.recorded {
		assert.Equal(t, ledger.TypeCustomerPayment, a.TypeCode)
	}
}

func TestSupplierSettlementUsesPaidAmount(t *testing.T) {
	store := &fakeStore{}
	receipt := SupplierSettled(store, logger, ledger.TypeSupplierPayment)
	refund := SupplierSettled(store, logger, ledger.TypeSupplierRefund)

	require.NoError(t, receipt(context.Background(), nil, message(t, events.ReceiptCompleted, events.SupplierSettlementPayload{
		DocumentID: "d1", Code: "PN000001", SupplierName: "ACME", TotalAmount: decimal.NewFromInt(900), PaidAmount: decimal.NewFromInt(600),
	})))
	// Nothing was paid back: no entry.
	require.NoError(t, refund(context.Background(), nil, message(t, events.ReturnCompleted, events.SupplierSettlementPayload{
		DocumentID: "d2", Code: "TH000001", TotalAmount: decimal.NewFromInt(100),
	})))

	require.Len(t, store.recorded, 1)
	a := store.recorded[0]
	assert.Equal(t, ledger.TypeSupplierPayment, a.TypeCode)
	assert.True(t, a.Amount.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, ledger.PersonSupplier, a.PersonType)
	assert.Equal(t, "PN000001", a.Note)
}

func TestPayrollPaidBooksStaffPayment(t *testing.T) {
	store := &fakeStore{}
	require.NoError(t, PayrollPaid(store, logger)(context.Background(), nil, message(t, events.PayrollPaid, events.PayrollPaidPayload{
		PayrollID: "pr1", PayrollItemID: "it1", StaffName: "Minh", Amount: decimal.NewFromInt(3000000),
	})))
	require.Len(t, store.recorded, 1)
	assert.Equal(t, ledger.TypePayStaff, store.recorded[0].TypeCode)
	assert.Equal(t, ledger.PersonStaff, store.recorded[0].PersonType)
	assert.Equal(t, "it1", store.recorded[0].RelatedID)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	store := &fakeStore{}
	bad := kafka.Message{Topic: events.PayrollPaid, Value: []byte("{")}
	assert.NoError(t, PayrollPaid(store, logger)(context.Background(), nil, bad))
	assert.NoError(t, OrderPaid(store, logger)(context.Background(), nil, message(t, events.OrderPaid, events.OrderPaidPayload{})))
	assert.Empty(t, store.recorded)
}

func TestMissingTypeIsSkippedButOtherErrorsRetry(t *testing.T) {
	msg := message(t, events.PayrollPaid, events.PayrollPaidPayload{PayrollItemID: "it1", Amount: decimal.NewFromInt(1)})

	store := &fakeStore{err: storage.ErrTypeNotFound}
	assert.NoError(t, PayrollPaid(store, logger)(context.Background(), nil, msg))

	store = &fakeStore{err: errors.New("db down")}
	assert.Error(t, PayrollPaid(store, logger)(context.Background(), nil, msg))
}
