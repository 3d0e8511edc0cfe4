package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/discounts"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customerID   = "0d6c1c4a-3f7e-4f51-9a53-2a1f2b8e9c01"
	courtID      = "7b0c2e4e-6d1b-4e55-9b7e-0e2f3d5a1c11"
	occurrenceID = "5a9e8f21-0c3b-4d7a-8e6f-1b2c3d4e5f60"
	paymentID    = "PM-01032025-000001"
)

type fakeStore struct {
	Store

	newBooking  *storage.NewBooking
	replay      bool
	taken       []booking.Slot
	transfer    *storage.BankTransfer
	transferRes storage.TransferResult
	checkout    storage.CheckoutContext
	newOrder    *storage.NewOrder
	userLinked  map[string]string
}

func (f *fakeStore) CustomerByUser(_ context.Context, userID string) (storage.Customer, error) {
	id, ok := f.userLinked[userID]
	if !ok {
		return storage.Customer{}, storage.ErrCustomerNotFound
	}
	return storage.Customer{ID: id, Status: storage.CustomerActive}, nil
}

func (f *fakeStore) CreateCustomer(_ context.Context, _ httpx.Actor, in storage.CustomerInput) (storage.Customer, error) {
	return storage.Customer{ID: customerID, FullName: in.FullName, Phone: in.Phone, Status: storage.CustomerActive}, nil
}

func (f *fakeStore) CreateBooking(_ context.Context, in storage.NewBooking) (storage.Created, error) {
	f.newBooking = &in
	status := booking.PaymentPending
	if in.Method == booking.MethodCash {
		status = booking.PaymentPaid
	}
	return storage.Created{
		Booking:  storage.Booking{ID: "b1", CustomerID: in.CustomerID, CourtID: in.CourtID, Status: booking.StatusPendingPayment},
		Payment:  storage.Payment{ID: paymentID, Kind: "booking", Amount: in.PaymentAmount, Method: in.Method, Status: status},
		Replayed: f.replay,
	}, nil
}

func (f *fakeStore) TakenSlots(context.Context, string, dates.Date) ([]booking.Slot, error) {
	return f.taken, nil
}

func (f *fakeStore) ApplyBankTransfer(_ context.Context, t storage.BankTransfer) (storage.TransferResult, error) {
	f.transfer = &t
	return f.transferRes, nil
}

func (f *fakeStore) CheckoutContext(context.Context, string) (storage.CheckoutContext, error) {
	return f.checkout, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, in storage.NewOrder) (storage.Order, storage.Payment, error) {
	f.newOrder = &in
	return storage.Order{ID: "o1", OccurrenceID: in.OccurrenceID, TotalAmount: in.Total, Status: booking.OrderPending},
		storage.Payment{ID: "PM-01032025-000002", Kind: "order", Amount: in.Total, Method: in.Method, Status: booking.PaymentPending}, nil
}

type fakeQuotes struct {
	amount string
	last   *pricingv1.QuoteRequest
}

func (q *fakeQuotes) Quote(_ context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	q.last = req
	return &pricingv1.QuoteResponse{CourtID: req.CourtID, CourtName: "Court 1", Amount: q.amount}, nil
}

type fakeDiscounts struct {
	percent  decimal.Decimal
	discount decimal.Decimal
}

func (d fakeDiscounts) ValidateVoucher(_ context.Context, req discounts.VoucherRequest) (discounts.Voucher, error) {
	if req.Code != "SUMMER" {
		return discounts.Voucher{}, apperr.Invalid("voucher %s does not exist", req.Code)
	}
	return discounts.Voucher{ID: "v1", Code: req.Code, Discount: d.discount, Final: req.OrderTotal.Sub(d.discount)}, nil
}

func (d fakeDiscounts) MembershipPercent(context.Context, string) (decimal.Decimal, error) {
	return d.percent, nil
}

type board struct{ events []string }

func (b *board) Publish(_ context.Context, event string, _ any) { b.events = append(b.events, event) }

type fixture struct {
	store  *fakeStore
	quotes *fakeQuotes
	board  *board
	h      *Handler
	mux    *http.ServeMux
}

func newFixture(t *testing.T, disc fakeDiscounts) *fixture {
	t.Helper()
	f := &fixture{
		store:  &fakeStore{userLinked: map[string]string{"u1": customerID}},
		quotes: &fakeQuotes{amount: "200000"},
		board:  &board{},
	}
	f.h = New(f.store, f.quotes, disc, f.board, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		QR:          booking.TransferQR{Account: "0123", Bank: "MBBank"},
		SePayAPIKey: "secret",
		OpenAt:      dates.NewClock(7, 0, 0),
		CloseAt:     dates.NewClock(10, 0, 0),
	})
	f.h.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, dates.Location()) }
	f.mux = http.NewServeMux()
	f.h.Register(f.mux)
	return f
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

var staff = map[string]string{httpx.HeaderUserID: "s1", httpx.HeaderRole: httpx.RoleStaff}

func TestCreateBookingAppliesMembershipAndDeposit(t *testing.T) {
	f := newFixture(t, fakeDiscounts{percent: decimal.NewFromInt(10)})
	headers := map[string]string{HeaderIdempotencyKey: "k-1"}
	for k, v := range staff {
		headers[k] = v
	}
	rec := f.do(http.MethodPost, "/api/v1/bookings", `{
		"customer_id": "`+customerID+`", "court_id": "`+courtID+`",
		"start_date": "2025-03-03", "start_time": "08:00", "end_time": "10:00"
	}`, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	nb := f.store.newBooking
	require.NotNil(t, nb)
	assert.True(t, nb.Schedule.WalkIn())
	assert.Equal(t, "20000", nb.DiscountAmount.String())
	assert.Equal(t, "180000", nb.TotalAmount.String())
	assert.Equal(t, "54000", nb.PaymentAmount.String())
	assert.Equal(t, booking.MethodBank, nb.Method)
	assert.Equal(t, "k-1", nb.IdempotencyKey)
	assert.Equal(t, "Court 1", nb.CourtName)
	assert.Empty(t, f.quotes.last.DaysOfWeek)

	var resp createBookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.QRURL, "amount=54000")
	assert.Contains(t, resp.QRURL, "des="+paymentID)
	assert.Equal(t, []string{"bookingCreated", "paymentCreated"}, f.board.events)
}

func TestCreateBookingReplayReturnsOK(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	f.store.replay = true
	rec := f.do(http.MethodPost, "/api/v1/bookings", `{
		"customer_id": "`+customerID+`", "court_id": "`+courtID+`",
		"start_date": "2025-03-03", "end_date": "2025-03-16", "start_time": "08:00", "end_time": "10:00",
		"days_of_week": [2, 4], "pay_in_full": true, "payment_method": "Cash"
	}`, staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, f.board.events)
	assert.Equal(t, []int{2, 4}, f.quotes.last.DaysOfWeek)
	assert.Equal(t, "200000", f.store.newBooking.PaymentAmount.String())
}

func TestCreateBookingAsCustomer(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	body := `{"court_id": "` + courtID + `", "start_date": "2025-03-03", "start_time": "08:00", "end_time": "09:00"%s}`

	rec := f.do(http.MethodPost, "/api/v1/bookings", strings.Replace(body, "%s", "", 1), map[string]string{httpx.HeaderRole: httpx.RoleCustomer})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	customer := map[string]string{httpx.HeaderUserID: "u1", httpx.HeaderRole: httpx.RoleCustomer}
	rec = f.do(http.MethodPost, "/api/v1/bookings", strings.Replace(body, "%s", `, "payment_method": "Cash"`, 1), customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/bookings", strings.Replace(body, "%s", "", 1), customer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, customerID, f.store.newBooking.CustomerID)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	cases := map[string]string{
		"missing court":   `{"customer_id": "c", "start_date": "2025-03-03", "start_time": "08:00", "end_time": "09:00"}`,
		"bad method":      `{"customer_id": "c", "court_id": "x", "start_date": "2025-03-03", "start_time": "08:00", "end_time": "09:00", "payment_method": "Crypto"}`,
		"reversed times":  `{"customer_id": "c", "court_id": "x", "start_date": "2025-03-03", "start_time": "10:00", "end_time": "09:00"}`,
		"past date":       `{"customer_id": "c", "court_id": "x", "start_date": "2025-02-27", "start_time": "08:00", "end_time": "09:00"}`,
		"empty days":      `{"customer_id": "c", "court_id": "x", "start_date": "2025-03-03", "end_date": "2025-03-09", "start_time": "08:00", "end_time": "09:00", "days_of_week": []}`,
		"no matching day": `{"customer_id": "c", "court_id": "x", "start_date": "2025-03-03", "end_date": "2025-03-04", "start_time": "08:00", "end_time": "09:00", "days_of_week": [8]}`,
	}
	for name, body := range cases {
		rec := f.do(http.MethodPost, "/api/v1/bookings", body, staff)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	assert.Nil(t, f.store.newBooking)
}

func TestAvailabilitySkipsTakenSlots(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	f.store.taken = []booking.Slot{{Date: dates.NewDate(2025, 3, 5), Start: dates.NewClock(8, 0, 0), End: dates.NewClock(9, 0, 0)}}

	rec := f.do(http.MethodGet, "/api/v1/bookings/availability?court_id="+courtID+"&date=2025-03-05", "", staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Slots []struct {
			Start string `json:"start_time"`
			End   string `json:"end_time"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 2)
	assert.Equal(t, "07:00:00", resp.Slots[0].Start)
	assert.Equal(t, "09:00:00", resp.Slots[1].Start)
	assert.Equal(t, "10:00:00", resp.Slots[1].End)
}

func TestPriceCheckout(t *testing.T) {
	cc := storage.CheckoutContext{
		Occurrence: storage.Occurrence{
			Date:      dates.NewDate(2025, 3, 1),
			StartTime: dates.NewClock(8, 0, 0),
			EndTime:   dates.NewClock(9, 0, 0),
		},
		OccurrenceCount: 2,
		PaidTotal:       decimal.NewFromInt(60000),
		ItemsSubtotal:   decimal.NewFromInt(50000),
	}
	now := time.Date(2025, 3, 1, 9, 45, 0, 0, dates.Location())

	b := priceCheckout(cc, decimal.NewFromInt(120000), decimal.NewFromInt(150), now)

	assert.Equal(t, "30000", b.CourtPaid.String())
	assert.Equal(t, "90000", b.CourtRemaining.String())
	assert.Equal(t, 45, b.OverdueMinutes)
	assert.Equal(t, "90000", b.LateFee.String())
	assert.Equal(t, "230000", b.Subtotal.String())
}

func TestCheckoutCapsVoucherDiscount(t *testing.T) {
	f := newFixture(t, fakeDiscounts{discount: decimal.NewFromInt(500000)})
	f.store.checkout = storage.CheckoutContext{
		Occurrence: storage.Occurrence{
			ID:        occurrenceID,
			CourtID:   courtID,
			Date:      dates.NewDate(2025, 3, 1),
			StartTime: dates.NewClock(8, 0, 0),
			EndTime:   dates.NewClock(10, 0, 0),
			Status:    booking.StatusCheckedIn,
		},
		OccurrenceCount: 1,
		PaidTotal:       decimal.Zero,
		ItemsSubtotal:   decimal.NewFromInt(20000),
	}

	rec := f.do(http.MethodPost, "/api/v1/occurrences/"+occurrenceID+"/checkout", `{"voucher_code": "SUMMER"}`, staff)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	in := f.store.newOrder
	require.NotNil(t, in)
	assert.Equal(t, "220000", in.Discount.String())
	assert.True(t, in.Total.IsZero())
	assert.Equal(t, "SUMMER", *in.VoucherCode)
	assert.Equal(t, "2025-03-01", f.quotes.last.StartDate)
	assert.Equal(t, []string{"paymentCreated"}, f.board.events)

	rec = f.do(http.MethodPost, "/api/v1/occurrences/"+occurrenceID+"/checkout", `{"voucher_code": "NOPE"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutRequiresCheckedIn(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	f.store.checkout = storage.CheckoutContext{Occurrence: storage.Occurrence{ID: occurrenceID, Status: booking.StatusActive}}

	rec := f.do(http.MethodPost, "/api/v1/occurrences/"+occurrenceID+"/checkout", `{}`, staff)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, f.store.newOrder)
}

func TestSePayWebhook(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	body := `{"id": 9001, "gateway": "MBBank", "content": "CT DEN:123 PM01032025000001 thanh toan",
		"transferType": "in", "transferAmount": 54000, "extraField": true}`

	rec := f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", body, map[string]string{"Authorization": "Apikey wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := map[string]string{"Authorization": "Apikey secret"}
	rec = f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", `{"transferType": "in", "transferAmount": 1}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.store.transferRes = storage.TransferResult{
		Outcome: storage.TransferApplied,
		Settlement: storage.Settlement{
			Payment: storage.Payment{ID: paymentID, Status: booking.PaymentPaid},
			Booking: &storage.Booking{ID: "b1", Status: booking.StatusActive},
			Changed: true,
		},
	}
	rec = f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", body, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, f.store.transfer)
	assert.Equal(t, paymentID, f.store.transfer.PaymentRef)
	assert.Equal(t, int64(9001), f.store.transfer.ID)
	assert.Equal(t, "54000", f.store.transfer.Amount.String())
	assert.Equal(t, []string{"paymentUpdated", "bookingUpdated"}, f.board.events)

	f.store.transferRes = storage.TransferResult{Outcome: storage.TransferInsufficient}
	rec = f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", body, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient amount")
}

func TestSePayWebhookRecordsUnmatchedTransfers(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})
	auth := map[string]string{"Authorization": "Apikey secret"}
	f.store.transferRes = storage.TransferResult{Outcome: storage.TransferInsufficient}

	for memo, ref := range map[string]string{
		"":                            "",
		"chuyen tien san cau":         "",
		"CT DEN PM31122099999999 xyz": "PM-31122099-999999",
	} {
		body := `{"id": 77, "gateway": "MBBank", "content": "` + memo + `", "transferType": "in", "transferAmount": 54000}`
		f.store.transfer = nil
		rec := f.do(http.MethodPost, "/api/v1/payments/sepay/webhook", body, auth)
		require.Equal(t, http.StatusOK, rec.Code, memo)
		assert.Contains(t, rec.Body.String(), `"outcome":"insufficient"`, memo)
		require.NotNil(t, f.store.transfer, memo)
		assert.Equal(t, ref, f.store.transfer.PaymentRef, memo)
		assert.Equal(t, memo, f.store.transfer.Content, memo)
	}
	assert.Empty(t, f.board.events)
}

func TestCustomerAndItemValidation(t *testing.T) {
	f := newFixture(t, fakeDiscounts{})

	rec := f.do(http.MethodPost, "/api/v1/customers", `{"full_name": "Lan"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/customers", `{"full_name": "Lan", "phone": "0901", "status": "Inactive"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/customers", `{"full_name": " Lan ", "phone": "0901"}`, staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"full_name":"Lan"`)

	rec = f.do(http.MethodPost, "/api/v1/occurrences/"+occurrenceID+"/items", `{"items": [{"product_id": "p1", "quantity": 0}]}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/occurrences/not-a-uuid/items", `{"items": []}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
