package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/vouchers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const voucherID = "0f6b8f66-33b5-4f8e-a0f4-6a2e3c9f7d21"

// fakeStore implements the handful of Store methods the tests reach; the
// embedded nil interface panics on anything else.
type fakeStore struct {
	Store

	voucher      vouchers.Voucher
	customer     vouchers.Customer
	userCustomer string
	created      *vouchers.Voucher
	extended     *storage.Extension
	newMember    *storage.NewUserMembership
	confirmed    storage.Settlement
	referenceAt  time.Time
}

func (f *fakeStore) VoucherByCode(_ context.Context, code string) (vouchers.Voucher, error) {
	if !strings.EqualFold(code, f.voucher.Code) {
		return vouchers.Voucher{}, storage.ErrVoucherNotFound
	}
	return f.voucher, nil
}

func (f *fakeStore) RedemptionContext(_ context.Context, _, customerID string, at time.Time) (vouchers.Customer, error) {
	f.referenceAt = at
	c := f.customer
	c.ID = customerID
	return c, nil
}

func (f *fakeStore) CustomerByUser(_ context.Context, userID string) (storage.Customer, error) {
	if f.userCustomer == "" {
		return storage.Customer{}, storage.ErrCustomerNotFound
	}
	return storage.Customer{ID: f.userCustomer, UserID: userID}, nil
}

func (f *fakeStore) CreateVoucher(_ context.Context, _ httpx.Actor, v vouchers.Voucher) (vouchers.Voucher, error) {
	f.created = &v
	v.ID = voucherID
	return v, nil
}

func (f *fakeStore) ExtendVoucher(_ context.Context, _ httpx.Actor, id string, ext storage.Extension) (vouchers.Voucher, error) {
	f.extended = &ext
	return vouchers.Voucher{ID: id}, nil
}

func (f *fakeStore) CreateUserMembership(_ context.Context, _ httpx.Actor, in storage.NewUserMembership) (storage.UserMembership, error) {
	f.newMember = &in
	return storage.UserMembership{ID: "um1", CustomerID: in.CustomerID, Status: storage.StatusPendingPayment}, nil
}

func (f *fakeStore) ConfirmPayment(context.Context, httpx.Actor, string) (storage.Settlement, error) {
	return f.confirmed, nil
}

func (f *fakeStore) ActiveDiscount(context.Context, string) (storage.MembershipDiscount, error) {
	return storage.MembershipDiscount{Active: true, MembershipName: "Gold", Percent: decimal.NewFromInt(10)}, nil
}

func summerVoucher() vouchers.Voucher {
	return vouchers.Voucher{
		ID:            voucherID,
		Code:          "SUMMER10",
		Title:         "Summer",
		DiscountType:  vouchers.TypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		StartAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, dates.Location()),
		EndAt:         time.Date(2025, 12, 31, 0, 0, 0, 0, dates.Location()),
		IsActive:      true,
	}
}

func serve(t *testing.T, store Store, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	h := New(store)
	h.now = func() time.Time { return time.Date(2025, 7, 1, 10, 0, 0, 0, dates.Location()) }
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

var (
	staff    = map[string]string{httpx.HeaderUserID: "u-staff", httpx.HeaderRole: httpx.RoleStaff}
	customer = map[string]string{httpx.HeaderUserID: "u-cust", httpx.HeaderRole: httpx.RoleCustomer}
)

func TestValidateVoucherForStaff(t *testing.T) {
	store := &fakeStore{voucher: summerVoucher(), customer: vouchers.Customer{Exists: true}}
	rec := serve(t, store, http.MethodPost, "/api/v1/vouchers/validate",
		`{"code":"summer10","customer_id":"c1","order_total":"250000","booking_date":"2025-07-05","start_time":"18:00"}`, staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res vouchers.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Discount.Equal(decimal.NewFromInt(25000)))
	assert.True(t, res.Final.Equal(decimal.NewFromInt(225000)))
	assert.Equal(t, time.Date(2025, 7, 5, 18, 0, 0, 0, dates.Location()), store.referenceAt)
}

func TestValidateVoucherUsesCallersOwnCustomer(t *testing.T) {
	store := &fakeStore{voucher: summerVoucher(), customer: vouchers.Customer{Exists: true}, userCustomer: "mine"}
	rec := serve(t, store, http.MethodPost, "/api/v1/vouchers/validate",
		`{"code":"SUMMER10","customer_id":"someone-else","order_total":"100000"}`, customer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2025, 7, 1, 10, 0, 0, 0, dates.Location()), store.referenceAt)
}

func TestValidateVoucherErrors(t *testing.T) {
	store := &fakeStore{voucher: summerVoucher(), customer: vouchers.Customer{Exists: true}}

	rec := serve(t, store, http.MethodPost, "/api/v1/vouchers/validate", `{"code":"NOPE","customer_id":"c1","order_total":"1"}`, staff)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/vouchers/validate", `{"code":"SUMMER10","customer_id":"c1","order_total":"abc"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.customer.Exists = false
	rec = serve(t, store, http.MethodPost, "/api/v1/vouchers/validate", `{"code":"SUMMER10","customer_id":"c1","order_total":"100"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/vouchers/validate", `{"code":"SUMMER10","order_total":"100"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateVoucherParsesRules(t *testing.T) {
	store := &fakeStore{}
	body := `{
		"code":"WEEKEND","title":"Weekend","discount_type":"Fixed","discount_value":"20000",
		"min_order_value":"100000","start_at":"2025-01-01T00:00:00Z","end_at":"2025-12-31T00:00:00Z",
		"time_rules":[{"day_of_week":6,"start_time":"08:00","end_time":"12:00"},{"specific_date":"2025-09-02"}],
		"user_rules":[{"is_new_customer":true}]
	}`
	rec := serve(t, store, http.MethodPost, "/api/v1/vouchers", body, staff)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.created)
	v := *store.created
	assert.Equal(t, vouchers.TypeFixed, v.DiscountType)
	assert.True(t, v.IsActive)
	require.Len(t, v.TimeRules, 2)
	assert.Equal(t, "08:00:00", v.TimeRules[0].StartTime.String())
	assert.Equal(t, "2025-09-02", v.TimeRules[1].SpecificDate.String())
	require.NotNil(t, v.MinOrderValue)
	assert.True(t, v.MinOrderValue.Equal(decimal.NewFromInt(100000)))
}

func TestCreateVoucherRejections(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPost, "/api/v1/vouchers", `{"code":"X"}`, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, store, http.MethodPost, "/api/v1/vouchers",
		`{"code":"","title":"t","discount_type":"fixed","discount_value":"1","start_at":"2025-01-01T00:00:00Z","end_at":"2025-02-01T00:00:00Z"}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, store.created)
}

func TestExtendVoucherIsPartial(t *testing.T) {
	store := &fakeStore{}
	rec := serve(t, store, http.MethodPatch, "/api/v1/vouchers/"+voucherID+"/extend", `{"usage_limit_total":500}`, staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, store.extended)
	assert.Nil(t, store.extended.EndAt)
	assert.Equal(t, 500, *store.extended.UsageLimitTotal)

	rec = serve(t, store, http.MethodPatch, "/api/v1/vouchers/"+voucherID+"/extend", `{}`, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerBuysMembershipOnline(t *testing.T) {
	store := &fakeStore{userCustomer: "c-self"}
	rec := serve(t, store, http.MethodPost, "/api/v1/user-memberships", `{"membership_id":"m1","payment_method":"card"}`, customer)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, store.newMember)
	assert.Equal(t, "c-self", store.newMember.CustomerID)
	assert.Equal(t, storage.MethodCard, store.newMember.Method)

	rec = serve(t, store, http.MethodPost, "/api/v1/user-memberships", `{"membership_id":"m1","payment_method":"cash"}`, customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfirmPaymentTwice(t *testing.T) {
	store := &fakeStore{confirmed: storage.Settlement{Payment: storage.MembershipPayment{ID: "MP-01072025-000001"}, AlreadyPaid: true}}
	rec := serve(t, store, http.MethodPost, "/api/v1/membership-payments/MP-01072025-000001/confirm", "", staff)
	assert.Equal(t, http.StatusConflict, rec.Code)

	store.confirmed.AlreadyPaid = false
	rec = serve(t, store, http.MethodPost, "/api/v1/membership-payments/MP-01072025-000001/confirm", "", staff)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMembershipDiscountRoute(t *testing.T) {
	store := &fakeStore{userCustomer: "c-self"}
	rec := serve(t, store, http.MethodGet, "/api/v1/memberships/discount", "", customer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"membership_name":"Gold"`)
}
