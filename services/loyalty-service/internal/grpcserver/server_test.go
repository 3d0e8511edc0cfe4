package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/rpc/loyaltyv1"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/vouchers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStore struct {
	voucher  vouchers.Voucher
	discount storage.MembershipDiscount
}

func (f fakeStore) VoucherByCode(_ context.Context, code string) (vouchers.Voucher, error) {
	if code != f.voucher.Code {
		return vouchers.Voucher{}, storage.ErrVoucherNotFound
	}
	return f.voucher, nil
}

func (f fakeStore) RedemptionContext(_ context.Context, _, id string, _ time.Time) (vouchers.Customer, error) {
	return vouchers.Customer{ID: id, Exists: true}, nil
}

func (f fakeStore) ActiveDiscount(context.Context, string) (storage.MembershipDiscount, error) {
	return f.discount, nil
}

func newServer(store fakeStore) *Server {
	s := New(store)
	s.now = func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, dates.Location()) }
	return s
}

func TestValidateVoucherCapsFixedDiscount(t *testing.T) {
	srv := newServer(fakeStore{voucher: vouchers.Voucher{
		ID:            "v1",
		Code:          "FLAT50",
		Title:         "Flat",
		DiscountType:  vouchers.TypeFixed,
		DiscountValue: decimal.NewFromInt(50000),
		StartAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, dates.Location()),
		EndAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, dates.Location()),
		IsActive:      true,
	}})
	resp, err := srv.ValidateVoucher(context.Background(), &loyaltyv1.ValidateVoucherRequest{
		Code:       "FLAT50",
		CustomerID: "c1",
		OrderTotal: "30000",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", resp.VoucherID)
	assert.Equal(t, "30000", resp.DiscountAmount)
	assert.Equal(t, "0", resp.FinalAmount)
}

func TestValidateVoucherStatusCodes(t *testing.T) {
	srv := newServer(fakeStore{})
	_, err := srv.ValidateVoucher(context.Background(), &loyaltyv1.ValidateVoucherRequest{Code: "GONE", CustomerID: "c1", OrderTotal: "1"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = srv.ValidateVoucher(context.Background(), &loyaltyv1.ValidateVoucherRequest{Code: "GONE", CustomerID: "c1", OrderTotal: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetMembershipDiscount(t *testing.T) {
	srv := newServer(fakeStore{discount: storage.MembershipDiscount{Active: true, UserMembershipID: "um1", MembershipName: "Gold", Percent: decimal.RequireFromString("12.5")}})
	resp, err := srv.GetMembershipDiscount(context.Background(), &loyaltyv1.MembershipDiscountRequest{CustomerID: "c1"})
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "12.5", resp.DiscountPercent)

	_, err = srv.GetMembershipDiscount(context.Background(), &loyaltyv1.MembershipDiscountRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
