// Package grpcserver answers voucher and membership discount lookups from
// booking-service.
package grpcserver

import (
	"context"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/grpcx"
	"github.com/hoaht-8203/courtops/libs/money"
	"github.com/hoaht-8203/courtops/libs/rpc/loyaltyv1"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/loyalty-service/internal/storage"
	"google.golang.org/grpc"
)

type Store interface {
	handlers.VoucherReader
	ActiveDiscount(ctx context.Context, customerID string) (storage.MembershipDiscount, error)
}

type Server struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Server {
	return &Server{store: store, now: time.Now}
}

func Register(s grpc.ServiceRegistrar, store Store) {
	loyaltyv1.RegisterLoyaltyServer(s, New(store))
}

func (s *Server) ValidateVoucher(ctx context.Context, req *loyaltyv1.ValidateVoucherRequest) (*loyaltyv1.ValidateVoucherResponse, error) {
	total, err := money.Parse(req.OrderTotal)
	if err != nil {
		return nil, grpcx.StatusFromError(apperr.Invalid("order_total must be a number"))
	}
	res, err := handlers.CheckVoucher(ctx, s.store, handlers.VoucherCheck{
		Code:        req.Code,
		CustomerID:  req.CustomerID,
		OrderTotal:  total,
		BookingDate: req.BookingDate,
		StartTime:   req.StartTime,
	}, s.now())
	if err != nil {
		return nil, grpcx.StatusFromError(err)
	}
	return &loyaltyv1.ValidateVoucherResponse{
		VoucherID:      res.VoucherID,
		Code:           res.Code,
		DiscountAmount: res.Discount.String(),
		FinalAmount:    res.Final.String(),
	}, nil
}

func (s *Server) GetMembershipDiscount(ctx context.Context, req *loyaltyv1.MembershipDiscountRequest) (*loyaltyv1.MembershipDiscountResponse, error) {
	if req.CustomerID == "" {
		return nil, grpcx.StatusFromError(apperr.Invalid("customer_id is required"))
	}
	d, err := s.store.ActiveDiscount(ctx, req.CustomerID)
	if err != nil {
		return nil, grpcx.StatusFromError(err)
	}
	return &loyaltyv1.MembershipDiscountResponse{
		Active:           d.Active,
		UserMembershipID: d.UserMembershipID,
		MembershipName:   d.MembershipName,
		DiscountPercent:  d.Percent.String(),
	}, nil
}
