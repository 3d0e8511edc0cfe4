// Package discounts asks loyalty-service for voucher and membership discounts.
package discounts

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/grpcx"
	"github.com/hoaht-8203/courtops/libs/rpc/loyaltyv1"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

type Voucher struct {
	ID       string
	Code     string
	Discount decimal.Decimal
	Final    decimal.Decimal
}

type VoucherRequest struct {
	Code        string
	CustomerID  string
	OrderTotal  decimal.Decimal
	BookingDate string
	StartTime   string
}

type Provider interface {
	ValidateVoucher(ctx context.Context, req VoucherRequest) (Voucher, error)
	// MembershipPercent returns the active membership discount, zero when none.
	MembershipPercent(ctx context.Context, customerID string) (decimal.Decimal, error)
}

type staticProvider struct{}

// NewStaticProvider grants no membership discount and refuses vouchers.
func NewStaticProvider() Provider {
	return staticProvider{}
}

func (staticProvider) ValidateVoucher(context.Context, VoucherRequest) (Voucher, error) {
	return Voucher{}, apperr.Unavailable("voucher service is not configured")
}

func (staticProvider) MembershipPercent(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type grpcProvider struct {
	client *loyaltyv1.Client
	logger *slog.Logger
}

func NewLoyaltyProvider(logger *slog.Logger, addr string) (Provider, *grpc.ClientConn, error) {
	if addr == "" {
		return NewStaticProvider(), nil, nil
	}
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{Timeout: 3 * time.Second, Retries: 2})
	if err != nil {
		logger.Warn("loyalty provider unavailable, using static discounts", "err", err)
		return NewStaticProvider(), nil, nil
	}
	logger.Info("grpc loyalty provider enabled", "addr", addr)
	return &grpcProvider{client: loyaltyv1.NewClient(conn), logger: logger}, conn, nil
}

func (p *grpcProvider) ValidateVoucher(ctx context.Context, req VoucherRequest) (Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := p.client.ValidateVoucher(ctx, &loyaltyv1.ValidateVoucherRequest{
		Code:        req.Code,
		CustomerID:  req.CustomerID,
		OrderTotal:  req.OrderTotal.String(),
		BookingDate: req.BookingDate,
		StartTime:   req.StartTime,
	})
	if err != nil {
		return Voucher{}, grpcx.ErrorFromStatus(err)
	}
	discount, err := decimal.NewFromString(resp.DiscountAmount)
	if err != nil {
		return Voucher{}, apperr.Unavailable("loyalty-service returned a malformed discount")
	}
	final, err := decimal.NewFromString(resp.FinalAmount)
	if err != nil {
		return Voucher{}, apperr.Unavailable("loyalty-service returned a malformed amount")
	}
	return Voucher{ID: resp.VoucherID, Code: resp.Code, Discount: discount, Final: final}, nil
}

// MembershipPercent degrades to no discount when loyalty-service is down so
// bookings can still be taken.
func (p *grpcProvider) MembershipPercent(ctx context.Context, customerID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := p.client.GetMembershipDiscount(ctx, &loyaltyv1.MembershipDiscountRequest{CustomerID: customerID})
	if err != nil {
		p.logger.Warn("membership discount lookup failed; booking without discount", "err", err, "customer_id", customerID)
		return decimal.Zero, nil
	}
	if !resp.Active {
		return decimal.Zero, nil
	}
	pct, err := decimal.NewFromString(resp.DiscountPercent)
	if err != nil {
		return decimal.Zero, nil
	}
	return pct, nil
}
