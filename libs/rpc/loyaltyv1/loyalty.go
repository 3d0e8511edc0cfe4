// Package loyaltyv1 is the voucher and membership RPC contract served by
// loyalty-service.
package loyaltyv1

import (
	"context"

	"github.com/hoaht-8203/courtops/libs/grpcx"
	"google.golang.org/grpc"
)

const (
	ServiceName                 = "loyalty.v1.LoyaltyService"
	ValidateVoucherMethod       = "/" + ServiceName + "/ValidateVoucher"
	GetMembershipDiscountMethod = "/" + ServiceName + "/GetMembershipDiscount"
)

type ValidateVoucherRequest struct {
	Code        string `json:"code"`
	CustomerID  string `json:"customer_id"`
	OrderTotal  string `json:"order_total"`
	BookingDate string `json:"booking_date,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
}

type ValidateVoucherResponse struct {
	VoucherID      string `json:"voucher_id"`
	Code           string `json:"code"`
	DiscountAmount string `json:"discount_amount"`
	FinalAmount    string `json:"final_amount"`
}

type MembershipDiscountRequest struct {
	CustomerID string `json:"customer_id"`
}

type MembershipDiscountResponse struct {
	Active           bool   `json:"active"`
	UserMembershipID string `json:"user_membership_id,omitempty"`
	MembershipName   string `json:"membership_name,omitempty"`
	DiscountPercent  string `json:"discount_percent"`
}

type LoyaltyServer interface {
	ValidateVoucher(ctx context.Context, req *ValidateVoucherRequest) (*ValidateVoucherResponse, error)
	GetMembershipDiscount(ctx context.Context, req *MembershipDiscountRequest) (*MembershipDiscountResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoyaltyServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ValidateVoucher",
			Handler: grpcx.StructMethod(ValidateVoucherMethod, func(srv any, ctx context.Context, req *ValidateVoucherRequest) (*ValidateVoucherResponse, error) {
				return srv.(LoyaltyServer).ValidateVoucher(ctx, req)
			}),
		},
		{
			MethodName: "GetMembershipDiscount",
			Handler: grpcx.StructMethod(GetMembershipDiscountMethod, func(srv any, ctx context.Context, req *MembershipDiscountRequest) (*MembershipDiscountResponse, error) {
				return srv.(LoyaltyServer).GetMembershipDiscount(ctx, req)
			}),
		},
	},
	Metadata: "loyalty/v1/loyalty.proto",
}

func RegisterLoyaltyServer(s grpc.ServiceRegistrar, srv LoyaltyServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ValidateVoucher(ctx context.Context, req *ValidateVoucherRequest) (*ValidateVoucherResponse, error) {
	var resp ValidateVoucherResponse
	if err := grpcx.InvokeStruct(ctx, c.cc, ValidateVoucherMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetMembershipDiscount(ctx context.Context, req *MembershipDiscountRequest) (*MembershipDiscountResponse, error) {
	var resp MembershipDiscountResponse
	if err := grpcx.InvokeStruct(ctx, c.cc, GetMembershipDiscountMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
