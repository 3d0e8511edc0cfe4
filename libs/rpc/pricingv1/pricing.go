// Package pricingv1 is the court pricing RPC contract served by court-service.
package pricingv1

import (
	"context"

	"github.com/hoaht-8203/courtops/libs/grpcx"
	"google.golang.org/grpc"
)

const (
	ServiceName = "courtpricing.v1.PricingService"
	QuoteMethod = "/" + ServiceName + "/Quote"
)

// QuoteRequest asks for the price of a court booking. DaysOfWeek uses the
// custom numbering (Mon=2 ... Sun=8); empty means a single walk-in date.
type QuoteRequest struct {
	CourtID    string `json:"court_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
}

type DateQuote struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

type QuoteResponse struct {
	CourtID     string      `json:"court_id"`
	CourtName   string      `json:"court_name"`
	CourtStatus string      `json:"court_status"`
	Amount      string      `json:"amount"`
	PerDate     []DateQuote `json:"per_date"`
}

type PricingServer interface {
	Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PricingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Quote",
			Handler: grpcx.StructMethod(QuoteMethod, func(srv any, ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
				return srv.(PricingServer).Quote(ctx, req)
			}),
		},
	},
	Metadata: "courtpricing/v1/pricing.proto",
}

func RegisterPricingServer(s grpc.ServiceRegistrar, srv PricingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Quote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := grpcx.InvokeStruct(ctx, c.cc, QuoteMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
