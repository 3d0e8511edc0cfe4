package loyaltyv1

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeLoyalty struct{}

func (fakeLoyalty) ValidateVoucher(_ context.Context, req *ValidateVoucherRequest) (*ValidateVoucherResponse, error) {
	if req.Code != "SUMMER" {
		return nil, apperr.Invalid("voucher %s does not exist", req.Code)
	}
	return &ValidateVoucherResponse{VoucherID: "v1", Code: req.Code, DiscountAmount: "10000", FinalAmount: "90000"}, nil
}

func (fakeLoyalty) GetMembershipDiscount(_ context.Context, req *MembershipDiscountRequest) (*MembershipDiscountResponse, error) {
	return &MembershipDiscountResponse{Active: req.CustomerID == "c1", DiscountPercent: "10"}, nil
}

func dial(t *testing.T) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterLoyaltyServer(srv, fakeLoyalty{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestValidateVoucher(t *testing.T) {
	c := dial(t)
	resp, err := c.ValidateVoucher(context.Background(), &ValidateVoucherRequest{Code: "SUMMER", OrderTotal: "100000"})
	require.NoError(t, err)
	assert.Equal(t, "90000", resp.FinalAmount)

	_, err = c.ValidateVoucher(context.Background(), &ValidateVoucherRequest{Code: "NOPE"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperr.StatusOf(err))
}

func TestMembershipDiscount(t *testing.T) {
	c := dial(t)
	resp, err := c.GetMembershipDiscount(context.Background(), &MembershipDiscountRequest{CustomerID: "c1"})
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "10", resp.DiscountPercent)
}
