package grpcx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type sample struct {
	Name   string   `json:"name"`
	Amount string   `json:"amount"`
	Days   []int    `json:"days"`
	Tags   []string `json:"tags,omitempty"`
}

func TestStructRoundTrip(t *testing.T) {
	in := sample{Name: "Court 1", Amount: "120000.50", Days: []int{2, 8}}
	s, err := ToStruct(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, FromStruct(s, &out))
	assert.Equal(t, in, out)
}

func TestStatusMapping(t *testing.T) {
	err := StatusFromError(apperr.NotFound("court %s not found", "c1"))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())

	back := ErrorFromStatus(err)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(back))

	st, _ = status.FromError(StatusFromError(errors.New("db down")))
	assert.Equal(t, codes.Internal, st.Code())
}

func TestServerAdoptsCallerRequestID(t *testing.T) {
	intercept := UnaryServerRequestIDInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/courtops.pricing.v1.Pricing/Quote"}
	var seen string
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	_, err := intercept(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "req-42", seen)

	_, err = intercept(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Len(t, seen, 36)
}

func TestClientTimeoutOnlyWithoutDeadline(t *testing.T) {
	intercept := unaryClientTimeoutInterceptor(time.Second)
	var deadline time.Time
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		deadline, _ = ctx.Deadline()
		return nil
	}

	require.NoError(t, intercept(context.Background(), "/m", nil, nil, nil, invoker))
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, intercept(ctx, "/m", nil, nil, nil, invoker))
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestRetryServiceConfigCapsAttempts(t *testing.T) {
	assert.Contains(t, retryServiceConfig(2), `"maxAttempts":3`)
	assert.Contains(t, retryServiceConfig(9), `"maxAttempts":5`)
}
