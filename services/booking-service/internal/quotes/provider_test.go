package quotes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	redis.Cmdable
	data map[string]string
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Quote(_ context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	p.calls++
	return &pricingv1.QuoteResponse{CourtID: req.CourtID, Amount: "120000"}, nil
}

func TestCachedQuoteHitsBackendOnce(t *testing.T) {
	backend := &countingProvider{}
	cache := NewCached(backend, &memRedis{data: map[string]string{}}, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := &pricingv1.QuoteRequest{CourtID: "c1", StartDate: "2025-03-03", StartTime: "18:00", EndTime: "19:00"}

	for i := 0; i < 3; i++ {
		resp, err := cache.Quote(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "120000", resp.Amount)
	}
	assert.Equal(t, 1, backend.calls)

	other := *req
	other.EndTime = "20:00"
	_, err := cache.Quote(context.Background(), &other)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

func TestUnconfiguredProviderIsUnavailable(t *testing.T) {
	p, conn, err := NewProvider("")
	require.NoError(t, err)
	assert.Nil(t, conn)
	_, err = p.Quote(context.Background(), &pricingv1.QuoteRequest{})
	assert.Error(t, err)
}

func TestAmount(t *testing.T) {
	amt, err := Amount(&pricingv1.QuoteResponse{Amount: "150000.50"})
	require.NoError(t, err)
	assert.Equal(t, "150000.5", amt.String())
	_, err = Amount(&pricingv1.QuoteResponse{Amount: "abc"})
	assert.Error(t, err)
}
