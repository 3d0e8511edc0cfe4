// Package quotes prices bookings through court-service, optionally caching
// answers in Redis.
package quotes

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/grpcx"
	"github.com/hoaht-8203/courtops/libs/rpc/pricingv1"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

// Provider answers price quotes.
type Provider interface {
	Quote(ctx context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error)
}

// Amount parses the quoted total.
func Amount(resp *pricingv1.QuoteResponse) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return decimal.Zero, errors.New("court-service returned a malformed amount")
	}
	return d, nil
}

type grpcProvider struct {
	client *pricingv1.Client
}

// NewProvider connects lazily to court-service at addr.
func NewProvider(addr string) (Provider, *grpc.ClientConn, error) {
	if addr == "" {
		return unavailable{}, nil, nil
	}
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{Timeout: 3 * time.Second, Retries: 2})
	if err != nil {
		return nil, nil, err
	}
	return &grpcProvider{client: pricingv1.NewClient(conn)}, conn, nil
}

func (p *grpcProvider) Quote(ctx context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := p.client.Quote(ctx, req)
	if err != nil {
		return nil, grpcx.ErrorFromStatus(err)
	}
	return resp, nil
}

type unavailable struct{}

func (unavailable) Quote(context.Context, *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	return nil, apperr.Unavailable("court pricing is not configured")
}

// Cached memoises quotes in Redis for ttl. Cache failures fall through to
// the wrapped provider.
type Cached struct {
	next   Provider
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Provider, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(req *pricingv1.QuoteRequest) string {
	raw, _ := json.Marshal(req)
	sum := sha1.Sum(raw)
	return "courtops:quote:" + hex.EncodeToString(sum[:])
}

func (c *Cached) Quote(ctx context.Context, req *pricingv1.QuoteRequest) (*pricingv1.QuoteResponse, error) {
	key := cacheKey(req)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var resp pricingv1.QuoteResponse
		if json.Unmarshal(raw, &resp) == nil {
			return &resp, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("quote cache read failed", "err", err)
	}

	resp, err := c.next.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(resp); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("quote cache write failed", "err", err)
		}
	}
	return resp, nil
}
