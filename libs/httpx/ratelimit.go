package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
)

// counter records one hit on key and returns the hits seen in the current
// window together with the time left before the window resets.
type counter interface {
	hit(ctx context.Context, key string, now time.Time) (int64, time.Duration, error)
}

var errRateLimited = apperr.New(http.StatusTooManyRequests, "rate_limited", "too many requests")

// limitRate enforces limit hits per window on every caller bucket. When the
// counter fails the request is served if failOpen is set, refused otherwise.
func limitRate(c counter, limit int, logger *slog.Logger, failOpen bool) Middleware {
	ceiling := strconv.Itoa(limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n, left, err := c.hit(r.Context(), rateKey(r), time.Now())
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "request_id", RequestIDFromContext(r.Context()), "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, r, apperr.Unavailable("rate limiter unavailable"))
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", ceiling)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining(int64(limit), n), 10))
			if n > int64(limit) {
				h.Set("Retry-After", retryAfter(left))
				WriteError(w, r, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}

// retryAfter rounds d up to whole seconds, never below one.
func retryAfter(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// RateLimiter is an in-process fixed-window limiter for single-instance
// deployments and local development.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	hits  int64
	reset time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, buckets: map[string]*bucket{}}
}

func (rl *RateLimiter) Middleware() Middleware {
	return limitRate(rl, rl.limit, nil, false)
}

func (rl *RateLimiter) hit(_ context.Context, key string, now time.Time) (int64, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > rl.window {
		for k, b := range rl.buckets {
			if !now.Before(b.reset) {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b := rl.buckets[key]
	if b == nil || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(rl.window)}
		rl.buckets[key] = b
	}
	b.hits++
	return b.hits, b.reset.Sub(now), nil
}

// rateKey buckets authenticated callers by user and anonymous ones by IP.
func rateKey(r *http.Request) string {
	if uid := strings.TrimSpace(r.Header.Get(HeaderUserID)); uid != "" {
		return "u:" + uid
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
