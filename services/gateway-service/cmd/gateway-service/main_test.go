package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/gateway-service/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// echo answers with the identity headers it was given.
func echo(name string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", name)
		w.Header().Set("X-Seen-User", r.Header.Get(httpx.HeaderUserID))
		w.Header().Set("X-Seen-Role", r.Header.Get(httpx.HeaderRole))
		w.WriteHeader(http.StatusOK)
	}))
}

func newTestGateway(t *testing.T, limit int) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := settings{
		JWTSecret:          testSecret,
		BodyLimit:          1 << 20,
		RequestTimeout:     5 * time.Second,
		RateLimitPerMinute: limit,
		CORSAllowedOrigins: []string{"https://app.example.com"},
		CORSAllowedMethods: []string{"GET", "POST"},
		CORSMaxAge:         time.Minute,
	}
	upstreams := map[string]*string{
		"auth":         &cfg.AuthURL,
		"court":        &cfg.CourtURL,
		"booking":      &cfg.BookingURL,
		"billing":      &cfg.BillingURL,
		"loyalty":      &cfg.LoyaltyURL,
		"inventory":    &cfg.InventoryURL,
		"staff":        &cfg.StaffURL,
		"finance":      &cfg.FinanceURL,
		"scheduler":    &cfg.SchedulerURL,
		"notification": &cfg.NotificationURL,
		"audit":        &cfg.AuditURL,
	}
	for name, field := range upstreams {
		srv := echo(name)
		t.Cleanup(srv.Close)
		*field = srv.URL
	}

	table, err := policy.Default()
	require.NoError(t, err)
	h, err := newHandler(cfg, table, cfg.verifier(), httpx.NewRateLimiter(limit, time.Minute).Middleware(), logger)
	require.NoError(t, err)
	return h
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims("user-1", role, "Tester", "courtops", time.Hour), testSecret)
	require.NoError(t, err)
	return tok
}

func do(h http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRouteReachesUpstreamAnonymously(t *testing.T) {
	h := newTestGateway(t, 100)
	rec := do(h, http.MethodGet, "/api/v1/courts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "court", rec.Header().Get("X-Upstream"))
	assert.Empty(t, rec.Header().Get("X-Seen-User"))
}

func TestSpoofedIdentityHeadersAreDropped(t *testing.T) {
	h := newTestGateway(t, 100)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/courts", nil)
	req.Header.Set(httpx.HeaderUserID, "someone-else")
	req.Header.Set(httpx.HeaderRole, httpx.RoleAdmin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Seen-User"))
	assert.Empty(t, rec.Header().Get("X-Seen-Role"))
}

func TestRoleEnforcement(t *testing.T) {
	h := newTestGateway(t, 100)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/audit-logs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/audit-logs", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/api/v1/audit-logs", token(t, httpx.RoleStaff)).Code)

	rec := do(h, http.MethodGet, "/api/v1/audit-logs", token(t, httpx.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audit", rec.Header().Get("X-Upstream"))
	assert.Equal(t, "user-1", rec.Header().Get("X-Seen-User"))
	assert.Equal(t, httpx.RoleAdmin, rec.Header().Get("X-Seen-Role"))

	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/api/v1/cashflows", token(t, httpx.RoleCustomer)).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/bookings/me", token(t, httpx.RoleCustomer)).Code)
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := newTestGateway(t, 100)
	rec := do(h, http.MethodGet, "/api/v1/nowhere", token(t, httpx.RoleAdmin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitPerUser(t *testing.T) {
	h := newTestGateway(t, 2)
	tok := token(t, httpx.RoleStaff)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/cashflows", tok).Code)
	}
	rec := do(h, http.MethodGet, "/api/v1/cashflows", tok)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthAndCheckoutPagesBypassPolicy(t *testing.T) {
	h := newTestGateway(t, 100)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	rec := do(h, http.MethodGet, "/billing/success?payment_ref=PAY-1&session_id=cs_%3Cx%3E", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "PAY-1")
	assert.Contains(t, rec.Body.String(), "cs_&lt;x&gt;")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestGateway(t, 100)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bookings", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
