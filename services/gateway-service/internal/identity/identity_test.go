package identity

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

const secret = "test-secret"

type fixed map[string]policy.Access

func (f fixed) Access(_, path string) policy.Access {
	if a, ok := f[path]; ok {
		return a
	}
	return policy.Staff
}

func token(t *testing.T, sub, role, name string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims(sub, role, name, "courtops", time.Hour), secret)
	require.NoError(t, err)
	return tok
}

type seen struct {
	called          bool
	user, role, who string
}

func run(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *seen) {
	t.Helper()
	s := &seen{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		s.user = r.Header.Get(httpx.HeaderUserID)
		s.role = r.Header.Get(httpx.HeaderRole)
		s.who = r.Header.Get(httpx.HeaderUserName)
		w.WriteHeader(http.StatusOK)
	})
	p := fixed{"/public": policy.Public, "/mine": policy.Customer, "/admin": policy.Admin}
	v := Verifiers{auth.HS256Verifier{Secret: secret}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	Middleware(v, p, logger)(next).ServeHTTP(rec, req)
	return rec, s
}

func TestValidTokenSetsIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/mine", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", httpx.RoleCustomer, "Lan"))
	rec, s := run(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", s.user)
	assert.Equal(t, httpx.RoleCustomer, s.role)
	assert.Equal(t, "Lan", s.who)
}

func TestSpoofedHeadersAreStripped(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	req.Header.Set(httpx.HeaderUserID, "root")
	req.Header.Set(httpx.HeaderRole, httpx.RoleAdmin)
	rec, s := run(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.user)
	assert.Empty(t, s.role)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(httpx.HeaderRole, httpx.RoleAdmin)
	rec, s = run(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, s.called)
}

func TestRoleEnforced(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u2", httpx.RoleStaff, ""))
	rec, s := run(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, s.called)

	req = httptest.NewRequest(http.MethodGet, "/staff-only", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u3", httpx.RoleCustomer, ""))
	rec, _ = run(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBadTokens(t *testing.T) {
	for _, h := range []string{"Bearer garbage", "Basic dXNlcjpwYXNz", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/mine", nil)
		req.Header.Set("Authorization", h)
		rec, s := run(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, h)
		assert.False(t, s.called, h)
	}

	// Public routes ignore a stale token.
	req := httptest.NewRequest(http.MethodPost, "/public", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec, s := run(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, s.user)
}

func TestPreflightPassesThrough(t *testing.T) {
	rec, s := run(t, httptest.NewRequest(http.MethodOptions, "/admin", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.called)
}

func TestVerifiersFallBack(t *testing.T) {
	v := Verifiers{auth.HS256Verifier{Secret: "other"}, auth.HS256Verifier{Secret: secret}}
	claims, err := v.Verify(token(t, "u1", httpx.RoleAdmin, ""))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	_, err = Verifiers{}.Verify("x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
