package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/accounts"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	Accounts

	signup  *users.Signup
	bearer  string
	refresh string
	active  *bool
	kid     string
	meta    accounts.Meta
	jwks    auth.JWKSet
}

func (f *fakeAccounts) Register(_ context.Context, in users.Signup, m accounts.Meta) (accounts.Tokens, error) {
	f.signup, f.meta = &in, m
	return accounts.Tokens{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}, nil
}

func (f *fakeAccounts) CreateStaff(_ context.Context, _ httpx.Actor, in users.Signup, _ accounts.Meta) (users.User, error) {
	f.signup = &in
	return users.User{ID: "u1", Role: in.Role}, nil
}

func (f *fakeAccounts) Refresh(_ context.Context, raw string, _ accounts.Meta) (accounts.Tokens, error) {
	f.refresh = raw
	return accounts.Tokens{}, accounts.ErrInvalidRefresh
}

func (f *fakeAccounts) Logout(_ context.Context, raw string, _ accounts.Meta) error {
	f.refresh = raw
	return nil
}

func (f *fakeAccounts) Me(_ context.Context, bearer string) (users.User, error) {
	f.bearer = bearer
	return users.User{ID: "u1"}, nil
}

func (f *fakeAccounts) SetActive(_ context.Context, _ httpx.Actor, id string, active bool, _ accounts.Meta) (users.User, error) {
	f.active = &active
	return users.User{ID: id, IsActive: active}, nil
}

func (f *fakeAccounts) RotateKey(_ context.Context, _ httpx.Actor, kid string, _ accounts.Meta) error {
	f.kid = kid
	return nil
}

func (f *fakeAccounts) JWKS() auth.JWKSet { return f.jwks }

func do(t *testing.T, a Accounts, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewAuthHandler(a).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func asRole(req *http.Request, role string) *http.Request {
	req.Header.Set(httpx.HeaderUserID, "admin-1")
	req.Header.Set(httpx.HeaderRole, role)
	return req
}

func TestSignUp(t *testing.T) {
	f := &fakeAccounts{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"a@b.vn","password":"long-enough","full_name":"A"}`))
	req.Header.Set("User-Agent", "test-agent")
	rec := do(t, f, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, f.signup)
	assert.Equal(t, "a@b.vn", f.signup.Email)
	assert.Equal(t, "test-agent", f.meta.UserAgent)

	rec = do(t, f, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(`{"email":"a@b.vn","admin":true}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshErrorsAreUnauthorized(t *testing.T) {
	f := &fakeAccounts{}
	rec := do(t, f, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":" abc "}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "abc", f.refresh)
}

func TestLogoutNoContent(t *testing.T) {
	rec := do(t, &fakeAccounts{}, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", strings.NewReader(`{"refresh_token":"abc"}`)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMeNeedsBearer(t *testing.T) {
	f := &fakeAccounts{}
	rec := do(t, f, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	rec = do(t, f, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-1", f.bearer)
}

func TestJWKS(t *testing.T) {
	rec := do(t, &fakeAccounts{}, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f := &fakeAccounts{jwks: auth.JWKSet{Keys: []auth.JWK{{Kty: "RSA", Kid: "k1"}}}}
	rec = do(t, f, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kid":"k1"`)
}

func TestUserAdminRoutes(t *testing.T) {
	f := &fakeAccounts{}
	body := `{"email":"s@b.vn","password":"long-enough","full_name":"S","role":"Staff"}`

	rec := do(t, f, httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, f, asRole(httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body)), httpx.RoleStaff))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, f, asRole(httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body)), httpx.RoleAdmin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Staff", f.signup.Role)

	rec = do(t, f, asRole(httptest.NewRequest(http.MethodPost, "/api/v1/users/not-a-uuid/deactivate", nil), httpx.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f, asRole(httptest.NewRequest(http.MethodPost, "/api/v1/users/7f0c2f1e-3c1a-4d4e-9a59-2b1f0c9d6e11/deactivate", nil), httpx.RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.active)
	assert.False(t, *f.active)

	rec = do(t, f, asRole(httptest.NewRequest(http.MethodPost, "/api/v1/signing-keys/rotate", strings.NewReader(`{"active_kid":"k2"}`)), httpx.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "k2", f.kid)
}
