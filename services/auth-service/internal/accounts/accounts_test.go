package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/security"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/sessions"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/tokens"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/users"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noTx struct{}

func (noTx) InTx(_ context.Context, fn func(pgx.Tx) error) error { return fn(nil) }

type memUsers struct {
	byID map[string]users.User
}

func (m *memUsers) Create(_ context.Context, _ pgx.Tx, u users.User) (users.User, error) {
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return users.User{}, apperr.Conflict("email already registered")
		}
	}
	m.byID[u.ID] = u
	return u, nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (users.User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (m *memUsers) ByID(_ context.Context, id string) (users.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) List(context.Context, string, int) ([]users.User, error) { return nil, nil }

func (m *memUsers) SetActive(_ context.Context, _ pgx.Tx, id string, active bool) (users.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	u.IsActive = active
	m.byID[id] = u
	return u, nil
}

type memSessions struct {
	byHash map[string]sessions.RefreshToken
	seq    int
}

func (m *memSessions) Create(_ context.Context, _ pgx.Tx, userID, hash string, expiresAt time.Time) error {
	m.seq++
	m.byHash[hash] = sessions.RefreshToken{ID: string(rune('a' + m.seq)), UserID: userID, Hash: hash, ExpiresAt: expiresAt}
	return nil
}

func (m *memSessions) Lock(_ context.Context, _ pgx.Tx, hash string) (sessions.RefreshToken, error) {
	t, ok := m.byHash[hash]
	if !ok {
		return sessions.RefreshToken{}, sessions.ErrNotFound
	}
	return t, nil
}

func (m *memSessions) Revoke(_ context.Context, _ pgx.Tx, id string) error {
	now := time.Now()
	for h, t := range m.byHash {
		if t.ID == id && t.RevokedAt == nil {
			t.RevokedAt = &now
			m.byHash[h] = t
		}
	}
	return nil
}

func (m *memSessions) RevokeUser(_ context.Context, _ pgx.Tx, userID string) (int64, error) {
	var n int64
	now := time.Now()
	for h, t := range m.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			m.byHash[h] = t
			n++
		}
	}
	return n, nil
}

func (m *memSessions) live(userID string) int {
	n := 0
	for _, t := range m.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

type harness struct {
	svc      *Service
	users    *memUsers
	sessions *memSessions
	trail    []string
	emitted  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		users:    &memUsers{byID: map[string]users.User{}},
		sessions: &memSessions{byHash: map[string]sessions.RefreshToken{}},
	}
	h.svc = New(noTx{}, h.users, h.sessions, tokens.NewHS256Signer("test-secret"), Config{})
	h.svc.record = func(_ context.Context, _ pgx.Tx, eventType, _ string, _ map[string]any) error {
		h.trail = append(h.trail, eventType)
		return nil
	}
	h.svc.emit = func(_ context.Context, _ pgx.Tx, _, eventType string, _ any) error {
		h.emitted = append(h.emitted, eventType)
		return nil
	}
	return h
}

var signup = users.Signup{Email: " Lan@Example.com ", Password: "correct-horse", FullName: "Lan Nguyen", Phone: "0901"}

func TestRegisterCreatesCustomerAndSignsIn(t *testing.T) {
	h := newHarness(t)
	in := signup
	in.Role = httpx.RoleAdmin // ignored for self sign-up
	out, err := h.svc.Register(context.Background(), in, Meta{IP: "1.2.3.4"})
	require.NoError(t, err)

	assert.Equal(t, "lan@example.com", out.User.Email)
	assert.Equal(t, httpx.RoleCustomer, out.User.Role)
	assert.NotEmpty(t, out.AccessToken)
	assert.NotEmpty(t, out.RefreshToken)
	assert.Equal(t, "Bearer", out.TokenType)
	assert.Equal(t, 3600, out.ExpiresIn)
	assert.Equal(t, []string{events.UserRegistered}, h.emitted)
	assert.Equal(t, []string{security.UserRegistered}, h.trail)
	assert.Equal(t, 1, h.sessions.live(out.User.ID))

	me, err := h.svc.Me(context.Background(), out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, out.User.ID, me.ID)

	_, err = h.svc.Register(context.Background(), signup, Meta{})
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestRegisterValidates(t *testing.T) {
	h := newHarness(t)
	for _, in := range []users.Signup{
		{Email: "a@b.vn", Password: "short", FullName: "A"},
		{Email: "not-an-email", Password: "long-enough", FullName: "A"},
		{Email: "a@b.vn", Password: "long-enough"},
	} {
		_, err := h.svc.Register(context.Background(), in, Meta{})
		assert.Equal(t, 400, apperr.StatusOf(err), in)
	}
	assert.Empty(t, h.users.byID)
}

func TestCreateStaffRestrictsRoles(t *testing.T) {
	h := newHarness(t)
	admin := httpx.Actor{UserID: "admin-1", Role: httpx.RoleAdmin}

	in := signup
	in.Role = httpx.RoleCustomer
	_, err := h.svc.CreateStaff(context.Background(), admin, in, Meta{})
	assert.Equal(t, 400, apperr.StatusOf(err))

	in.Role = ""
	u, err := h.svc.CreateStaff(context.Background(), admin, in, Meta{})
	require.NoError(t, err)
	assert.Equal(t, httpx.RoleStaff, u.Role)
	assert.Equal(t, "admin-1", u.CreatedBy)
	assert.Zero(t, h.sessions.live(u.ID))
	assert.Equal(t, []string{security.UserCreated}, h.trail)
}

func TestLoginRecordsFailures(t *testing.T) {
	h := newHarness(t)
	reg, err := h.svc.Register(context.Background(), signup, Meta{})
	require.NoError(t, err)
	h.trail = nil

	_, err = h.svc.Login(context.Background(), "lan@example.com", "wrong-password", Meta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Login(context.Background(), "ghost@example.com", "whatever-pass", Meta{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	out, err := h.svc.Login(context.Background(), "LAN@example.com", "correct-horse", Meta{})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, out.User.ID)
	assert.Equal(t, []string{security.LoginFailed, security.LoginFailed, security.LoginSucceeded}, h.trail)
}

func TestDisabledAccountCannotSignIn(t *testing.T) {
	h := newHarness(t)
	reg, err := h.svc.Register(context.Background(), signup, Meta{})
	require.NoError(t, err)

	admin := httpx.Actor{UserID: "admin-1", Role: httpx.RoleAdmin}
	_, err = h.svc.SetActive(context.Background(), admin, reg.User.ID, false, Meta{})
	require.NoError(t, err)
	assert.Zero(t, h.sessions.live(reg.User.ID))

	_, err = h.svc.Login(context.Background(), signup.Email, signup.Password, Meta{})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = h.svc.Refresh(context.Background(), reg.RefreshToken, Meta{})
	assert.Error(t, err)

	_, err = h.svc.SetActive(context.Background(), admin, "admin-1", false, Meta{})
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	h := newHarness(t)
	reg, err := h.svc.Register(context.Background(), signup, Meta{})
	require.NoError(t, err)

	next, err := h.svc.Refresh(context.Background(), reg.RefreshToken, Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, next.RefreshToken)
	assert.Equal(t, 1, h.sessions.live(reg.User.ID))

	// Replaying the rotated token kills the session family.
	_, err = h.svc.Refresh(context.Background(), reg.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	assert.Zero(t, h.sessions.live(reg.User.ID))
	assert.Contains(t, h.trail, security.RefreshReused)

	_, err = h.svc.Refresh(context.Background(), next.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	_, err = h.svc.Refresh(context.Background(), "unknown", Meta{})
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshRejectsExpired(t *testing.T) {
	h := newHarness(t)
	reg, err := h.svc.Register(context.Background(), signup, Meta{})
	require.NoError(t, err)

	h.svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = h.svc.Refresh(context.Background(), reg.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	reg, err := h.svc.Register(context.Background(), signup, Meta{})
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(context.Background(), reg.RefreshToken, Meta{}))
	require.NoError(t, h.svc.Logout(context.Background(), reg.RefreshToken, Meta{}))
	require.NoError(t, h.svc.Logout(context.Background(), "unknown", Meta{}))
	assert.Zero(t, h.sessions.live(reg.User.ID))
	assert.Equal(t, 400, apperr.StatusOf(h.svc.Logout(context.Background(), "", Meta{})))
}

func TestMeRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Me(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRotateKeyNeedsKeyRing(t *testing.T) {
	h := newHarness(t)
	err := h.svc.RotateKey(context.Background(), httpx.Actor{UserID: "admin-1"}, "kid", Meta{})
	assert.Equal(t, 409, apperr.StatusOf(err))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("pass1234")
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword(hash, "pass1234"))
	assert.Error(t, VerifyPassword(hash, "wrong-pass"))
}
