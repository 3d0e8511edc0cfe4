// Package accounts implements sign-up, sign-in and session rotation.
package accounts

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/events"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/security"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/sessions"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/tokens"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/users"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = apperr.New(http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	ErrInvalidRefresh     = apperr.New(http.StatusUnauthorized, "invalid_refresh_token", "refresh token is invalid or expired")
	ErrInvalidToken       = apperr.New(http.StatusUnauthorized, "invalid_token", "access token is invalid")
	ErrDisabled           = apperr.Forbidden("account is disabled")
)

type Users interface {
	Create(ctx context.Context, tx pgx.Tx, u users.User) (users.User, error)
	ByEmail(ctx context.Context, email string) (users.User, error)
	ByID(ctx context.Context, id string) (users.User, error)
	List(ctx context.Context, role string, limit int) ([]users.User, error)
	SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) (users.User, error)
}

type Sessions interface {
	Create(ctx context.Context, tx pgx.Tx, userID, hash string, expiresAt time.Time) error
	Lock(ctx context.Context, tx pgx.Tx, hash string) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, tx pgx.Tx, id string) error
	RevokeUser(ctx context.Context, tx pgx.Tx, userID string) (int64, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Config tunes token lifetimes. Zero values take the defaults.
type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Tokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	User         users.User `json:"user"`
}

// Meta describes the request behind an action, for the security trail.
type Meta struct {
	IP        string
	UserAgent string
}

func (m Meta) with(kv map[string]any) map[string]any {
	out := map[string]any{}
	if m.IP != "" {
		out["ip"] = m.IP
	}
	if m.UserAgent != "" {
		out["user_agent"] = m.UserAgent
	}
	for k, v := range kv {
		out[k] = v
	}
	return out
}

type Service struct {
	tx       Transactor
	users    Users
	sessions Sessions
	signer   tokens.Signer
	cfg      Config

	// Overridden in tests, which run without a database.
	record func(ctx context.Context, tx pgx.Tx, eventType, actorID string, metadata map[string]any) error
	emit   func(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload any) error
	now    func() time.Time
}

func New(tx Transactor, u Users, s Sessions, signer tokens.Signer, cfg Config) *Service {
	if cfg.Issuer == "" {
		cfg.Issuer = "courtops"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		tx:       tx,
		users:    u,
		sessions: s,
		signer:   signer,
		cfg:      cfg,
		record:   security.Record,
		emit: func(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload any) error {
			return outbox.EnqueueJSON(ctx, tx, "user", aggregateID, eventType, payload)
		},
		now: time.Now,
	}
}

// Register creates a customer account and signs it in.
func (s *Service) Register(ctx context.Context, in users.Signup, meta Meta) (Tokens, error) {
	in.Role = httpx.RoleCustomer
	return s.create(ctx, in, "", security.UserRegistered, meta, true)
}

// CreateStaff lets an admin open an Admin or Staff account.
func (s *Service) CreateStaff(ctx context.Context, actor httpx.Actor, in users.Signup, meta Meta) (users.User, error) {
	if in.Role == "" {
		in.Role = httpx.RoleStaff
	}
	if in.Role != httpx.RoleAdmin && in.Role != httpx.RoleStaff {
		return users.User{}, apperr.Invalid("role must be Admin or Staff")
	}
	out, err := s.create(ctx, in, actor.UserID, security.UserCreated, meta, false)
	return out.User, err
}

func (s *Service) create(ctx context.Context, in users.Signup, createdBy, eventType string, meta Meta, signIn bool) (Tokens, error) {
	if err := in.Normalize(); err != nil {
		return Tokens{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Tokens{}, err
	}
	u := users.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Phone:        in.Phone,
		Role:         in.Role,
		IsActive:     true,
		CreatedBy:    createdBy,
	}
	var out Tokens
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		created, err := s.users.Create(ctx, tx, u)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, tx, created.ID, events.UserRegistered, events.UserRegisteredPayload{
			UserID:   created.ID,
			Email:    created.Email,
			FullName: created.FullName,
			Phone:    created.Phone,
			Role:     created.Role,
			At:       s.now().UTC(),
		}); err != nil {
			return err
		}
		actorID := createdBy
		if actorID == "" {
			actorID = created.ID
		}
		if err := s.record(ctx, tx, eventType, actorID, meta.with(map[string]any{
			"user_id": created.ID,
			"email":   created.Email,
			"role":    created.Role,
		})); err != nil {
			return err
		}
		if !signIn {
			out.User = created
			return nil
		}
		out, err = s.issue(ctx, tx, created)
		return err
	})
	return out, err
}

// Login exchanges credentials for a token pair. Failures are recorded
// without revealing whether the email exists.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (Tokens, error) {
	email = users.NormalizeEmail(email)
	if email == "" || password == "" {
		return Tokens{}, apperr.Invalid("email and password are required")
	}
	u, err := s.users.ByEmail(ctx, email)
	switch {
	case errors.Is(err, users.ErrNotFound):
		return Tokens{}, s.loginFailed(ctx, "", email, "unknown_email", meta)
	case err != nil:
		return Tokens{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return Tokens{}, s.loginFailed(ctx, u.ID, email, "wrong_password", meta)
	}
	if !u.IsActive {
		if err := s.loginFailed(ctx, u.ID, email, "disabled", meta); !errors.Is(err, ErrInvalidCredentials) {
			return Tokens{}, err
		}
		return Tokens{}, ErrDisabled
	}

	var out Tokens
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.record(ctx, tx, security.LoginSucceeded, u.ID, meta.with(nil)); err != nil {
			return err
		}
		issued, err := s.issue(ctx, tx, u)
		out = issued
		return err
	})
	return out, err
}

// loginFailed records the attempt and returns ErrInvalidCredentials, or the
// storage error if recording failed.
func (s *Service) loginFailed(ctx context.Context, userID, email, reason string, meta Meta) error {
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.record(ctx, tx, security.LoginFailed, userID, meta.with(map[string]any{"email": email, "reason": reason}))
	})
	if err != nil {
		return err
	}
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated ends every session of its owner.
func (s *Service) Refresh(ctx context.Context, raw string, meta Meta) (Tokens, error) {
	if raw == "" {
		return Tokens{}, apperr.Invalid("refresh_token is required")
	}
	var (
		out    Tokens
		reused bool
	)
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		tok, err := s.sessions.Lock(ctx, tx, sessions.HashToken(raw))
		if errors.Is(err, sessions.ErrNotFound) {
			return ErrInvalidRefresh
		}
		if err != nil {
			return err
		}
		if tok.RevokedAt != nil {
			reused = true
			n, err := s.sessions.RevokeUser(ctx, tx, tok.UserID)
			if err != nil {
				return err
			}
			return s.record(ctx, tx, security.RefreshReused, tok.UserID, meta.with(map[string]any{"revoked_sessions": n}))
		}
		if !tok.Usable(s.now()) {
			return ErrInvalidRefresh
		}
		u, err := s.users.ByID(ctx, tok.UserID)
		if errors.Is(err, users.ErrNotFound) {
			return ErrInvalidRefresh
		}
		if err != nil {
			return err
		}
		if !u.IsActive {
			return ErrDisabled
		}
		if err := s.sessions.Revoke(ctx, tx, tok.ID); err != nil {
			return err
		}
		if err := s.record(ctx, tx, security.TokenRefreshed, u.ID, meta.with(nil)); err != nil {
			return err
		}
		out, err = s.issue(ctx, tx, u)
		return err
	})
	if err == nil && reused {
		return Tokens{}, ErrInvalidRefresh
	}
	return out, err
}

// Logout revokes raw. Unknown or already revoked tokens are not an error.
func (s *Service) Logout(ctx context.Context, raw string, meta Meta) error {
	if raw == "" {
		return apperr.Invalid("refresh_token is required")
	}
	return s.tx.InTx(ctx, func(tx pgx.Tx) error {
		tok, err := s.sessions.Lock(ctx, tx, sessions.HashToken(raw))
		if errors.Is(err, sessions.ErrNotFound) {
			return nil
		}
		if err != nil || tok.RevokedAt != nil {
			return err
		}
		if err := s.sessions.Revoke(ctx, tx, tok.ID); err != nil {
			return err
		}
		return s.record(ctx, tx, security.LoggedOut, tok.UserID, meta.with(nil))
	})
}

// Me resolves a bearer access token to its account.
func (s *Service) Me(ctx context.Context, bearer string) (users.User, error) {
	claims, err := s.signer.Verify(bearer)
	if err != nil {
		return users.User{}, ErrInvalidToken
	}
	u, err := s.users.ByID(ctx, claims.Subject)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, ErrInvalidToken
	}
	return u, err
}

func (s *Service) List(ctx context.Context, role string, limit int) ([]users.User, error) {
	if role != "" && !users.ValidRole(role) {
		return nil, apperr.Invalid("role must be Admin, Staff or Customer")
	}
	return s.users.List(ctx, role, limit)
}

// SetActive enables or disables an account. Disabling also ends its sessions.
func (s *Service) SetActive(ctx context.Context, actor httpx.Actor, id string, active bool, meta Meta) (users.User, error) {
	if !active && id == actor.UserID {
		return users.User{}, apperr.Conflict("you cannot disable your own account")
	}
	var out users.User
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		u, err := s.users.SetActive(ctx, tx, id, active)
		if err != nil {
			return err
		}
		out = u
		eventType := security.UserReactivated
		if !active {
			eventType = security.UserDeactivated
			if _, err := s.sessions.RevokeUser(ctx, tx, id); err != nil {
				return err
			}
		}
		return s.record(ctx, tx, eventType, actor.UserID, meta.with(map[string]any{"user_id": id}))
	})
	return out, err
}

// RotateKey switches the signing key, recording who did it.
func (s *Service) RotateKey(ctx context.Context, actor httpx.Actor, kid string, meta Meta) error {
	if kid == "" {
		return apperr.Invalid("active_kid is required")
	}
	if err := s.signer.SetActiveKid(kid); err != nil {
		if errors.Is(err, tokens.ErrRotationUnsupported) {
			return apperr.Conflict("key rotation is not enabled")
		}
		return apperr.Invalid("unknown active_kid")
	}
	return s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.record(ctx, tx, security.SigningKeyRotated, actor.UserID, meta.with(map[string]any{"active_kid": kid}))
	})
}

func (s *Service) JWKS() auth.JWKSet {
	return s.signer.JWKS()
}

func (s *Service) issue(ctx context.Context, tx pgx.Tx, u users.User) (Tokens, error) {
	access, err := s.signer.Sign(auth.NewClaims(u.ID, u.Role, u.FullName, s.cfg.Issuer, s.cfg.AccessTTL))
	if err != nil {
		return Tokens{}, err
	}
	raw, hash, err := sessions.NewToken()
	if err != nil {
		return Tokens{}, err
	}
	if err := s.sessions.Create(ctx, tx, u.ID, hash, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
		User:         u,
	}, nil
}

func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
