// Package handlers exposes accounts over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/accounts"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/users"
)

var errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "sign in required")

type Accounts interface {
	Register(ctx context.Context, in users.Signup, meta accounts.Meta) (accounts.Tokens, error)
	CreateStaff(ctx context.Context, actor httpx.Actor, in users.Signup, meta accounts.Meta) (users.User, error)
	Login(ctx context.Context, email, password string, meta accounts.Meta) (accounts.Tokens, error)
	Refresh(ctx context.Context, raw string, meta accounts.Meta) (accounts.Tokens, error)
	Logout(ctx context.Context, raw string, meta accounts.Meta) error
	Me(ctx context.Context, bearer string) (users.User, error)
	List(ctx context.Context, role string, limit int) ([]users.User, error)
	SetActive(ctx context.Context, actor httpx.Actor, id string, active bool, meta accounts.Meta) (users.User, error)
	RotateKey(ctx context.Context, actor httpx.Actor, kid string, meta accounts.Meta) error
	JWKS() auth.JWKSet
}

type AuthHandler struct {
	accounts Accounts
}

func NewAuthHandler(a Accounts) *AuthHandler {
	return &AuthHandler{accounts: a}
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.SignUp)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
	mux.HandleFunc("GET /.well-known/jwks.json", h.JWKS)

	mux.HandleFunc("GET /api/v1/users", h.ListUsers)
	mux.HandleFunc("POST /api/v1/users", h.CreateStaff)
	mux.HandleFunc("POST /api/v1/users/{id}/deactivate", h.setActive(false))
	mux.HandleFunc("POST /api/v1/users/{id}/activate", h.setActive(true))
	mux.HandleFunc("POST /api/v1/signing-keys/rotate", h.Rotate)
}

func meta(r *http.Request) accounts.Meta {
	return accounts.Meta{IP: httpx.ActorFromRequest(r).IP, UserAgent: r.UserAgent()}
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (httpx.Actor, bool) {
	actor := httpx.ActorFromRequest(r)
	switch {
	case actor.UserID == "":
		httpx.WriteError(w, r, errUnauthenticated)
		return actor, false
	case actor.Role != httpx.RoleAdmin:
		httpx.WriteError(w, r, apperr.Forbidden("admin only"))
		return actor, false
	}
	return actor, true
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var in users.Signup
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.accounts.Register(r.Context(), in, meta(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.accounts.Login(r.Context(), req.Email, req.Password, meta(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := h.accounts.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken), meta(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.accounts.Logout(r.Context(), strings.TrimSpace(req.RefreshToken), meta(r)); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	token, ok := bearer(r)
	if !ok {
		httpx.WriteError(w, r, errUnauthenticated)
		return
	}
	u, err := h.accounts.Me(r.Context(), token)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	set := h.accounts.JWKS()
	if len(set.Keys) == 0 {
		httpx.WriteError(w, r, apperr.NotFound("jwks not available"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, set)
}

func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	limit, err := httpx.Limit(r, 100, 500)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.accounts.List(r.Context(), httpx.QueryString(r, "role"), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if list == nil {
		list = []users.User{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *AuthHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var in users.Signup
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	u, err := h.accounts.CreateStaff(r.Context(), actor, in, meta(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		id, err := httpx.PathUUID(r, "id")
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		u, err := h.accounts.SetActive(r.Context(), actor, id, active, meta(r))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, u)
	}
}

type rotateRequest struct {
	ActiveKid string `json:"active_kid"`
}

func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req rotateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.accounts.RotateKey(r.Context(), actor, strings.TrimSpace(req.ActiveKid), meta(r)); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
