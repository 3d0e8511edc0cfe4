// Package identity turns bearer tokens into the identity headers upstream
// services trust, enforcing the route policy on the way.
package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/services/gateway-service/internal/policy"
)

var (
	errUnauthenticated = apperr.New(http.StatusUnauthorized, "unauthenticated", "missing or invalid bearer token")
	errForbidden       = apperr.Forbidden("your role cannot access this resource")
)

// Verifiers tries each verifier in turn, so RS256 tokens from the JWKS and
// HS256 tokens from the shared secret are both accepted.
type Verifiers []auth.Verifier

func (vs Verifiers) Verify(token string) (*auth.Claims, error) {
	err := auth.ErrInvalidToken
	for _, v := range vs {
		claims, verr := v.Verify(token)
		if verr == nil {
			return claims, nil
		}
		err = verr
	}
	return nil, err
}

type Policy interface {
	Access(method, path string) policy.Access
}

// Middleware strips caller-supplied identity headers, verifies the bearer
// token and checks the route's access level. A bad token on a public route
// is ignored and the request goes through anonymously.
func Middleware(v auth.Verifier, p Policy, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range []string{httpx.HeaderUserID, httpx.HeaderRole, httpx.HeaderUserName} {
				r.Header.Del(h)
			}
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			access := p.Access(r.Method, r.URL.Path)

			claims, err := fromRequest(r, v)
			switch {
			case err == nil && claims != nil:
				r.Header.Set(httpx.HeaderUserID, claims.Subject)
				r.Header.Set(httpx.HeaderRole, claims.Role)
				if claims.Name != "" {
					r.Header.Set(httpx.HeaderUserName, claims.Name)
				}
			case access == policy.Public:
			default:
				if err != nil {
					logger.Debug("token rejected", "path", r.URL.Path, "err", err)
				}
				httpx.WriteError(w, r, errUnauthenticated)
				return
			}

			if !access.Allows(r.Header.Get(httpx.HeaderRole)) {
				httpx.WriteError(w, r, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errMalformedHeader = errors.New("malformed authorization header")

// fromRequest returns nil claims and nil error when no token was sent.
func fromRequest(r *http.Request, v auth.Verifier) (*auth.Claims, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, nil
	}
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return nil, errMalformedHeader
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return nil, errMalformedHeader
	}
	return v.Verify(token)
}
