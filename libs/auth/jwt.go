package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by access tokens issued by auth-service.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for subject valid for ttl from now.
func NewClaims(subject, role, name, issuer string, ttl time.Duration) Claims {
	now := time.Now().UTC()
	return Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("hs256 secret is empty")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodHS256.Alg()}, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
}

func VerifyRS256(token string, pubKey *rsa.PublicKey) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodRS256.Alg()}, func(*jwt.Token) (any, error) {
		return pubKey, nil
	})
}

func parse(token string, methods []string, keyFunc jwt.Keyfunc) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

type HS256Verifier struct {
	Secret string
}

func (v HS256Verifier) Verify(token string) (*Claims, error) {
	return ParseAndVerifyHS256(token, v.Secret)
}

// JWKSVerifier resolves RS256 keys by kid from a JWKS endpoint.
type JWKSVerifier struct {
	Client *JWKSClient
}

func (v JWKSVerifier) Verify(token string) (*Claims, error) {
	return VerifyRS256Kid(token, v.Client.Get)
}

// VerifyRS256Kid checks an RS256 token against the key lookup returns for
// its kid header.
func VerifyRS256Kid(token string, lookup func(kid string) (*rsa.PublicKey, error)) (*Claims, error) {
	return parse(token, []string{jwt.SigningMethodRS256.Alg()}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return lookup(kid)
	})
}
