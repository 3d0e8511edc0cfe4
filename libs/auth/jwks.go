package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("jwks key not found")

// JWK is the public RSA key representation served on /.well-known/jwks.json.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// PublicJWK encodes pub for publication under kid.
func PublicJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// PublicKey decodes the RSA modulus and exponent of k.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" || k.Kid == "" || k.N == "" || k.E == "" {
		return nil, fmt.Errorf("jwk %q: not a usable RSA key", k.Kid)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwk %q modulus: %w", k.Kid, err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwk %q exponent: %w", k.Kid, err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > math.MaxInt32 {
		return nil, fmt.Errorf("jwk %q: exponent out of range", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// JWKSClient caches the auth service's signing keys. Unknown kids trigger a
// refetch, but at most once per minInterval so forged kids cannot flood the
// endpoint.
type JWKSClient struct {
	url         string
	ttl         time.Duration
	minInterval time.Duration
	http        *http.Client
	now         func() time.Time

	mu        sync.Mutex
	fetchedAt time.Time
	triedAt   time.Time
	keys      map[string]*rsa.PublicKey
}

func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWKSClient{
		url:         url,
		ttl:         ttl,
		minInterval: 10 * time.Second,
		http:        &http.Client{Timeout: 5 * time.Second},
		now:         time.Now,
		keys:        map[string]*rsa.PublicKey{},
	}
}

// Get returns the key published under keyID. When a refetch fails the keys
// already cached keep being served.
func (c *JWKSClient) Get(keyID string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key, known := c.keys[keyID]
	if known && now.Sub(c.fetchedAt) < c.ttl {
		return key, nil
	}
	if now.Sub(c.triedAt) < c.minInterval {
		if known {
			return key, nil
		}
		return nil, ErrKeyNotFound
	}

	c.triedAt = now
	if err := c.fetch(now); err != nil {
		if known {
			return key, nil
		}
		return nil, err
	}
	if key, ok := c.keys[keyID]; ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *JWKSClient) fetch(now time.Time) error {
	resp, err := c.http.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if pub, err := k.PublicKey(); err == nil {
			keys[k.Kid] = pub
		}
	}
	c.keys = keys
	c.fetchedAt = now
	return nil
}
