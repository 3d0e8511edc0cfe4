// Package tokens signs and verifies access tokens.
package tokens

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/hoaht-8203/courtops/libs/auth"
)

var ErrRotationUnsupported = errors.New("key rotation not supported")

type Signer interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS lists the public keys; empty for shared-secret signing.
	JWKS() auth.JWKSet
	SetActiveKid(kid string) error
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) Signer {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() auth.JWKSet { return auth.JWKSet{Keys: []auth.JWK{}} }

func (s *hs256Signer) SetActiveKid(string) error { return ErrRotationUnsupported }

// KeyRing signs with one active RSA key and verifies against all of them, so
// tokens issued before a rotation stay valid until they expire.
type KeyRing struct {
	mu     sync.RWMutex
	active string
	keys   map[string]*rsa.PrivateKey
}

func NewKeyRing(keys map[string]*rsa.PrivateKey, activeKid string) (*KeyRing, error) {
	ring := &KeyRing{keys: map[string]*rsa.PrivateKey{}}
	for kid, key := range keys {
		if kid != "" && key != nil {
			ring.keys[kid] = key
		}
	}
	if len(ring.keys) == 0 {
		return nil, errors.New("no rsa keys provided")
	}
	if activeKid == "" {
		activeKid = ring.kids()[0]
	}
	if ring.keys[activeKid] == nil {
		return nil, errors.New("active kid not found")
	}
	ring.active = activeKid
	return ring, nil
}

// NewRS256Signer wraps a single PEM key; kid defaults to its fingerprint.
func NewRS256Signer(pemBytes []byte, kid string) (*KeyRing, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		kid = KeyID(&key.PublicKey)
	}
	return NewKeyRing(map[string]*rsa.PrivateKey{kid: key}, kid)
}

func (k *KeyRing) kids() []string {
	out := make([]string, 0, len(k.keys))
	for kid := range k.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

func (k *KeyRing) ActiveKid() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *KeyRing) Sign(claims auth.Claims) (string, error) {
	k.mu.RLock()
	kid, key := k.active, k.keys[k.active]
	k.mu.RUnlock()
	return auth.SignRS256(claims, key, kid)
}

func (k *KeyRing) Verify(token string) (*auth.Claims, error) {
	return auth.VerifyRS256Kid(token, func(kid string) (*rsa.PublicKey, error) {
		k.mu.RLock()
		defer k.mu.RUnlock()
		key := k.keys[kid]
		if key == nil {
			return nil, auth.ErrKeyNotFound
		}
		return &key.PublicKey, nil
	})
}

func (k *KeyRing) JWKS() auth.JWKSet {
	k.mu.RLock()
	defer k.mu.RUnlock()
	set := auth.JWKSet{Keys: make([]auth.JWK, 0, len(k.keys))}
	for _, kid := range k.kids() {
		set.Keys = append(set.Keys, auth.PublicJWK(kid, &k.keys[kid].PublicKey))
	}
	return set
}

func (k *KeyRing) SetActiveKid(kid string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys[kid] == nil {
		return errors.New("unknown kid")
	}
	k.active = kid
	return nil
}

// ParseKeySet reads every PEM private key in blob, keyed by fingerprint.
func ParseKeySet(blob string) (map[string]*rsa.PrivateKey, error) {
	keys := map[string]*rsa.PrivateKey{}
	for _, block := range splitPEMBlocks(blob) {
		key, err := parseRSAPrivateKey([]byte(block))
		if err != nil {
			return nil, err
		}
		keys[KeyID(&key.PublicKey)] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("no valid rsa keys found")
	}
	return keys, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

// KeyID is a short stable fingerprint of pub.
func KeyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

func splitPEMBlocks(raw string) []string {
	var (
		blocks  []string
		current strings.Builder
		inBlock bool
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "-----BEGIN ") {
			inBlock = true
			current.Reset()
		}
		if inBlock {
			current.WriteString(line)
			current.WriteString("\n")
		}
		if strings.HasPrefix(line, "-----END ") && inBlock {
			inBlock = false
			blocks = append(blocks, current.String())
		}
	}
	return blocks
}
