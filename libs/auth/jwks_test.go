package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKPublicKeyRejectsBadKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	good := PublicJWK("k1", &key.PublicKey)
	pub, err := good.PublicKey()
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))

	for name, k := range map[string]JWK{
		"ec":        {Kty: "EC", Kid: "k1", N: good.N, E: good.E},
		"no kid":    {Kty: "RSA", N: good.N, E: good.E},
		"bad n":     {Kty: "RSA", Kid: "k1", N: "!!", E: good.E},
		"tiny e":    {Kty: "RSA", Kid: "k1", N: good.N, E: "AQ"},
		"missing e": {Kty: "RSA", Kid: "k1", N: good.N},
	} {
		_, err := k.PublicKey()
		assert.Error(t, err, name)
	}
}

func TestJWKSClientThrottlesUnknownKids(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(JWKSet{Keys: []JWK{PublicJWK("k1", &key.PublicKey)}})
	}))
	defer srv.Close()

	now := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)
	c := NewJWKSClient(srv.URL, time.Minute)
	c.now = func() time.Time { return now }

	_, err = c.Get("k1")
	require.NoError(t, err)
	_, err = c.Get("forged")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = c.Get("forged")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualValues(t, 1, hits.Load())

	// Past the ttl a failing endpoint still leaves the cached key usable.
	now = now.Add(2 * time.Minute)
	fail.Store(true)
	pub, err := c.Get("k1")
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))
	assert.EqualValues(t, 2, hits.Load())
}
