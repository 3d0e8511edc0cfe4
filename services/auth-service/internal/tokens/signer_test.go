package tokens

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func pemOf(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func TestHS256Signer(t *testing.T) {
	s := NewHS256Signer("secret")
	token, err := s.Sign(auth.NewClaims("u1", "Customer", "Lan", "courtops", time.Hour))
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Empty(t, s.JWKS().Keys)
	assert.ErrorIs(t, s.SetActiveKid("x"), ErrRotationUnsupported)
}

func TestKeyRingRotationKeepsOldTokensValid(t *testing.T) {
	a, b := newKey(t), newKey(t)
	keys, err := ParseKeySet(pemOf(a) + "\n" + pemOf(b))
	require.NoError(t, err)
	require.Len(t, keys, 2)

	kidA, kidB := KeyID(&a.PublicKey), KeyID(&b.PublicKey)
	ring, err := NewKeyRing(keys, kidA)
	require.NoError(t, err)

	old, err := ring.Sign(auth.NewClaims("u1", "Staff", "", "courtops", time.Hour))
	require.NoError(t, err)

	require.NoError(t, ring.SetActiveKid(kidB))
	assert.Equal(t, kidB, ring.ActiveKid())
	fresh, err := ring.Sign(auth.NewClaims("u2", "Admin", "", "courtops", time.Hour))
	require.NoError(t, err)

	for _, tok := range []string{old, fresh} {
		_, err := ring.Verify(tok)
		assert.NoError(t, err)
	}
	assert.Len(t, ring.JWKS().Keys, 2)
	assert.Error(t, ring.SetActiveKid("nope"))

	// A token signed by a key outside the ring is rejected.
	stranger, err := auth.SignRS256(auth.NewClaims("u3", "Admin", "", "courtops", time.Hour), newKey(t), "other")
	require.NoError(t, err)
	_, err = ring.Verify(stranger)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRS256SignerDefaultsKidToFingerprint(t *testing.T) {
	key := newKey(t)
	ring, err := NewRS256Signer([]byte(pemOf(key)), "")
	require.NoError(t, err)
	assert.Equal(t, KeyID(&key.PublicKey), ring.ActiveKid())

	_, err = NewRS256Signer([]byte("not pem"), "")
	assert.Error(t, err)
}
