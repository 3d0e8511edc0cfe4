package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := NewClaims("user-1", "Staff", "Lan", "courtops", time.Hour)
	secret := "test-secret"

	token, err := SignHS256(claims, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(token, secret)
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Subject != "user-1" || parsed.Role != "Staff" || parsed.Name != "Lan" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(token, "wrong-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken with wrong secret, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	claims := NewClaims("user-1", "Customer", "", "courtops", -time.Hour)
	token, err := SignHS256(claims, "s")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestRS256ViaJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(JWKSet{Keys: []JWK{PublicJWK("kid-1", &key.PublicKey)}})
	}))
	defer srv.Close()

	token, err := SignRS256(NewClaims("user-2", "Admin", "", "courtops", time.Hour), key, "kid-1")
	if err != nil {
		t.Fatalf("SignRS256 failed: %v", err)
	}

	v := JWKSVerifier{Client: NewJWKSClient(srv.URL, time.Minute)}
	parsed, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if parsed.Subject != "user-2" || parsed.Role != "Admin" {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}

	if _, err := VerifyRS256(token, &key.PublicKey); err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if _, err := ParseAndVerifyHS256(token, "secret"); err == nil {
		t.Fatal("expected RS256 token to be rejected by the HS256 verifier")
	}
}
