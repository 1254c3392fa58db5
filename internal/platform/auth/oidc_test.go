package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type oidcFixture struct {
	key       *rsa.PrivateKey
	validator *OIDCValidator
	fetches   *atomic.Int32
}

func newOIDCFixture(t *testing.T) oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "kid-1", Algorithm: "RS256", Use: "sig"}

	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	cache := NewJWKSCache(server.URL, server.Client(), nil)
	return oidcFixture{key: key, validator: NewOIDCValidator(cache, nil), fetches: fetches}
}

func (f oidcFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "https://shop.example.com",
		"sub":   "scheduler",
		"email": "scheduler@shop.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestRequireOIDC(t *testing.T) {
	fixture := newOIDCFixture(t)
	var identity *ServiceIdentity
	handler := fixture.validator.RequireOIDC("https://shop.example.com", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ = ServiceIdentityFromContext(r.Context())
			w.WriteHeader(http.StatusAccepted)
		}))

	rec := serve(handler, "Bearer "+fixture.sign(t, validClaims()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if identity == nil || identity.Email != "scheduler@shop.iam.gserviceaccount.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	wrongAudience := validClaims()
	wrongAudience["aud"] = "https://other.example.com"
	if rec := serve(handler, "Bearer "+fixture.sign(t, wrongAudience)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for audience mismatch, got %d", rec.Code)
	}

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.com"
	if rec := serve(handler, "Bearer "+fixture.sign(t, wrongIssuer)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for issuer mismatch, got %d", rec.Code)
	}

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	if rec := serve(handler, "Bearer "+fixture.sign(t, expired)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}

	if got := fixture.fetches.Load(); got != 1 {
		t.Fatalf("expected jwks fetched once, got %d", got)
	}
}

func TestRequireOIDCWithoutAudience(t *testing.T) {
	fixture := newOIDCFixture(t)
	handler := fixture.validator.RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	if rec := serve(handler, "Bearer x"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	fixture := newOIDCFixture(t)
	if _, err := fixture.validator.cache.Key(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
	if got := fixture.fetches.Load(); got != 2 {
		t.Fatalf("expected a forced refresh for unknown kid, got %d fetches", got)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=120, must-revalidate", time.Minute); got != 2*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-store", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}
