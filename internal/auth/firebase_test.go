package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwksFixture struct {
	priv   *rsa.PrivateKey
	kid    string
	served atomic.Value
	calls  atomic.Int32
	srv    *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen rsa: %v", err)
	}
	f := &jwksFixture{priv: priv, kid: "k1"}
	f.served.Store(f.kid)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		n := base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}) // 65537
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{
				{"kid": f.served.Load().(string), "kty": "RSA", "alg": "RS256", "use": "sig", "n": n, "e": e},
			},
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *jwksFixture) verifier(project string) *FirebaseVerifier {
	v := NewFirebaseVerifier(project)
	v.JWKSURL = f.srv.URL
	v.http = f.srv.Client()
	return v
}

func (f *jwksFixture) sign(t *testing.T, claims firebaseClaims, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(f.priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims(project string) firebaseClaims {
	now := time.Now().UTC()
	return firebaseClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    firebaseIssuerPrefix + project,
			Subject:   "uid-123",
			Audience:  jwt.ClaimStrings{project},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:    "candidate@example.com",
		AuthTime: now.Add(-time.Minute).Unix(),
	}
}

func TestFirebaseVerifier_SuccessAndCache(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier("mock-interviews")
	token := f.sign(t, validClaims("mock-interviews"), f.kid)

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "uid-123" || id.Email != "candidate@example.com" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected 1 jwks call, got %d", f.calls.Load())
	}

	// Second call should use the cached kid.
	if _, err := v.Verify(context.Background(), token); err != nil {
		t.Fatalf("Verify cached: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Errorf("expected jwks not to be called again, got %d", f.calls.Load())
	}
}

func TestFirebaseVerifier_UnknownKIDThrottled(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier("mock-interviews")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	unknown := f.sign(t, validClaims("mock-interviews"), "k9")
	for i := 0; i < 5; i++ {
		if _, err := v.Verify(context.Background(), unknown); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected 1 jwks call inside the refresh window, got %d", got)
	}

	// Known kids keep verifying from cache while refetches are throttled.
	if _, err := v.Verify(context.Background(), f.sign(t, validClaims("mock-interviews"), f.kid)); err != nil {
		t.Fatalf("Verify known kid: %v", err)
	}

	// After the window a rotated key is picked up.
	now = now.Add(2 * time.Minute)
	f.served.Store("k9")
	if _, err := v.Verify(context.Background(), unknown); err != nil {
		t.Fatalf("Verify rotated kid: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("expected a second jwks call after the window, got %d", got)
	}
}

func TestFirebaseVerifier_Rejects(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier("mock-interviews")

	expired := validClaims("mock-interviews")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAud := validClaims("mock-interviews")
	wrongAud.Audience = jwt.ClaimStrings{"other-project"}

	wrongIss := validClaims("mock-interviews")
	wrongIss.Issuer = firebaseIssuerPrefix + "other-project"

	noSub := validClaims("mock-interviews")
	noSub.Subject = ""

	futureAuth := validClaims("mock-interviews")
	futureAuth.AuthTime = time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", f.sign(t, expired, f.kid)},
		{"wrong audience", f.sign(t, wrongAud, f.kid)},
		{"wrong issuer", f.sign(t, wrongIss, f.kid)},
		{"missing subject", f.sign(t, noSub, f.kid)},
		{"future auth_time", f.sign(t, futureAuth, f.kid)},
		{"missing kid", f.sign(t, validClaims("mock-interviews"), "")},
		{"unknown kid", f.sign(t, validClaims("mock-interviews"), "k9")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestFirebaseVerifier_HS256Rejected(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.verifier("mock-interviews")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("mock-interviews"))
	token.Header["kid"] = f.kid
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(context.Background(), signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestProjectIDFromCredentials(t *testing.T) {
	id, err := ProjectIDFromCredentials(`{"type":"service_account","project_id":"mock-interviews"}`)
	if err != nil || id != "mock-interviews" {
		t.Errorf("ProjectIDFromCredentials = %q, %v", id, err)
	}
	if _, err := ProjectIDFromCredentials(`{"type":"service_account"}`); err == nil {
		t.Error("expected error for missing project_id")
	}
	if _, err := ProjectIDFromCredentials(`{`); err == nil {
		t.Error("expected error for bad json")
	}
}

func TestJWKHelpers(t *testing.T) {
	if _, err := jwkToPublicKey("!!!", "AQAB"); err == nil {
		t.Fatal("expected error for bad modulus")
	}
	nb := base64.RawURLEncoding.EncodeToString([]byte{1})
	eb := base64.RawURLEncoding.EncodeToString([]byte{0})
	if _, err := jwkToPublicKey(nb, eb); err == nil {
		t.Fatal("expected error for exponent")
	}
}
