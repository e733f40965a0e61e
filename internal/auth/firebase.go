package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	firebaseIssuerPrefix = "https://securetoken.google.com/"
	firebaseJWKSURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// FirebaseVerifier validates Firebase Auth ID tokens against Google's
// published signing keys.
type FirebaseVerifier struct {
	ProjectID  string
	Issuer     string
	JWKSURL    string
	MinRefresh time.Duration

	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

func NewFirebaseVerifier(projectID string) *FirebaseVerifier {
	return &FirebaseVerifier{
		ProjectID:  projectID,
		Issuer:     firebaseIssuerPrefix + projectID,
		JWKSURL:    firebaseJWKSURL,
		MinRefresh: time.Minute,
		http:       &http.Client{Timeout: 5 * time.Second},
		now:        time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// ProjectIDFromCredentials reads project_id from a service-account JSON
// document.
func ProjectIDFromCredentials(credentialsJSON string) (string, error) {
	var creds struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(credentialsJSON), &creds); err != nil {
		return "", fmt.Errorf("parse firebase credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return "", errors.New("firebase credentials have no project_id")
	}
	return creds.ProjectID, nil
}

type firebaseClaims struct {
	jwt.RegisteredClaims

	Email    string `json:"email"`
	AuthTime int64  `json:"auth_time"`
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.ProjectID),
		jwt.WithIssuer(v.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	claims := &firebaseClaims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.keyForKID(ctx, kid)
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	if claims.AuthTime > 0 && time.Unix(claims.AuthTime, 0).After(time.Now().Add(time.Minute)) {
		return Identity{}, ErrInvalidToken
	}

	return Identity{Subject: claims.Subject, Email: claims.Email}, nil
}

// keyForKID returns the cached key for kid, refetching the JWKS at most once
// per MinRefresh so unknown kids cannot force a fetch on every request.
func (v *FirebaseVerifier) keyForKID(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	if key, ok := v.keys[kid]; ok {
		v.mu.Unlock()
		return key, nil
	}
	now := v.now()
	if !v.lastFetch.IsZero() && now.Sub(v.lastFetch) < v.MinRefresh {
		v.mu.Unlock()
		return nil, fmt.Errorf("kid %q not found", kid)
	}
	v.lastFetch = now
	v.mu.Unlock()

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys = keys
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q not found", kid)
}

func (v *FirebaseVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", res.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Alg string `json:"alg"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(res.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	out := make(map[string]*rsa.PublicKey)
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || (k.Alg != "" && k.Alg != "RS256") || k.Kid == "" {
			continue
		}
		pub, err := jwkToPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		out[k.Kid] = pub
	}
	if len(out) == 0 {
		return nil, errors.New("no jwk keys")
	}
	return out, nil
}

func jwkToPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}

	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
