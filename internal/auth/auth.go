// Package auth verifies bearer identity tokens and carries the caller's
// identity through the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Identity is the verified caller.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
}

// Verifier validates a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// StaticVerifier accepts exactly one configured token. Used for local
// development without an identity provider.
type StaticVerifier struct {
	Token   string
	Subject string
}

func (v StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if v.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(v.Token)) != 1 {
		return Identity{}, ErrInvalidToken
	}
	sub := v.Subject
	if sub == "" {
		sub = "dev"
	}
	return Identity{Subject: sub}, nil
}

// Chain tries each verifier in order and returns the first success.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (Identity, error) {
	for _, v := range c {
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
	}
	return Identity{}, ErrInvalidToken
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingBearer
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingBearer
	}
	return token, nil
}

// Middleware rejects requests without a valid bearer token. Preflight
// requests pass through untouched.
func Middleware(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, err := BearerToken(r)
			if err != nil {
				unauthorized(w, "Unauthorized")
				return
			}
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				logger.Debug("token rejected", "path", r.URL.Path, "error", err)
				unauthorized(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
