// Package auth verifies API keys and annotates requests with the
// resulting principal id. It is a collaborator of the rate limiter,
// which keys authenticated traffic by principal instead of client
// address; unauthenticated traffic is passed through, not rejected,
// and handled by the limiter's anonymous policy.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const keyPrincipal ctxKey = 0

// Store is a static in-memory key store: secret -> principal id.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic creates a static key store reading secrets from the given
// header (default "X-API-Key").
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, bySecret: pairs}
}

// WithPrincipal injects a verified principal id into the context.
func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyPrincipal, id)
}

// PrincipalFrom extracts the verified principal id, if any.
func PrincipalFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyPrincipal)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware resolves the API key header. A missing key continues
// anonymously; a key that does not verify is rejected with 401.
func (s *Store) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := strings.TrimSpace(r.Header.Get(s.header))
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := s.bySecret[secret]
			if !ok {
				writeJSON(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
