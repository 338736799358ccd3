package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareInjectsPrincipal(t *testing.T) {
	store := NewStatic("X-API-Key", map[string]string{"secret1": "u1"})

	var got string
	h := store.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
	}))

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-API-Key", "secret1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "u1" {
		t.Fatalf("principal = %q, want u1", got)
	}
}

func TestMiddlewareMissingKeyIsAnonymous(t *testing.T) {
	store := NewStatic("", map[string]string{"secret1": "u1"})

	reached := false
	h := store.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if _, ok := PrincipalFrom(r.Context()); ok {
			t.Fatalf("anonymous request carried a principal")
		}
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if !reached || w.Code != http.StatusOK {
		t.Fatalf("anonymous request blocked: reached=%v code=%d", reached, w.Code)
	}
}

func TestMiddlewareRejectsInvalidKey(t *testing.T) {
	store := NewStatic("X-API-Key", map[string]string{"secret1": "u1"})

	h := store.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler reached with invalid key")
	}))

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}
