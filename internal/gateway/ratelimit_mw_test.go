package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/admitd/admitd/internal/ratelimit"
)

func newTestHandler(t *testing.T, limit, windowSeconds int, exempt []string, onLimited func(*http.Request)) http.Handler {
	t.Helper()
	table, err := ratelimit.NewTable(
		ratelimit.Rule{MaxRequests: limit, WindowSeconds: windowSeconds},
		nil, exempt, 1.0,
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	decider := ratelimit.NewDecider(table, ratelimit.NewIdentifierResolver(false), zerolog.Nop(), ratelimit.Options{})

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Chain(ok, Admission(decider, onLimited))
}

func TestAdmissionSetsRateLimitHeaders(t *testing.T) {
	h := newTestHandler(t, 5, 60, nil, nil)

	r := httptest.NewRequest("GET", "/api/x", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 4", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got != "60" {
		t.Fatalf("X-RateLimit-Reset = %q, want 60", got)
	}
}

func TestAdmissionDeniesWithRetryAfter(t *testing.T) {
	limitedPaths := []string{}
	h := newTestHandler(t, 2, 60, nil, func(r *http.Request) {
		limitedPaths = append(limitedPaths, r.URL.Path)
	})

	r := httptest.NewRequest("GET", "/api/x", nil)
	r.RemoteAddr = "203.0.113.7:1000"

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("warmup %d: status = %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" || got == "0" {
		t.Fatalf("Retry-After = %q, want positive seconds", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if len(limitedPaths) != 1 || limitedPaths[0] != "/api/x" {
		t.Fatalf("onLimited calls = %v", limitedPaths)
	}
}

func TestAdmissionExemptPathHasNoHeaders(t *testing.T) {
	h := newTestHandler(t, 1, 60, []string{"/health"}, nil)

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest("GET", "/health", nil)
		r.RemoteAddr = "203.0.113.7:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("exempt request %d: status = %d", i, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
			t.Fatalf("exempt request carried X-RateLimit-Limit = %q", got)
		}
	}
}
