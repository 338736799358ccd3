package gateway

import (
	"net/http"
	"strconv"

	"github.com/admitd/admitd/internal/ratelimit"
)

// Admission runs the rate-limit check before the wrapped handler.
// Finite-limit decisions get X-RateLimit-* headers; the exempt
// sentinel (limit -1) gets none. Denials short-circuit with 429 and a
// Retry-After of the decision's reset.
func Admission(decider *ratelimit.Decider, onLimited func(r *http.Request)) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := decider.Check(r)

			if dec.Limit >= 0 {
				w.Header().Set("X-RateLimit-Limit", itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", itoa(max(dec.Remaining, 0)))
				w.Header().Set("X-RateLimit-Reset", itoa(dec.ResetSeconds))
			}

			if !dec.Allowed {
				if onLimited != nil {
					onLimited(r)
				}
				w.Header().Set("Retry-After", itoa(dec.ResetSeconds))
				writeJSON(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func itoa(i int) string {
	var buf [32]byte
	return string(strconv.AppendInt(buf[:0], int64(i), 10))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
