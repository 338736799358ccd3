package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/admitd/admitd/internal/auth"
)

// UnknownIdentifier is the fallback key for requests whose client
// address cannot be determined. Such requests share one bucket rather
// than failing.
const UnknownIdentifier = "ip:unknown"

// IdentifierResolver derives the stable per-caller key a window of
// counts is tracked against: "user:<principal>" for authenticated
// requests, "ip:<digest>" otherwise.
//
// Only a one-way xxhash digest of the client address is ever stored,
// never the raw address; the hex form is at most 16 characters, so
// keys stay bounded.
type IdentifierResolver struct {
	// forwardedHeader, when non-empty, names the single trusted
	// forwarded-address header (first comma-separated entry wins).
	// This trusts exactly one proxy hop and does not validate the
	// chain: enable it only behind a proxy that overwrites the header.
	forwardedHeader string
}

// NewIdentifierResolver builds a resolver. With trustForwarded set,
// the first X-Forwarded-For entry is used as the effective client
// address.
func NewIdentifierResolver(trustForwarded bool) *IdentifierResolver {
	header := ""
	if trustForwarded {
		header = "X-Forwarded-For"
	}
	return &IdentifierResolver{forwardedHeader: header}
}

// Resolve never fails: requests with no resolvable address fall back
// to UnknownIdentifier instead of being rejected.
func (ir *IdentifierResolver) Resolve(r *http.Request) (identifier string, authenticated bool) {
	if id, ok := auth.PrincipalFrom(r.Context()); ok && id != "" {
		return "user:" + id, true
	}
	addr := ir.clientAddr(r)
	if addr == "" {
		return UnknownIdentifier, false
	}
	return "ip:" + strconv.FormatUint(xxhash.Sum64String(addr), 16), false
}

func (ir *IdentifierResolver) clientAddr(r *http.Request) string {
	if ir.forwardedHeader != "" {
		if fwd := r.Header.Get(ir.forwardedHeader); fwd != "" {
			first := fwd
			if idx := strings.IndexByte(fwd, ','); idx >= 0 {
				first = fwd[:idx]
			}
			if addr := strings.TrimSpace(first); addr != "" {
				return addr
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
