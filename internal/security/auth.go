// Package security guards the status listener: an optional bearer token and
// a per-client request budget.
package security

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// ExtractBearerToken parses "Bearer <token>" from the Authorization header.
// The scheme is case-insensitive and surrounding whitespace is ignored.
func ExtractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenMatch compares in constant time. Empty tokens never match.
func TokenMatch(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// ClientIP strips the port from RemoteAddr ("ip:port" → "ip").
func ClientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.Trim(remoteAddr, "[]")
}

// RequireToken rejects requests without a matching bearer token. An empty
// token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !TokenMatch(ExtractBearerToken(r.Header.Get("Authorization")), token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="roomchat"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
