package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/clawroute/clawroute/internal/oai"
)

// AuthMiddleware enforces the configured auth token on proxy and admin
// routes. An empty token means open access (the expected local setup).
// Clients present either "Authorization: Bearer <token>" (scheme is
// case-insensitive) or "?token=<token>".
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || authorized(r, token) {
				next.ServeHTTP(w, r)
				return
			}
			oai.WriteError(w, http.StatusUnauthorized,
				"missing or invalid auth token", "invalid_request_error", "unauthorized")
		})
	}
}

func authorized(r *http.Request, token string) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") &&
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) == 1 {
			return true
		}
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return subtle.ConstantTimeCompare([]byte(q), []byte(token)) == 1
	}
	return false
}
