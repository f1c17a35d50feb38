package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
)

// requireToken rejects requests without the configured token. Browsers
// cannot set headers on EventSource or WebSocket, so ?token= is accepted
// alongside Authorization: Bearer.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatches(requestToken(r), s.cfg.Token) {
			logging.Aggregate(logging.CompWeb, "auth_rejected", slog.String("path", r.URL.Path))
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next(w, r)
	}
}

// requestToken returns the bearer token, falling back to the query string.
func requestToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func tokenMatches(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
