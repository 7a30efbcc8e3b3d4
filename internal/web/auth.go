package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorizeRequest checks the shared token against the token query
// parameter, then the Authorization header. An empty configured token
// disables auth entirely. Comparisons are constant-time.
func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}

	if queryToken := strings.TrimSpace(r.URL.Query().Get("token")); queryToken != "" {
		if secureEqual(queryToken, s.cfg.Token) {
			return true
		}
	}

	if headerToken := bearerToken(r.Header.Get("Authorization")); headerToken != "" {
		if secureEqual(headerToken, s.cfg.Token) {
			return true
		}
	}

	return false
}

// bearerToken extracts the credential from a "Bearer <token>" header.
// The scheme is matched case-insensitively per RFC 6750.
func bearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	scheme, credential, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
