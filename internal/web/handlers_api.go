package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/agent-lens/internal/diffview"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type sessionListResponse struct {
	Sessions []monitor.Session `json:"sessions"`
	Total    int               `json:"total"`
}

type diffOpenRequest struct {
	Repo string `json:"repo"`
	Kind string `json:"kind"`
	Base string `json:"base,omitempty"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.sessions == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_READY", "session store is not attached")
		return
	}

	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

// handleSessions lists sessions, optionally fuzzy-filtered with ?q= against
// the session key and project name. Filtered results come back best match
// first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.sessions == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_READY", "session store is not attached")
		return
	}

	sessions := s.sessions.Snapshot().Sessions
	if query := strings.TrimSpace(r.URL.Query().Get("q")); query != "" {
		sessions = FilterSessions(sessions, query)
	}

	writeJSON(w, http.StatusOK, sessionListResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// sessionSearchSource adapts a session list for fuzzy matching on
// "<key> <project name>".
type sessionSearchSource []monitor.Session

func (s sessionSearchSource) String(i int) string {
	return s[i].Key + " " + s[i].ProjectName
}

func (s sessionSearchSource) Len() int {
	return len(s)
}

// FilterSessions returns the sessions fuzzy-matching query, ordered best
// score first. An empty query matches everything. Also used by the
// sessions CLI.
func FilterSessions(sessions []monitor.Session, query string) []monitor.Session {
	query = strings.TrimSpace(query)
	if query == "" {
		return sessions
	}
	matches := fuzzy.FindFrom(query, sessionSearchSource(sessions))
	out := make([]monitor.Session, 0, len(matches))
	for _, m := range matches {
		out = append(out, sessions[m.Index])
	}
	return out
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.sessions == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_READY", "session store is not attached")
		return
	}

	// Session keys are project directories; clients percent-encode them so
	// the embedded slashes survive routing.
	const prefix = "/api/sessions/"
	key := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	if key == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session key is required")
		return
	}

	if !s.sessions.Remove(key) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "no session with that key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDiffOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.diff == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "DIFF_NOT_CONFIGURED", "diff viewer is not available")
		return
	}

	var req diffOpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid diff request payload")
		return
	}
	req.Repo = strings.TrimSpace(req.Repo)
	if req.Repo == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "repo is required")
		return
	}
	kind, err := diffview.ParseKind(strings.TrimSpace(req.Kind))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := s.diff.Open(req.Repo, kind, strings.TrimSpace(req.Base))
	if err != nil {
		if errors.Is(err, diffview.ErrNoContent) {
			writeAPIError(w, http.StatusNotFound, "NO_DIFF_CONTENT", err.Error())
			return
		}
		writeAPIError(w, http.StatusBadRequest, "DIFF_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiffClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.diff == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "DIFF_NOT_CONFIGURED", "diff viewer is not available")
		return
	}

	windowKey := strings.TrimPrefix(r.URL.Path, "/api/diff/")
	if windowKey == "" || strings.Contains(windowKey, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "window key is required")
		return
	}

	// Kill is idempotent; closing an unknown window is not an error.
	s.diff.Close(windowKey)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
