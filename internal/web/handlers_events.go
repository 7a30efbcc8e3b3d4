package web

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

var (
	dashboardEventsPollInterval      = 2 * time.Second
	dashboardEventsHeartbeatInterval = 15 * time.Second
)

// handleDashboardEvents streams the dashboard snapshot over SSE. Clients
// get the current state immediately, then a "dashboard" event whenever the
// snapshot fingerprint changes, either nudged by the store notifier or
// caught by the poll ticker.
func (s *Server) handleDashboardEvents(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := s.sessions.Snapshot()
	lastFingerprint := snapshotFingerprint(snapshot)
	if err := writeSSEEvent(w, flusher, "dashboard", snapshot); err != nil {
		return
	}

	changes := s.subscribeChanges()
	defer s.unsubscribeChanges(changes)

	pollTicker := time.NewTicker(dashboardEventsPollInterval)
	defer pollTicker.Stop()

	heartbeatTicker := time.NewTicker(dashboardEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	emitIfChanged := func() error {
		next := s.sessions.Snapshot()
		nextFingerprint := snapshotFingerprint(next)
		if nextFingerprint == lastFingerprint {
			return nil
		}
		if err := writeSSEEvent(w, flusher, "dashboard", next); err != nil {
			return err
		}
		lastFingerprint = nextFingerprint
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case <-changes:
			if err := emitIfChanged(); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := emitIfChanged(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// snapshotFingerprint hashes the serialized snapshot so unchanged state is
// never re-sent to a connected client.
func snapshotFingerprint(snapshot monitor.Snapshot) string {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "marshal-error"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
