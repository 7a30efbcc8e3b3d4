package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type wsClientMessage struct {
	Type string `json:"type"`
}

type wsServerMessage struct {
	Type     string            `json:"type"`
	Event    string            `json:"event,omitempty"`
	Snapshot *monitor.Snapshot `json:"snapshot,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// wsConnWriter serializes writes from the notifier loop and the client
// reader, each write bounded by a deadline.
type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WritePing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleDashboardWS upgrades the connection and streams the dashboard
// snapshot: once on connect, then again on every state change.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
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

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (403 on origin mismatch).
		s.log.Debug("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	writer := &wsConnWriter{conn: conn}

	snapshot := s.sessions.Snapshot()
	if err := writer.WriteJSON(wsServerMessage{Type: "dashboard", Snapshot: &snapshot}); err != nil {
		return
	}

	changes := s.subscribeChanges()
	defer s.unsubscribeChanges(changes)

	// Reader: surfaces client pings and detects the close.
	clientPings := make(chan struct{}, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var msg wsClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("ws_read_failed", slog.String("error", err.Error()))
				}
				return
			}
			if msg.Type == "ping" {
				select {
				case clientPings <- struct{}{}:
				default:
				}
			}
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case <-clientPings:
			if err := writer.WriteJSON(wsServerMessage{Type: "status", Event: "pong"}); err != nil {
				return
			}
		case <-changes:
			snapshot := s.sessions.Snapshot()
			if err := writer.WriteJSON(wsServerMessage{Type: "dashboard", Snapshot: &snapshot}); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := writer.WritePing(); err != nil {
				return
			}
		}
	}
}
