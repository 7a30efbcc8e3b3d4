// Package web serves the daemon's HTTP surface: the dashboard data API,
// the SSE and WebSocket change feeds, and web push notifications.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/diffview"
	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// SessionSource supplies dashboard state. *monitor.Store satisfies it.
type SessionSource interface {
	Snapshot() monitor.Snapshot
	Remove(key string) bool
}

// DiffOpener manages diff viewer processes. *diffview.Service satisfies it.
type DiffOpener interface {
	Open(repoPath string, kind diffview.Kind, baseBranch string) (diffview.OpenResult, error)
	Close(windowKey string)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string

	Sessions SessionSource
	Diff     DiffOpener
	Metrics  *metrics.Metrics

	PushVAPIDPublicKey  string
	PushVAPIDPrivateKey string
	PushVAPIDSubject    string

	// DataDir holds the push subscription file.
	DataDir string
}

// Server wraps the HTTP server for the agent-lens daemon.
type Server struct {
	cfg        Config
	httpServer *http.Server
	sessions   SessionSource
	diff       DiffOpener
	push       *pushService
	baseCtx    context.Context
	cancelBase context.CancelFunc
	log        *slog.Logger

	subscribersMu sync.Mutex
	subscribers   map[chan struct{}]struct{}
}

// NewServer creates a web server with all routes and middleware wired.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:4877"
	}

	s := &Server{
		cfg:         cfg,
		sessions:    cfg.Sessions,
		diff:        cfg.Diff,
		log:         logging.ForComponent(logging.CompWeb),
		subscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if push, err := newPushService(cfg, cfg.Sessions); err != nil {
		s.log.Warn("push_disabled", slog.String("error", err.Error()))
	} else {
		s.push = push
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}
	mux.HandleFunc("/api/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionDelete)
	mux.HandleFunc("/api/diff", s.handleDiffOpen)
	mux.HandleFunc("/api/diff/", s.handleDiffClose)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/events/dashboard", s.handleDashboardEvents)
	mux.HandleFunc("/ws/dashboard", s.handleDashboardWS)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// StateChanged implements monitor.Notifier: it nudges every connected SSE
// and WebSocket client and wakes the push service. The snapshot itself is
// not carried across; long-lived handlers re-read the source so slow
// clients coalesce updates instead of queueing them.
func (s *Server) StateChanged(monitor.Snapshot) {
	s.notifyDashboardChanged()
	if s.push != nil {
		s.push.TriggerSync()
	}
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	if s.push != nil {
		s.push.Start(s.baseCtx)
	}
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) subscribeChanges() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subscribersMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribeChanges(ch chan struct{}) {
	if ch == nil {
		return
	}
	s.subscribersMu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subscribersMu.Unlock()
}

func (s *Server) notifyDashboardChanged() {
	s.subscribersMu.Lock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subscribersMu.Unlock()
}
