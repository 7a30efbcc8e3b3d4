package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

const (
	slackPostMinInterval = 10 * time.Second
	slackPostBurst       = 2
)

// SessionSource provides the current snapshot; satisfied by *monitor.Store.
type SessionSource interface {
	Snapshot() monitor.Snapshot
}

// slackPoster is the minimal Slack API surface the sink needs.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSink posts a channel message when sessions newly start waiting on
// the user. StateChanged only wakes the worker goroutine; the worker
// re-reads the store, so bursts of changes coalesce into one post.
type SlackSink struct {
	api      slackPoster
	channel  string
	sessions SessionSource
	limiter  *rate.Limiter
	log      *slog.Logger

	startOnce sync.Once
	triggerCh chan struct{}

	mu          sync.Mutex
	initialized bool
	lastWaiting map[string]bool
}

// NewSlackSink builds the sink, or returns nil when token or channel is
// missing. A nil sink is safe to use everywhere.
func NewSlackSink(token, channel string, sessions SessionSource) *SlackSink {
	token = strings.TrimSpace(token)
	channel = strings.TrimSpace(channel)
	if token == "" || channel == "" || sessions == nil {
		return nil
	}
	return &SlackSink{
		api:         slack.New(token),
		channel:     channel,
		sessions:    sessions,
		limiter:     rate.NewLimiter(rate.Every(slackPostMinInterval), slackPostBurst),
		log:         logging.ForComponent(logging.CompSlack),
		triggerCh:   make(chan struct{}, 1),
		lastWaiting: make(map[string]bool),
	}
}

// Start launches the worker goroutine.
func (s *SlackSink) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

// StateChanged implements monitor.Notifier without blocking the caller.
func (s *SlackSink) StateChanged(monitor.Snapshot) {
	if s == nil {
		return
	}
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *SlackSink) run(ctx context.Context) {
	// Prime baseline so sessions already waiting at startup stay silent.
	s.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.triggerCh:
			s.syncOnce(ctx)
		}
	}
}

func (s *SlackSink) syncOnce(ctx context.Context) {
	snap := s.sessions.Snapshot()

	current := make(map[string]bool, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		current[sess.Key] = sess.Status.Waiting()
	}

	var transitions []monitor.Session

	s.mu.Lock()
	if !s.initialized {
		s.lastWaiting = current
		s.initialized = true
		s.mu.Unlock()
		return
	}
	for _, sess := range snap.Sessions {
		if sess.Status.Waiting() && !s.lastWaiting[sess.Key] {
			transitions = append(transitions, sess)
		}
	}
	s.lastWaiting = current
	s.mu.Unlock()

	if len(transitions) == 0 {
		return
	}

	// Pace posts; transitions found during the wait are picked up by the
	// trigger channel on the next sync.
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	text := slackMessage(transitions, snap.Waiting)
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.log.Error("slack_post_failed",
			slog.String("channel", s.channel),
			slog.String("error", err.Error()))
		return
	}
	s.log.Debug("slack_posted",
		slog.String("channel", s.channel),
		slog.Int("transitions", len(transitions)))
}

func slackMessage(transitions []monitor.Session, waiting int) string {
	var b strings.Builder
	if len(transitions) == 1 {
		fmt.Fprintf(&b, ":hourglass: *%s* needs attention", slackDisplayName(transitions[0]))
	} else {
		fmt.Fprintf(&b, ":hourglass: *%d sessions* need attention", len(transitions))
	}
	for _, sess := range transitions {
		fmt.Fprintf(&b, "\n• %s: %s", slackDisplayName(sess), slackReason(sess))
	}
	if waiting > len(transitions) {
		fmt.Fprintf(&b, "\n%d sessions are waiting in total", waiting)
	}
	return b.String()
}

func slackDisplayName(sess monitor.Session) string {
	if name := strings.TrimSpace(sess.ProjectName); name != "" {
		return name
	}
	return sess.Key
}

func slackReason(sess monitor.Session) string {
	if sess.WaitingFor != "" {
		return sess.WaitingFor
	}
	if sess.Status == monitor.StatusWaitingPermission {
		return "waiting for permission"
	}
	return "waiting for input"
}
