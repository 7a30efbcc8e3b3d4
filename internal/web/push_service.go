package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

const (
	pushSubscriptionsFileName = "push_subscriptions.json"
	defaultPushPollInterval   = 3 * time.Second

	// Sends are paced: transitions inside one sync already coalesce into a
	// single message, so the limiter only has to absorb flapping sessions.
	pushSendMinInterval = 5 * time.Second
	pushSendBurst       = 3
)

type pushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime any                  `json:"expirationTime,omitempty"`
	Keys           pushSubscriptionKeys `json:"keys"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return fmt.Errorf("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

type pushSubscriptionFile struct {
	UpdatedAt     time.Time          `json:"updatedAt"`
	Subscriptions []pushSubscription `json:"subscriptions"`
}

type pushSubscriptionStore interface {
	List(ctx context.Context) ([]pushSubscription, error)
	Upsert(ctx context.Context, sub pushSubscription) error
	RemoveByEndpoint(ctx context.Context, endpoint string) error
	Count(ctx context.Context) (int, error)
}

type pushSubscriptionFileStore struct {
	path string
	mu   sync.Mutex
}

func newPushSubscriptionFileStore(dataDir string) (*pushSubscriptionFileStore, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("push subscription store needs a data dir")
	}
	return &pushSubscriptionFileStore{
		path: filepath.Join(dataDir, pushSubscriptionsFileName),
	}, nil
}

func (s *pushSubscriptionFileStore) List(_ context.Context) ([]pushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pushSubscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

func (s *pushSubscriptionFileStore) Count(ctx context.Context) (int, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *pushSubscriptionFileStore) Upsert(_ context.Context, sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != sub.Endpoint {
			continue
		}
		data.Subscriptions[i] = sub
		updated = true
		break
	}
	if !updated {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()

	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]pushSubscription, 0, len(data.Subscriptions))
	for _, sub := range data.Subscriptions {
		if sub.Endpoint == endpoint {
			continue
		}
		filtered = append(filtered, sub)
	}

	data.Subscriptions = filtered
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) readLocked() (*pushSubscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &pushSubscriptionFile{
				UpdatedAt:     time.Now().UTC(),
				Subscriptions: []pushSubscription{},
			}, nil
		}
		return nil, fmt.Errorf("read push subscriptions: %w", err)
	}

	var data pushSubscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse push subscriptions: %w", err)
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}
	return &data, nil
}

func (s *pushSubscriptionFileStore) writeLocked(data *pushSubscriptionFile) error {
	if data == nil {
		data = &pushSubscriptionFile{Subscriptions: []pushSubscription{}}
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir push subscription dir: %w", err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal push subscriptions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp push subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename push subscriptions: %w", err)
	}
	return nil
}

type webPushSender interface {
	Send(payload []byte, sub pushSubscription) (int, error)
}

type vapidPushSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidPushSender) Send(payload []byte, sub pushSubscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

// pushMessage is the notification payload; waiting carries the badge count.
type pushMessage struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Waiting int    `json:"waiting"`
}

// pushService notifies subscribed browsers when sessions start waiting on
// the user. It keeps a waiting-state baseline per session key and sends one
// coalesced message per sync that found new waiters.
type pushService struct {
	enabled bool

	publicKey  string
	privateKey string
	subject    string

	sessions SessionSource
	store    pushSubscriptionStore
	sender   webPushSender
	metrics  *metrics.Metrics

	pollInterval time.Duration
	limiter      *rate.Limiter

	startOnce sync.Once
	triggerCh chan struct{}

	mu          sync.Mutex
	initialized bool
	lastWaiting map[string]bool
}

func newPushService(cfg Config, sessions SessionSource) (*pushService, error) {
	publicKey := strings.TrimSpace(cfg.PushVAPIDPublicKey)
	privateKey := strings.TrimSpace(cfg.PushVAPIDPrivateKey)

	if publicKey == "" && privateKey == "" {
		return nil, nil
	}
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("both push vapid public and private keys are required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("push service needs a session source")
	}

	subject := strings.TrimSpace(cfg.PushVAPIDSubject)
	if subject == "" {
		subject = "mailto:agentlens@localhost"
	}

	store, err := newPushSubscriptionFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &pushService{
		enabled:      true,
		publicKey:    publicKey,
		privateKey:   privateKey,
		subject:      subject,
		sessions:     sessions,
		store:        store,
		sender:       &vapidPushSender{subject: subject, publicKey: publicKey, privateKey: privateKey},
		metrics:      cfg.Metrics,
		pollInterval: defaultPushPollInterval,
		limiter:      rate.NewLimiter(rate.Every(pushSendMinInterval), pushSendBurst),
		triggerCh:    make(chan struct{}, 1),
		lastWaiting:  make(map[string]bool),
	}, nil
}

func (p *pushService) Start(ctx context.Context) {
	if p == nil || !p.enabled {
		return
	}
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// TriggerSync wakes the run loop without blocking the caller.
func (p *pushService) TriggerSync() {
	if p == nil || !p.enabled {
		return
	}
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

func (p *pushService) Enabled() bool {
	return p != nil && p.enabled
}

func (p *pushService) PublicKey() string {
	if p == nil {
		return ""
	}
	return p.publicKey
}

func (p *pushService) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

func (p *pushService) SubscriptionCount(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	return p.store.Count(ctx)
}

func (p *pushService) UpsertSubscription(ctx context.Context, sub pushSubscription) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.Upsert(ctx, sub)
}

func (p *pushService) RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.RemoveByEndpoint(ctx, endpoint)
}

var pushLog = logging.ForComponent(logging.CompPush)

func (p *pushService) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Prime baseline to avoid a notification flood at startup.
	p.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.syncOnce(ctx)
		case <-p.triggerCh:
			p.syncOnce(ctx)
		}
	}
}

func (p *pushService) syncOnce(ctx context.Context) {
	snap := p.sessions.Snapshot()

	current := make(map[string]bool, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		current[sess.Key] = sess.Status.Waiting()
	}

	var transitions []monitor.Session

	p.mu.Lock()
	if !p.initialized {
		p.lastWaiting = current
		p.initialized = true
		p.mu.Unlock()
		return
	}
	for _, sess := range snap.Sessions {
		if sess.Status.Waiting() && !p.lastWaiting[sess.Key] {
			transitions = append(transitions, sess)
		}
	}
	p.lastWaiting = current
	p.mu.Unlock()

	if len(transitions) == 0 {
		return
	}
	pushLog.Debug("push_transitions",
		slog.Int("count", len(transitions)),
		slog.Int("waiting", snap.Waiting))

	// Pace sends; transitions found while waiting get picked up by the
	// trigger channel on the next sync.
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	p.notifySubscribers(ctx, pushMessage{
		Title:   pushTitle(transitions),
		Body:    pushBody(transitions),
		Waiting: snap.Waiting,
	})
}

func (p *pushService) notifySubscribers(ctx context.Context, msg pushMessage) {
	if p == nil || p.store == nil || p.sender == nil {
		return
	}

	subs, err := p.store.List(ctx)
	if err != nil {
		pushLog.Error("push_list_subscriptions_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		pushLog.Error("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		statusCode, err := p.sender.Send(payload, sub)
		if err == nil {
			p.countSend("ok")
			pushLog.Debug("push_sent",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", statusCode))
			continue
		}

		p.countSend("error")
		pushLog.Error("push_send_failed",
			slog.String("endpoint", endpointForLog(sub.Endpoint)),
			slog.Int("http_status", statusCode),
			slog.String("error", err.Error()))
		if statusCode == http.StatusGone || statusCode == http.StatusNotFound {
			_ = p.store.RemoveByEndpoint(ctx, sub.Endpoint)
			pushLog.Info("push_subscription_pruned",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", statusCode))
		}
	}
}

func (p *pushService) countSend(result string) {
	if p.metrics != nil {
		p.metrics.PushSends.WithLabelValues(result).Inc()
	}
}

func pushTitle(transitions []monitor.Session) string {
	if len(transitions) == 1 {
		return fmt.Sprintf("Agent Lens: %s needs attention", sessionDisplayName(transitions[0]))
	}
	return fmt.Sprintf("Agent Lens: %d sessions need attention", len(transitions))
}

func pushBody(transitions []monitor.Session) string {
	parts := make([]string, 0, len(transitions))
	for _, sess := range transitions {
		parts = append(parts, fmt.Sprintf("%s: %s", sessionDisplayName(sess), waitingReason(sess)))
	}
	return strings.Join(parts, "\n")
}

func sessionDisplayName(sess monitor.Session) string {
	if name := strings.TrimSpace(sess.ProjectName); name != "" {
		return name
	}
	return sess.Key
}

func waitingReason(sess monitor.Session) string {
	if sess.WaitingFor != "" {
		return sess.WaitingFor
	}
	if sess.Status == monitor.StatusWaitingPermission {
		return "waiting for permission"
	}
	return "waiting for input"
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
