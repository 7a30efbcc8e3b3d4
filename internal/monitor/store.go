package monitor

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/asheshgoplani/agent-lens/internal/logging"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive            Status = "active"
	StatusWaitingPermission Status = "waiting_permission"
	StatusWaitingInput      Status = "waiting_input"
	StatusCompleted         Status = "completed"
)

// Waiting reports whether the status blocks on the user.
func (s Status) Waiting() bool {
	return s == StatusWaitingPermission || s == StatusWaitingInput
}

// Session is the tracked state of one Claude Code run, keyed by project.
type Session struct {
	Key                string `json:"key"`
	ProjectName        string `json:"project_name"`
	ProjectDir         string `json:"project_dir"`
	SessionID          string `json:"session_id,omitempty"`
	Status             Status `json:"status"`
	LastEventTimestamp string `json:"last_event_timestamp"`
	WaitingFor         string `json:"waiting_for,omitempty"`
}

// Snapshot is the dashboard payload published on every state change.
type Snapshot struct {
	Sessions []Session     `json:"sessions"`
	Events   []EventRecord `json:"events"`
	Waiting  int           `json:"waiting"`
}

// Notifier receives the new snapshot after each store mutation. It is
// invoked outside the store lock and must not block for long.
type Notifier interface {
	StateChanged(Snapshot)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Snapshot)

// StateChanged implements Notifier.
func (f NotifierFunc) StateChanged(snap Snapshot) { f(snap) }

// RecentEventsCap bounds the event FIFO kept for display.
const RecentEventsCap = 50

// Store holds the session map and recent-event FIFO behind one mutex.
// No I/O happens while the lock is held; the notifier runs after release.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	recent   []EventRecord
	notifier Notifier

	log *slog.Logger
}

// NewStore creates an empty store. notifier may be nil.
func NewStore(notifier Notifier) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		notifier: notifier,
		log:      logging.ForComponent(logging.CompState),
	}
}

// SetNotifier replaces the notifier (wired late during daemon startup).
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Apply runs one record through the state machine and appends it to the
// recent-event FIFO. Records are applied strictly in queue file order.
func (s *Store) Apply(rec EventRecord) {
	s.mu.Lock()

	key := rec.Key()
	kind := rec.Kind()
	switch kind {
	case EventSessionStart:
		s.upsertLocked(rec, StatusActive, "")
	case EventSessionEnd:
		delete(s.sessions, key)
	case EventNotification:
		switch rec.NotificationKind() {
		case NotifyPermissionPrompt:
			s.upsertLocked(rec, StatusWaitingPermission, rec.WaitingReason())
		case NotifyIdlePrompt:
			s.upsertLocked(rec, StatusWaitingInput, rec.WaitingReason())
		default:
			s.upsertLocked(rec, StatusActive, rec.WaitingReason())
		}
	case EventStop:
		s.upsertLocked(rec, StatusCompleted, "")
	case EventPostToolUse, EventUserPromptSubmit:
		s.upsertLocked(rec, StatusActive, "")
	case EventUnknown:
		// Never create a session for an unrecognized tag; only refresh the
		// timestamp when the session already exists.
		if sess, ok := s.sessions[key]; ok {
			sess.LastEventTimestamp = rec.Timestamp
		}
		s.log.Debug("unknown_event_tag", slog.String("tag", rec.Event), slog.String("key", key))
	}

	s.recent = append(s.recent, rec)
	if len(s.recent) > RecentEventsCap {
		s.recent = s.recent[len(s.recent)-RecentEventsCap:]
	}

	notifier := s.notifier
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if notifier != nil {
		notifier.StateChanged(snap)
	}
}

// upsertLocked creates or updates the session at the record's key.
// Project identity is copied on create and preserved on update; the
// timestamp always follows the record. Caller holds s.mu.
func (s *Store) upsertLocked(rec EventRecord, status Status, waitingFor string) {
	key := rec.Key()
	if sess, ok := s.sessions[key]; ok {
		sess.Status = status
		sess.WaitingFor = waitingFor
		sess.LastEventTimestamp = rec.Timestamp
		if rec.SessionID != "" {
			sess.SessionID = rec.SessionID
		}
		return
	}
	s.sessions[key] = &Session{
		Key:                key,
		ProjectName:        rec.ProjectName,
		ProjectDir:         rec.ProjectDir,
		SessionID:          rec.SessionID,
		Status:             status,
		LastEventTimestamp: rec.Timestamp,
		WaitingFor:         waitingFor,
	}
}

// Remove clears one session (explicit user action). Reports whether the
// key existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	_, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	notifier := s.notifier
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if ok && notifier != nil {
		notifier.StateChanged(snap)
	}
	return ok
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked builds the snapshot. Caller holds s.mu.
func (s *Store) snapshotLocked() Snapshot {
	sessions := make([]Session, 0, len(s.sessions))
	waiting := 0
	for _, sess := range s.sessions {
		sessions = append(sessions, *sess)
		if sess.Status.Waiting() {
			waiting++
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Key < sessions[j].Key
	})

	events := make([]EventRecord, len(s.recent))
	copy(events, s.recent)

	return Snapshot{Sessions: sessions, Events: events, Waiting: waiting}
}

// WaitingCount returns the number of sessions blocked on the user,
// used for the badge.
func (s *Store) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, sess := range s.sessions {
		if sess.Status.Waiting() {
			count++
		}
	}
	return count
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Restore loads a persisted snapshot without notifying. Used once at
// daemon startup before the drain loop begins.
func (s *Store) Restore(sessions []Session, events []EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*Session, len(sessions))
	for i := range sessions {
		sess := sessions[i]
		if sess.Key == "" {
			continue
		}
		s.sessions[sess.Key] = &sess
	}

	if len(events) > RecentEventsCap {
		events = events[len(events)-RecentEventsCap:]
	}
	s.recent = make([]EventRecord, len(events))
	copy(s.recent, events)
}
