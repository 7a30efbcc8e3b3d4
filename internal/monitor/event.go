// Package monitor tracks Claude Code session state from hook events.
//
// Hooks append one JSON record per line to the event queue; the drainer
// consumes the queue and applies each record to the session store in file
// order. The store is the single source of truth for the dashboard.
package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind is the canonical classification of a queue record.
type EventKind string

const (
	EventSessionStart     EventKind = "session_start"
	EventSessionEnd       EventKind = "session_end"
	EventNotification     EventKind = "notification"
	EventStop             EventKind = "stop"
	EventPostToolUse      EventKind = "post_tool_use"
	EventUserPromptSubmit EventKind = "user_prompt_submit"

	// EventUnknown covers unrecognized tags; the raw tag stays available on
	// the record for diagnostics.
	EventUnknown EventKind = "unknown"
)

// NotificationKind classifies a notification record.
type NotificationKind string

const (
	NotifyPermissionPrompt NotificationKind = "permission_prompt"
	NotifyIdlePrompt       NotificationKind = "idle_prompt"
	NotifyOther            NotificationKind = "other"
)

// EventRecord is one line of the event queue. The Event and
// NotificationType fields hold the raw wire tags; Kind and
// NotificationKind map them onto the closed enums.
type EventRecord struct {
	Timestamp        string `json:"timestamp"`
	Event            string `json:"event"`
	ProjectName      string `json:"project_name,omitempty"`
	ProjectDir       string `json:"project_dir,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Message          string `json:"message,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	NotificationType string `json:"notification_type,omitempty"`
}

// Kind maps the raw event tag onto the closed enum.
func (r EventRecord) Kind() EventKind {
	switch r.Event {
	case string(EventSessionStart):
		return EventSessionStart
	case string(EventSessionEnd):
		return EventSessionEnd
	case string(EventNotification):
		return EventNotification
	case string(EventStop):
		return EventStop
	case string(EventPostToolUse):
		return EventPostToolUse
	case string(EventUserPromptSubmit):
		return EventUserPromptSubmit
	default:
		return EventUnknown
	}
}

// NotificationKind maps the raw notification tag onto the closed enum.
// Only meaningful when Kind() is EventNotification.
func (r EventRecord) NotificationKind() NotificationKind {
	switch r.NotificationType {
	case string(NotifyPermissionPrompt):
		return NotifyPermissionPrompt
	case string(NotifyIdlePrompt):
		return NotifyIdlePrompt
	default:
		return NotifyOther
	}
}

// Key derives the canonical session key: project_dir when non-empty, else
// project_name. Two sessions in the same directory share a key and
// overwrite each other's state; that matches the hook contract (one
// interactive session per project checkout) and is deliberate.
func (r EventRecord) Key() string {
	if r.ProjectDir != "" {
		return r.ProjectDir
	}
	return r.ProjectName
}

// WaitingReason returns the display text for a waiting session:
// message first, then tool name, else empty.
func (r EventRecord) WaitingReason() string {
	if r.Message != "" {
		return r.Message
	}
	if r.ToolName != "" {
		return r.ToolName
	}
	return ""
}

// ParseEventLine parses one queue line. The event tag is required; all
// other fields default to empty. Unrecognized tags parse successfully and
// classify as EventUnknown.
func ParseEventLine(line []byte) (EventRecord, error) {
	var rec EventRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return EventRecord{}, fmt.Errorf("malformed event line: %w", err)
	}
	if strings.TrimSpace(rec.Event) == "" {
		return EventRecord{}, fmt.Errorf("event line missing event tag")
	}
	return rec, nil
}
