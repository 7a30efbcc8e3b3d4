package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// maxPayloadBytes caps how much of the hook payload is read. PostToolUse
// payloads can carry full tool output; everything we map sits near the top.
const maxPayloadBytes = 1 << 20

// claudePayload is the hook payload Claude Code pipes in on stdin. Only the
// fields we map are decoded; unknown fields are ignored.
type claudePayload struct {
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	Message       string `json:"message"`
	ToolName      string `json:"tool_name"`
	HookEventName string `json:"hook_event_name"`
}

// eventTags maps Claude Code hook event names onto queue wire tags.
var eventTags = map[string]monitor.EventKind{
	"SessionStart":     monitor.EventSessionStart,
	"SessionEnd":       monitor.EventSessionEnd,
	"Notification":     monitor.EventNotification,
	"Stop":             monitor.EventStop,
	"PostToolUse":      monitor.EventPostToolUse,
	"UserPromptSubmit": monitor.EventUserPromptSubmit,
}

// BuildRecord maps one hook invocation onto a queue record. The event
// argument comes from the installed command line; the payload from stdin.
// A payload that fails to decode degrades to empty fields so the event
// itself is never lost.
func BuildRecord(event string, payload io.Reader, now time.Time) monitor.EventRecord {
	var p claudePayload
	if payload != nil {
		if data, err := io.ReadAll(io.LimitReader(payload, maxPayloadBytes)); err == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &p)
		}
	}

	rec := monitor.EventRecord{
		Timestamp: now.UTC().Format(time.RFC3339),
		Event:     eventTag(event, p.HookEventName),
		SessionID: p.SessionID,
		Message:   p.Message,
		ToolName:  p.ToolName,
	}

	rec.ProjectDir = resolveProjectDir(p.CWD)
	if rec.ProjectDir != "" {
		rec.ProjectName = filepath.Base(rec.ProjectDir)
	}

	if rec.Kind() == monitor.EventNotification {
		rec.NotificationType = string(classifyNotification(p.Message))
	}

	return rec
}

// eventTag resolves the queue wire tag from the command-line event name,
// falling back to the payload's hook_event_name. Unrecognized names are
// lowercased and queued as-is; the store files them under its unknown
// bucket rather than dropping them.
func eventTag(arg, payloadName string) string {
	arg = strings.TrimSpace(arg)
	if tag, ok := eventTags[arg]; ok {
		return string(tag)
	}
	payloadName = strings.TrimSpace(payloadName)
	if tag, ok := eventTags[payloadName]; ok {
		return string(tag)
	}
	if arg != "" {
		return strings.ToLower(arg)
	}
	return strings.ToLower(payloadName)
}

// resolveProjectDir picks the session's project directory: the payload cwd,
// then $CLAUDE_PROJECT_DIR, then the hook process's own working directory.
func resolveProjectDir(cwd string) string {
	if cwd = strings.TrimSpace(cwd); cwd != "" {
		return cwd
	}
	if dir := strings.TrimSpace(os.Getenv("CLAUDE_PROJECT_DIR")); dir != "" {
		return dir
	}
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	return ""
}

// classifyNotification buckets a notification by its message text. Claude
// does not tag notification kinds itself, so we key off the two stable
// phrasings it uses for permission prompts and idle waits.
func classifyNotification(message string) monitor.NotificationKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "permission"):
		return monitor.NotifyPermissionPrompt
	case strings.Contains(lower, "waiting for your input"):
		return monitor.NotifyIdlePrompt
	default:
		return monitor.NotifyOther
	}
}

// AppendRecord appends one record to the queue file as a single JSON line,
// creating the file and its directory if needed. One Write call per record
// keeps concurrent hook appends line-atomic under O_APPEND.
func AppendRecord(path string, rec monitor.EventRecord) error {
	if strings.TrimSpace(rec.Event) == "" {
		return fmt.Errorf("event record missing event tag")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}
	line := append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	_, writeErr := f.Write(line)
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("append event: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close queue: %w", closeErr)
	}
	return nil
}
