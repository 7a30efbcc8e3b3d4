// Package hooks manages the agent-lens side of Claude Code's hook system:
// installing the hook command into settings.json and turning hook
// invocations into event queue records.
package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/agent-lens/internal/logging"
)

// lensHookCommand is the marker used to identify agent-lens hooks in
// settings.json. The installed command is this prefix plus the event name.
const lensHookCommand = "agent-lens hook"

// claudeHookEntry represents a single hook entry in Claude Code settings.
type claudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// claudeHookMatcher represents a matcher block (with optional matcher pattern) in settings.
type claudeHookMatcher struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []claudeHookEntry `json:"hooks"`
}

// lensHook returns the agent-lens hook entry for one event. The event name
// is passed as an argument so the handler knows what fired even when the
// payload is truncated.
func lensHook(event string) claudeHookEntry {
	return claudeHookEntry{
		Type:    "command",
		Command: lensHookCommand + " " + event,
		Async:   true,
	}
}

// hookEventConfigs defines which Claude Code events we subscribe to and their matcher patterns.
var hookEventConfigs = []struct {
	Event   string
	Matcher string // empty = no matcher
}{
	{Event: "SessionStart", Matcher: "startup|resume|clear"},
	{Event: "SessionEnd"},
	{Event: "Notification"},
	{Event: "Stop"},
	{Event: "PostToolUse"},
	{Event: "UserPromptSubmit"},
}

var hooksLog = logging.ForComponent(logging.CompHooks)

// Install merges agent-lens hook entries into Claude Code's settings.json.
// Uses read-preserve-modify-write to keep all existing settings and user
// hooks intact. Returns true if hooks were newly installed, false if
// already present.
func Install(settingsPath string) (bool, error) {
	// Read existing settings (or start fresh)
	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return false, fmt.Errorf("parse settings.json: %w", err)
		}
	}

	// Parse existing hooks section
	var existingHooks map[string]json.RawMessage
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			// hooks key exists but isn't a valid object; start fresh for hooks
			existingHooks = make(map[string]json.RawMessage)
		}
	} else {
		existingHooks = make(map[string]json.RawMessage)
	}

	// Check if already installed (all events present with our hook command)
	if hooksAlreadyInstalled(existingHooks) {
		return false, nil
	}

	// Inject our hook entries for each event
	for _, cfg := range hookEventConfigs {
		existingHooks[cfg.Event] = mergeHookEvent(existingHooks[cfg.Event], cfg.Event, cfg.Matcher)
	}

	// Marshal hooks back into raw settings
	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal settings: %w", err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}

	// Atomic write
	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return false, fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("rename settings.json: %w", err)
	}

	hooksLog.Info("claude_hooks_installed", slog.String("settings", settingsPath))
	return true, nil
}

// Uninstall removes agent-lens hook entries from Claude Code's settings.json.
// Returns true if hooks were removed, false if none found.
func Uninstall(settingsPath string) (bool, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}

	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for event, raw := range existingHooks {
		cleaned, didRemove := removeLensFromEvent(raw)
		if didRemove {
			removed = true
			if cleaned == nil {
				delete(existingHooks, event)
			} else {
				existingHooks[event] = cleaned
			}
		}
	}

	if !removed {
		return false, nil
	}

	// If hooks map is empty, remove the key entirely
	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksData, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksData
	}

	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal settings: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return false, fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("rename settings.json: %w", err)
	}

	hooksLog.Info("claude_hooks_removed", slog.String("settings", settingsPath))
	return true, nil
}

// Installed reports whether every subscribed event carries an agent-lens
// hook in settings.json.
func Installed(settingsPath string) bool {
	hooks, err := readHooksSection(settingsPath)
	if err != nil {
		return false
	}
	return hooksAlreadyInstalled(hooks)
}

// EventStatus returns, per subscribed event, whether settings.json carries
// an agent-lens hook for it. Used by the hooks status command.
func EventStatus(settingsPath string) map[string]bool {
	status := make(map[string]bool, len(hookEventConfigs))
	hooks, err := readHooksSection(settingsPath)
	for _, cfg := range hookEventConfigs {
		installed := false
		if err == nil {
			if raw, ok := hooks[cfg.Event]; ok {
				installed = eventHasLensHook(raw)
			}
		}
		status[cfg.Event] = installed
	}
	return status
}

// HookEvents returns the subscribed Claude Code event names in install order.
func HookEvents() []string {
	events := make([]string, len(hookEventConfigs))
	for i, cfg := range hookEventConfigs {
		events[i] = cfg.Event
	}
	return events
}

// readHooksSection loads the hooks object from settings.json.
func readHooksSection(settingsPath string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, err
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return nil, err
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return nil, fmt.Errorf("no hooks section")
	}

	var hooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// hooksAlreadyInstalled checks if all required agent-lens hooks are present.
func hooksAlreadyInstalled(hooks map[string]json.RawMessage) bool {
	for _, cfg := range hookEventConfigs {
		raw, ok := hooks[cfg.Event]
		if !ok {
			return false
		}
		if !eventHasLensHook(raw) {
			return false
		}
	}
	return true
}

// eventHasLensHook checks if a hook event's matcher array contains our hook.
func eventHasLensHook(raw json.RawMessage) bool {
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, lensHookCommand) {
				return true
			}
		}
	}
	return false
}

// mergeHookEvent adds agent-lens's hook to an existing event's matcher array.
// Preserves all existing matchers and hooks.
func mergeHookEvent(existing json.RawMessage, event, matcher string) json.RawMessage {
	var matchers []claudeHookMatcher

	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	// Check if we already have a matcher entry with our hook
	for i, m := range matchers {
		if m.Matcher == matcher {
			// Check if our hook is already in this matcher
			for _, h := range m.Hooks {
				if strings.Contains(h.Command, lensHookCommand) {
					// Already present
					result, _ := json.Marshal(matchers)
					return result
				}
			}
			// Append our hook to existing matcher
			matchers[i].Hooks = append(matchers[i].Hooks, lensHook(event))
			result, _ := json.Marshal(matchers)
			return result
		}
	}

	// No matching matcher found; add a new one
	newMatcher := claudeHookMatcher{
		Matcher: matcher,
		Hooks:   []claudeHookEntry{lensHook(event)},
	}
	matchers = append(matchers, newMatcher)
	result, _ := json.Marshal(matchers)
	return result
}

// removeLensFromEvent removes agent-lens hook entries from an event's matcher array.
// Returns cleaned JSON and whether any removal happened. Returns nil JSON if the array is empty.
func removeLensFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []claudeHookMatcher

	for _, m := range matchers {
		var hooks []claudeHookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, lensHookCommand) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) > 0 {
			m.Hooks = hooks
			cleaned = append(cleaned, m)
		} else if len(m.Hooks) == 0 {
			// Entry had no hooks to begin with; keep it untouched.
			cleaned = append(cleaned, m)
		}
		// Entries whose hooks were all ours are dropped.
	}

	if !removed {
		return raw, false
	}

	if len(cleaned) == 0 {
		return nil, true
	}

	result, _ := json.Marshal(cleaned)
	return result, true
}
