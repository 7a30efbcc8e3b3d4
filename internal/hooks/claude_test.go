package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func settingsFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings.json")
}

func readHooks(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read settings.json: %v", err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("Failed to parse settings.json: %v", err)
	}
	hooksRaw, ok := settings["hooks"]
	if !ok {
		t.Fatal("settings.json missing 'hooks' key")
	}
	var hooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &hooks); err != nil {
		t.Fatalf("Failed to parse hooks: %v", err)
	}
	return hooks
}

func TestInstall_Fresh(t *testing.T) {
	path := settingsFile(t)

	installed, err := Install(path)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !installed {
		t.Error("Expected hooks to be newly installed")
	}

	hooks := readHooks(t, path)

	expectedEvents := []string{"SessionStart", "SessionEnd", "Notification", "Stop", "PostToolUse", "UserPromptSubmit"}
	for _, event := range expectedEvents {
		if _, ok := hooks[event]; !ok {
			t.Errorf("Missing hook event: %s", event)
		}
	}

	var matchers []claudeHookMatcher
	if err := json.Unmarshal(hooks["SessionStart"], &matchers); err != nil {
		t.Fatalf("Failed to parse SessionStart matchers: %v", err)
	}
	if len(matchers) == 0 {
		t.Fatal("SessionStart has no matchers")
	}
	if len(matchers[0].Hooks) == 0 {
		t.Fatal("SessionStart matcher has no hooks")
	}
	if got, want := matchers[0].Hooks[0].Command, "agent-lens hook SessionStart"; got != want {
		t.Errorf("Hook command = %q, want %q", got, want)
	}
	if !matchers[0].Hooks[0].Async {
		t.Error("Hook should be async")
	}
}

func TestInstall_PreservesExisting(t *testing.T) {
	path := settingsFile(t)

	// Existing settings with a custom key and a user hook on an event we
	// also subscribe to.
	existing := map[string]json.RawMessage{
		"apiKey": json.RawMessage(`"sk-test-123"`),
		"hooks": json.RawMessage(`{
			"Notification": [{"hooks": [{"type": "command", "command": "my-custom-hook"}]}]
		}`),
	}
	data, _ := json.MarshalIndent(existing, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write settings.json: %v", err)
	}

	installed, err := Install(path)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !installed {
		t.Error("Expected hooks to be installed")
	}

	readData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read settings.json: %v", err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(readData, &settings); err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}

	if string(settings["apiKey"]) != `"sk-test-123"` {
		t.Errorf("apiKey was not preserved: %s", settings["apiKey"])
	}

	hooks := readHooks(t, path)

	var matchers []claudeHookMatcher
	if err := json.Unmarshal(hooks["Notification"], &matchers); err != nil {
		t.Fatalf("Failed to parse Notification matchers: %v", err)
	}

	foundCustom := false
	foundLens := false
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if h.Command == "my-custom-hook" {
				foundCustom = true
			}
			if h.Command == "agent-lens hook Notification" {
				foundLens = true
			}
		}
	}

	if !foundCustom {
		t.Error("User's custom hook was not preserved")
	}
	if !foundLens {
		t.Error("agent-lens hook was not added")
	}
}

func TestInstall_Idempotent(t *testing.T) {
	path := settingsFile(t)

	installed1, err := Install(path)
	if err != nil {
		t.Fatalf("First install failed: %v", err)
	}
	if !installed1 {
		t.Error("First install should return true")
	}

	installed2, err := Install(path)
	if err != nil {
		t.Fatalf("Second install failed: %v", err)
	}
	if installed2 {
		t.Error("Second install should return false (already installed)")
	}

	hooks := readHooks(t, path)
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(hooks["SessionStart"], &matchers); err != nil {
		t.Fatalf("Failed to parse SessionStart matchers: %v", err)
	}

	hookCount := 0
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if h.Command == "agent-lens hook SessionStart" {
				hookCount++
			}
		}
	}
	if hookCount != 1 {
		t.Errorf("Expected 1 agent-lens hook, got %d (duplication bug)", hookCount)
	}
}

func TestUninstall(t *testing.T) {
	path := settingsFile(t)

	if _, err := Install(path); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	removed, err := Uninstall(path)
	if err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if !removed {
		t.Error("Expected hooks to be removed")
	}

	if Installed(path) {
		t.Error("Hooks should not be installed after removal")
	}

	// Install into an empty file left only our entries, so the hooks key
	// itself should be gone after uninstall.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read settings.json: %v", err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}
	if _, ok := settings["hooks"]; ok {
		t.Error("hooks key should be removed when no hooks remain")
	}
}

func TestUninstall_PreservesUserHooks(t *testing.T) {
	path := settingsFile(t)

	existing := map[string]json.RawMessage{
		"hooks": json.RawMessage(`{
			"Stop": [
				{"hooks": [{"type": "command", "command": "my-custom-hook"}, {"type": "command", "command": "agent-lens hook Stop", "async": true}]}
			]
		}`),
	}
	data, _ := json.MarshalIndent(existing, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write settings.json: %v", err)
	}

	removed, err := Uninstall(path)
	if err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if !removed {
		t.Error("Expected hooks to be removed")
	}

	hooks := readHooks(t, path)
	var matchers []claudeHookMatcher
	if err := json.Unmarshal(hooks["Stop"], &matchers); err != nil {
		t.Fatalf("Failed to parse Stop matchers: %v", err)
	}

	foundCustom := false
	foundLens := false
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if h.Command == "my-custom-hook" {
				foundCustom = true
			}
			if h.Command == "agent-lens hook Stop" {
				foundLens = true
			}
		}
	}

	if !foundCustom {
		t.Error("User hook should be preserved")
	}
	if foundLens {
		t.Error("agent-lens hook should be removed")
	}
}

func TestUninstall_SweepsUnsubscribedEvents(t *testing.T) {
	path := settingsFile(t)

	// A leftover hook under an event the current version no longer
	// subscribes to still gets removed.
	existing := map[string]json.RawMessage{
		"hooks": json.RawMessage(`{
			"PreToolUse": [{"hooks": [{"type": "command", "command": "agent-lens hook PreToolUse", "async": true}]}]
		}`),
	}
	data, _ := json.MarshalIndent(existing, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write settings.json: %v", err)
	}

	removed, err := Uninstall(path)
	if err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if !removed {
		t.Error("Expected stale hook to be removed")
	}

	readData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read settings.json: %v", err)
	}
	var settings map[string]json.RawMessage
	if err := json.Unmarshal(readData, &settings); err != nil {
		t.Fatalf("Failed to parse settings: %v", err)
	}
	if _, ok := settings["hooks"]; ok {
		t.Error("hooks key should be removed when only stale entries existed")
	}
}

func TestInstalled(t *testing.T) {
	path := settingsFile(t)

	if Installed(path) {
		t.Error("Hooks should not be installed initially")
	}

	if _, err := Install(path); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if !Installed(path) {
		t.Error("Hooks should be installed after Install")
	}

	if _, err := Uninstall(path); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}

	if Installed(path) {
		t.Error("Hooks should not be installed after Uninstall")
	}
}

func TestSessionStartMatcher(t *testing.T) {
	path := settingsFile(t)

	if _, err := Install(path); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	hooks := readHooks(t, path)

	var matchers []claudeHookMatcher
	if err := json.Unmarshal(hooks["SessionStart"], &matchers); err != nil {
		t.Fatalf("Failed to parse SessionStart matchers: %v", err)
	}

	if len(matchers) == 0 {
		t.Fatal("SessionStart has no matchers")
	}
	if matchers[0].Matcher != "startup|resume|clear" {
		t.Errorf("SessionStart matcher = %q, want %q", matchers[0].Matcher, "startup|resume|clear")
	}

	// Notification subscribes without a matcher so every notification
	// reaches the hook for classification.
	if err := json.Unmarshal(hooks["Notification"], &matchers); err != nil {
		t.Fatalf("Failed to parse Notification matchers: %v", err)
	}
	if len(matchers) == 0 {
		t.Fatal("Notification has no matchers")
	}
	if matchers[0].Matcher != "" {
		t.Errorf("Notification matcher = %q, want empty", matchers[0].Matcher)
	}
}

func TestEventStatus(t *testing.T) {
	path := settingsFile(t)

	// Partial install: only Stop carries our hook.
	existing := map[string]json.RawMessage{
		"hooks": json.RawMessage(`{
			"Stop": [{"hooks": [{"type": "command", "command": "agent-lens hook Stop", "async": true}]}]
		}`),
	}
	data, _ := json.MarshalIndent(existing, "", "  ")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write settings.json: %v", err)
	}

	status := EventStatus(path)
	if len(status) != len(HookEvents()) {
		t.Fatalf("EventStatus returned %d events, want %d", len(status), len(HookEvents()))
	}
	if !status["Stop"] {
		t.Error("Stop should report installed")
	}
	for _, event := range []string{"SessionStart", "SessionEnd", "Notification", "PostToolUse", "UserPromptSubmit"} {
		if status[event] {
			t.Errorf("%s should report not installed", event)
		}
	}

	if Installed(path) {
		t.Error("Partial install should not count as installed")
	}
}
