package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

func TestRunHook(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(config.EnvHome, tmp)
	config.ResetCacheForTest()
	t.Cleanup(config.ResetCacheForTest)

	payload := strings.NewReader(`{"session_id":"sess-1","cwd":"/home/user/api-server"}`)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	if err := runHook("Stop", payload, now); err != nil {
		t.Fatalf("runHook() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmp, "events.jsonl"))
	if err != nil {
		t.Fatalf("reading event queue: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 queue line, got %d", len(lines))
	}

	rec, err := monitor.ParseEventLine([]byte(lines[0]))
	if err != nil {
		t.Fatalf("ParseEventLine() error = %v", err)
	}
	if rec.Event != "stop" {
		t.Errorf("event = %q, want %q", rec.Event, "stop")
	}
	if rec.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want %q", rec.SessionID, "sess-1")
	}
	if rec.ProjectName != "api-server" {
		t.Errorf("project_name = %q, want %q", rec.ProjectName, "api-server")
	}
	if rec.Timestamp != "2026-08-25T10:00:00Z" {
		t.Errorf("timestamp = %q, want %q", rec.Timestamp, "2026-08-25T10:00:00Z")
	}
}

func TestRunHook_AppendsInOrder(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(config.EnvHome, tmp)
	config.ResetCacheForTest()
	t.Cleanup(config.ResetCacheForTest)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	events := []string{"SessionStart", "PostToolUse", "Stop"}
	for i, event := range events {
		payload := strings.NewReader(`{"session_id":"sess-1","cwd":"/home/user/api-server"}`)
		if err := runHook(event, payload, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("runHook(%q) error = %v", event, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(tmp, "events.jsonl"))
	if err != nil {
		t.Fatalf("reading event queue: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 queue lines, got %d", len(lines))
	}

	wantTags := []string{"session_start", "post_tool_use", "stop"}
	for i, line := range lines {
		rec, parseErr := monitor.ParseEventLine([]byte(line))
		if parseErr != nil {
			t.Fatalf("line %d: %v", i, parseErr)
		}
		if rec.Event != wantTags[i] {
			t.Errorf("line %d event = %q, want %q", i, rec.Event, wantTags[i])
		}
	}
}

func TestRunHook_UnknownEventStillRecorded(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(config.EnvHome, tmp)
	config.ResetCacheForTest()
	t.Cleanup(config.ResetCacheForTest)

	payload := strings.NewReader(`{"session_id":"sess-1","cwd":"/home/user/api-server"}`)
	if err := runHook("PreCompact", payload, time.Now()); err != nil {
		t.Fatalf("runHook() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmp, "events.jsonl"))
	if err != nil {
		t.Fatalf("reading event queue: %v", err)
	}
	rec, err := monitor.ParseEventLine([]byte(strings.TrimSuffix(string(data), "\n")))
	if err != nil {
		t.Fatalf("ParseEventLine() error = %v", err)
	}
	// The tag is preserved lowercased; classification happens downstream.
	if rec.Event != "precompact" {
		t.Errorf("event = %q, want %q", rec.Event, "precompact")
	}
	if rec.Kind() != monitor.EventUnknown {
		t.Errorf("Kind() = %q, want %q", rec.Kind(), monitor.EventUnknown)
	}
}

func TestRunHook_NoEventTag(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv(config.EnvHome, tmp)
	config.ResetCacheForTest()
	t.Cleanup(config.ResetCacheForTest)

	err := runHook("", strings.NewReader(`{}`), time.Now())
	if err == nil {
		t.Fatal("expected an error for a payload with no event tag")
	}
	if _, statErr := os.Stat(filepath.Join(tmp, "events.jsonl")); !os.IsNotExist(statErr) {
		t.Error("queue file should not be created for a rejected record")
	}
}
