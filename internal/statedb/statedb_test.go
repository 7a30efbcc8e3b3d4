package statedb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Sessions: []monitor.Session{
			{
				Key:                "/home/user/alpha",
				SessionID:          "sess-a",
				ProjectName:        "alpha",
				ProjectDir:         "/home/user/alpha",
				Status:             monitor.StatusWaitingPermission,
				WaitingFor:         "Allow file write?",
				LastEventTimestamp: "2025-01-02T03:04:05Z",
			},
			{
				Key:                "/home/user/beta",
				SessionID:          "sess-b",
				ProjectName:        "beta",
				ProjectDir:         "/home/user/beta",
				Status:             monitor.StatusActive,
				LastEventTimestamp: "2025-01-02T03:05:00Z",
			},
		},
		Events: []monitor.EventRecord{
			{Timestamp: "2025-01-02T03:04:05Z", Event: "session_start", ProjectDir: "/home/user/alpha", ProjectName: "alpha"},
			{Timestamp: "2025-01-02T03:04:06Z", Event: "notification", ProjectDir: "/home/user/alpha", Message: "Allow file write?", NotificationType: "permission_prompt"},
			{Timestamp: "2025-01-02T03:05:00Z", Event: "session_start", ProjectDir: "/home/user/beta", ProjectName: "beta"},
		},
		Waiting: 1,
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	// Open and write
	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	db1.Close()

	// Reopen and verify
	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	sessions, events, err := db2.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := newTestDB(t)
	snap := sampleSnapshot()

	if err := db.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	got := sessions[0]
	want := snap.Sessions[0]
	if got != want {
		t.Errorf("Session mismatch:\n got  %+v\n want %+v", got, want)
	}
	if sessions[1].Status != monitor.StatusActive {
		t.Errorf("Expected status %q, got %q", monitor.StatusActive, sessions[1].Status)
	}

	// Event order must survive the round trip.
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Timestamp != snap.Events[i].Timestamp || ev.Event != snap.Events[i].Event {
			t.Errorf("Event %d out of order: got %s/%s, want %s/%s",
				i, ev.Event, ev.Timestamp, snap.Events[i].Event, snap.Events[i].Timestamp)
		}
	}
	if events[1].Message != "Allow file write?" {
		t.Errorf("Event payload lost: %+v", events[1])
	}
}

func TestSaveSnapshotReplacesPrevious(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("first SaveSnapshot: %v", err)
	}

	// Second save with one session gone and a fresh event list.
	next := monitor.Snapshot{
		Sessions: []monitor.Session{
			{Key: "/home/user/beta", ProjectName: "beta", ProjectDir: "/home/user/beta", Status: monitor.StatusCompleted, LastEventTimestamp: "2025-01-02T04:00:00Z"},
		},
		Events: []monitor.EventRecord{
			{Timestamp: "2025-01-02T04:00:00Z", Event: "stop", ProjectDir: "/home/user/beta"},
		},
	}
	if err := db.SaveSnapshot(next); err != nil {
		t.Fatalf("second SaveSnapshot: %v", err)
	}

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Key != "/home/user/beta" {
		t.Fatalf("stale sessions survived: %+v", sessions)
	}
	if sessions[0].Status != monitor.StatusCompleted {
		t.Errorf("Expected status %q, got %q", monitor.StatusCompleted, sessions[0].Status)
	}
	if len(events) != 1 || events[0].Event != "stop" {
		t.Fatalf("stale events survived: %+v", events)
	}
}

func TestLoadSnapshotEmpty(t *testing.T) {
	db := newTestDB(t)

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(sessions) != 0 || len(events) != 0 {
		t.Errorf("Expected empty snapshot, got %d sessions, %d events", len(sessions), len(events))
	}

	empty, err := db.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("Expected IsEmpty on a fresh database")
	}
}

func TestSaveSnapshotEmptyClears(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := db.SaveSnapshot(monitor.Snapshot{}); err != nil {
		t.Fatalf("SaveSnapshot empty: %v", err)
	}

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(sessions) != 0 || len(events) != 0 {
		t.Errorf("Expected cleared tables, got %d sessions, %d events", len(sessions), len(events))
	}
}

func TestMetadata(t *testing.T) {
	db := newTestDB(t)

	// Migrate stamps the schema version.
	version, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if version != fmt.Sprintf("%d", SchemaVersion) {
		t.Errorf("schema_version = %q, want %q", version, fmt.Sprintf("%d", SchemaVersion))
	}

	if err := db.SetMeta("custom", "value"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, err := db.GetMeta("custom")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "value" {
		t.Errorf("GetMeta = %q, want %q", got, "value")
	}

	// Missing keys are empty, not errors.
	missing, err := db.GetMeta("nope")
	if err != nil {
		t.Fatalf("GetMeta missing: %v", err)
	}
	if missing != "" {
		t.Errorf("GetMeta missing = %q, want empty", missing)
	}
}

func TestSavedAt(t *testing.T) {
	db := newTestDB(t)

	ts, err := db.SavedAt()
	if err != nil {
		t.Fatalf("SavedAt before save: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("Expected zero time before any save, got %v", ts)
	}

	before := time.Now().Add(-time.Second)
	if err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	ts, err = db.SavedAt()
	if err != nil {
		t.Fatalf("SavedAt: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("SavedAt %v predates the save", ts)
	}
}

func TestConcurrentSaves(t *testing.T) {
	db := newTestDB(t)
	snap := sampleSnapshot()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.SaveSnapshot(snap); err != nil {
				t.Errorf("SaveSnapshot: %v", err)
			}
		}()
	}
	wg.Wait()

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(sessions) != 2 || len(events) != 3 {
		t.Errorf("Unexpected counts after concurrent saves: %d sessions, %d events", len(sessions), len(events))
	}
}

func TestMigrateFromJSON(t *testing.T) {
	db := newTestDB(t)

	legacy := `{
		"sessions": {
			"/home/user/alpha": {
				"session_id": "sess-a",
				"project_name": "alpha",
				"project_dir": "/home/user/alpha",
				"status": "WaitingPermission",
				"waiting_for": "Allow?",
				"last_event_timestamp": "2025-01-02T03:04:05Z"
			},
			"/home/user/beta": {
				"project_name": "beta",
				"project_dir": "/home/user/beta",
				"status": "active"
			}
		},
		"recent_events": [
			{"timestamp": "2025-01-02T03:04:05Z", "event": "session_start", "project_dir": "/home/user/alpha"}
		]
	}`
	jsonPath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(jsonPath, []byte(legacy), 0644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	nSessions, nEvents, err := MigrateFromJSON(jsonPath, db)
	if err != nil {
		t.Fatalf("MigrateFromJSON: %v", err)
	}
	if nSessions != 2 || nEvents != 1 {
		t.Errorf("migrated %d sessions, %d events; want 2, 1", nSessions, nEvents)
	}

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	byKey := make(map[string]monitor.Session, len(sessions))
	for _, s := range sessions {
		byKey[s.Key] = s
	}
	alpha, ok := byKey["/home/user/alpha"]
	if !ok {
		t.Fatal("alpha session not migrated")
	}
	if alpha.Status != monitor.StatusWaitingPermission {
		t.Errorf("alpha status = %q, want %q (legacy CamelCase must normalize)", alpha.Status, monitor.StatusWaitingPermission)
	}
	if alpha.WaitingFor != "Allow?" {
		t.Errorf("alpha waiting_for = %q, want %q", alpha.WaitingFor, "Allow?")
	}
	if len(events) != 1 || events[0].Event != "session_start" {
		t.Errorf("events not migrated: %+v", events)
	}
}

func TestMigrateFromJSONMissingFile(t *testing.T) {
	db := newTestDB(t)

	if _, _, err := MigrateFromJSON(filepath.Join(t.TempDir(), "absent.json"), db); err == nil {
		t.Error("Expected error for a missing legacy file")
	}
}

func TestNormalizeLegacyStatus(t *testing.T) {
	tests := []struct {
		in   string
		want monitor.Status
	}{
		{"active", monitor.StatusActive},
		{"Active", monitor.StatusActive},
		{"waiting_permission", monitor.StatusWaitingPermission},
		{"WaitingPermission", monitor.StatusWaitingPermission},
		{"waiting_input", monitor.StatusWaitingInput},
		{"WaitingInput", monitor.StatusWaitingInput},
		{"completed", monitor.StatusCompleted},
		{"Completed", monitor.StatusCompleted},
		{"garbage", monitor.StatusActive},
		{"", monitor.StatusActive},
	}
	for _, tt := range tests {
		if got := normalizeLegacyStatus(tt.in); got != tt.want {
			t.Errorf("normalizeLegacyStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
