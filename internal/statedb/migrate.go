package statedb

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// legacyState mirrors the pre-SQLite runtime snapshot: one JSON document
// with a sessions map keyed by project directory plus the recent event
// list.
type legacyState struct {
	Sessions     map[string]legacySession `json:"sessions"`
	RecentEvents []monitor.EventRecord    `json:"recent_events,omitempty"`
}

// legacySession mirrors one session entry in the legacy snapshot.
type legacySession struct {
	SessionID          string `json:"session_id,omitempty"`
	ProjectName        string `json:"project_name"`
	ProjectDir         string `json:"project_dir"`
	Status             string `json:"status"`
	WaitingFor         string `json:"waiting_for,omitempty"`
	LastEventTimestamp string `json:"last_event_timestamp,omitempty"`
}

// MigrateFromJSON reads a legacy state.json snapshot and inserts its data
// into the StateDB. Returns the number of sessions and events migrated.
// The source file is left in place; the caller decides whether to rename it.
func MigrateFromJSON(jsonPath string, db *StateDB) (int, int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, 0, fmt.Errorf("read json: %w", err)
	}

	var legacy legacyState
	if err := json.Unmarshal(data, &legacy); err != nil {
		return 0, 0, fmt.Errorf("parse json: %w", err)
	}

	snap := monitor.Snapshot{Events: legacy.RecentEvents}
	for key, ls := range legacy.Sessions {
		snap.Sessions = append(snap.Sessions, monitor.Session{
			Key:                key,
			SessionID:          ls.SessionID,
			ProjectName:        ls.ProjectName,
			ProjectDir:         ls.ProjectDir,
			Status:             normalizeLegacyStatus(ls.Status),
			WaitingFor:         ls.WaitingFor,
			LastEventTimestamp: ls.LastEventTimestamp,
		})
	}

	if err := db.SaveSnapshot(snap); err != nil {
		return 0, 0, fmt.Errorf("save snapshot: %w", err)
	}

	return len(snap.Sessions), len(snap.Events), nil
}

// normalizeLegacyStatus maps legacy status spellings (CamelCase variants
// included) onto the current set. Unrecognized values degrade to active:
// a wrong-but-present session beats a dropped one.
func normalizeLegacyStatus(raw string) monitor.Status {
	switch strings.ReplaceAll(strings.ToLower(raw), "_", "") {
	case "active":
		return monitor.StatusActive
	case "waitingpermission":
		return monitor.StatusWaitingPermission
	case "waitinginput", "waitingforinput":
		return monitor.StatusWaitingInput
	case "completed", "complete", "done":
		return monitor.StatusCompleted
	default:
		return monitor.StatusActive
	}
}
