package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/hooks"
)

// handleHook records one Claude Code hook event. It runs inside Claude's
// hook pipeline, so it always exits 0: a lost event only means a stale
// dashboard row, while a non-zero exit would surface as a hook failure to
// the user mid-session.
func handleHook(args []string) {
	event := ""
	if len(args) > 0 {
		event = args[0]
	}

	if err := runHook(event, os.Stdin, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "agent-lens hook: %v\n", err)
	}
}

// runHook builds the event record from the hook payload and appends it to
// the queue file.
func runHook(event string, payload io.Reader, now time.Time) error {
	rec := hooks.BuildRecord(event, payload, now)

	cfg, _ := config.Load()
	queuePath, err := cfg.Monitor.GetEventsPath()
	if err != nil {
		return fmt.Errorf("resolve event queue: %w", err)
	}
	return hooks.AppendRecord(queuePath, rec)
}
