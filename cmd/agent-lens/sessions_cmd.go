package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	dark "github.com/thiagokokada/dark-mode-go"
	"golang.org/x/term"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
	"github.com/asheshgoplani/agent-lens/internal/statedb"
	"github.com/asheshgoplani/agent-lens/internal/web"
)

const defaultTableWidth = 100

// cliPalette holds the styles the sessions table is rendered with.
// Colors are Tokyo Night / Tokyo Night Day, matching the dashboard.
type cliPalette struct {
	header  lipgloss.Style
	dim     lipgloss.Style
	active  lipgloss.Style
	waiting lipgloss.Style
	blocked lipgloss.Style
	done    lipgloss.Style
}

func darkPalette() cliPalette {
	return cliPalette{
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#787fa0")),
		active:  lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")),
		waiting: lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")),
		blocked: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff9e64")).Bold(true),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#787fa0")),
	}
}

func lightPalette() cliPalette {
	return cliPalette{
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("#34548a")).Bold(true),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6a6d7c")),
		active:  lipgloss.NewStyle().Foreground(lipgloss.Color("#485e30")),
		waiting: lipgloss.NewStyle().Foreground(lipgloss.Color("#8f5e15")),
		blocked: lipgloss.NewStyle().Foreground(lipgloss.Color("#965027")).Bold(true),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6a6d7c")),
	}
}

// detectPalette picks light or dark from the OS setting. Detection
// failures fall back to dark, which stays readable on both backgrounds.
func detectPalette() cliPalette {
	isDark, err := dark.IsDarkMode()
	if err == nil && !isDark {
		return lightPalette()
	}
	return darkPalette()
}

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	query := fs.String("q", "", "Fuzzy filter on session key and project name")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	showEvents := fs.Bool("events", false, "Show the recent event feed instead of sessions")

	fs.Usage = func() {
		fmt.Println("Usage: agent-lens sessions [options]")
		fmt.Println()
		fmt.Println("List the Claude Code sessions the daemon is tracking. Reads the live")
		fmt.Println("daemon API when it is running, otherwise the last saved snapshot.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  agent-lens sessions")
		fmt.Println("  agent-lens sessions -q api")
		fmt.Println("  agent-lens sessions --json")
		fmt.Println("  agent-lens sessions --events")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, _ := config.Load()

	snap, savedAt, live, err := loadSnapshot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Start the daemon with 'agent-lens serve'.")
		os.Exit(1)
	}

	if *showEvents {
		events := snap.Events
		if *query != "" {
			events = filterEvents(events, *query)
		}
		if *jsonOutput {
			printJSON(struct {
				Source string                `json:"source"`
				Events []monitor.EventRecord `json:"events"`
			}{Source: sourceName(live), Events: events})
			return
		}
		printEventsTable(events, savedAt, live)
		return
	}

	sessions := snap.Sessions
	if *query != "" {
		sessions = web.FilterSessions(sessions, *query)
	}

	if *jsonOutput {
		printJSON(struct {
			Source   string            `json:"source"`
			Waiting  int               `json:"waiting"`
			Total    int               `json:"total"`
			Sessions []monitor.Session `json:"sessions"`
		}{Source: sourceName(live), Waiting: snap.Waiting, Total: len(sessions), Sessions: sessions})
		return
	}

	pal := detectPalette()
	if !live {
		note := fmt.Sprintf("daemon not reachable; showing state saved %s ago",
			formatRelativeTime(savedAt.Format(time.RFC3339), time.Now()))
		fmt.Println(pal.dim.Render(note))
	}
	if len(sessions) == 0 {
		if *query != "" {
			fmt.Printf("No sessions match %q.\n", *query)
			return
		}
		fmt.Println("No sessions tracked.")
		fmt.Println("Run 'agent-lens hooks install' to wire up Claude Code.")
		return
	}

	fmt.Print(renderSessionsTable(sessions, terminalWidth(), time.Now(), pal))
	if snap.Waiting > 0 {
		fmt.Println(pal.blocked.Render(fmt.Sprintf("%d session(s) waiting on you", snap.Waiting)))
	}
}

// loadSnapshot asks the running daemon first and falls back to the SQLite
// snapshot. live reports which source answered; savedAt is only meaningful
// for the fallback.
func loadSnapshot(cfg *config.Config) (monitor.Snapshot, time.Time, bool, error) {
	client := newAPIClient(cfg)
	if snap, err := client.fetchDashboard(); err == nil {
		return snap, time.Time{}, true, nil
	}

	snap, savedAt, err := loadSavedSnapshot()
	if err != nil {
		return monitor.Snapshot{}, time.Time{}, false, fmt.Errorf("daemon is not running and no saved state is available")
	}
	return snap, savedAt, false, nil
}

func loadSavedSnapshot() (monitor.Snapshot, time.Time, error) {
	dbPath, err := config.StateDBPath()
	if err != nil {
		return monitor.Snapshot{}, time.Time{}, err
	}
	// Stat first: opening would create an empty database file.
	if _, err := os.Stat(dbPath); err != nil {
		return monitor.Snapshot{}, time.Time{}, fmt.Errorf("no saved state at %s", dbPath)
	}

	db, err := statedb.Open(dbPath)
	if err != nil {
		return monitor.Snapshot{}, time.Time{}, err
	}
	defer db.Close()

	sessions, events, err := db.LoadSnapshot()
	if err != nil {
		return monitor.Snapshot{}, time.Time{}, err
	}
	savedAt, _ := db.SavedAt()

	waiting := 0
	for _, sess := range sessions {
		if sess.Status.Waiting() {
			waiting++
		}
	}
	return monitor.Snapshot{Sessions: sessions, Events: events, Waiting: waiting}, savedAt, nil
}

func sourceName(live bool) string {
	if live {
		return "daemon"
	}
	return "snapshot"
}

// filterEvents keeps events whose project name or directory contains the
// query, case-insensitively. The event feed is chronological, so fuzzy
// reordering would only confuse it.
func filterEvents(events []monitor.EventRecord, query string) []monitor.EventRecord {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return events
	}
	out := make([]monitor.EventRecord, 0, len(events))
	for _, rec := range events {
		if strings.Contains(strings.ToLower(rec.ProjectName), query) ||
			strings.Contains(strings.ToLower(rec.ProjectDir), query) {
			out = append(out, rec)
		}
	}
	return out
}

// renderSessionsTable lays the sessions out in fixed columns sized to the
// terminal. The directory column absorbs leftover width and disappears
// entirely on narrow terminals.
func renderSessionsTable(sessions []monitor.Session, width int, now time.Time, pal cliPalette) string {
	const (
		colStatus  = 14
		colProject = 20
		colWaiting = 26
		colAge     = 5
		gap        = 2
	)

	colDir := width - colStatus - colProject - colWaiting - colAge - 4*gap
	showDir := colDir >= 16

	var b strings.Builder
	sep := strings.Repeat(" ", gap)

	header := padCell("STATUS", colStatus) + sep + padCell("PROJECT", colProject) + sep
	if showDir {
		header += padCell("DIRECTORY", colDir) + sep
	}
	header += padCell("WAITING FOR", colWaiting) + sep + "AGE"
	b.WriteString(pal.header.Render(header))
	b.WriteString("\n")

	for _, sess := range sessions {
		style := statusStyle(sess.Status, pal)
		row := style.Render(padCell(statusSymbol(sess.Status)+" "+statusLabel(sess.Status), colStatus)) + sep
		row += padCell(sess.ProjectName, colProject) + sep
		if showDir {
			row += pal.dim.Render(padCell(formatPath(sess.ProjectDir), colDir)) + sep
		}
		waiting := sess.WaitingFor
		if waiting == "" {
			waiting = "-"
		}
		row += padCell(waiting, colWaiting) + sep
		row += pal.dim.Render(formatRelativeTime(sess.LastEventTimestamp, now))
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func printEventsTable(events []monitor.EventRecord, savedAt time.Time, live bool) {
	pal := detectPalette()
	now := time.Now()

	if !live {
		note := fmt.Sprintf("daemon not reachable; showing state saved %s ago",
			formatRelativeTime(savedAt.Format(time.RFC3339), now))
		fmt.Println(pal.dim.Render(note))
	}
	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}

	const (
		colAge     = 5
		colEvent   = 20
		colProject = 20
		gap        = 2
	)
	colDetail := terminalWidth() - colAge - colEvent - colProject - 3*gap
	if colDetail < 16 {
		colDetail = 16
	}
	sep := strings.Repeat(" ", gap)

	header := padCell("AGE", colAge) + sep + padCell("EVENT", colEvent) + sep +
		padCell("PROJECT", colProject) + sep + "DETAIL"
	fmt.Println(pal.header.Render(header))

	// Newest last in the snapshot; print newest first for a feed.
	for i := len(events) - 1; i >= 0; i-- {
		rec := events[i]
		row := pal.dim.Render(padCell(formatRelativeTime(rec.Timestamp, now), colAge)) + sep
		row += padCell(rec.Event, colEvent) + sep
		row += padCell(rec.ProjectName, colProject) + sep
		row += truncateCell(eventDetail(rec), colDetail)
		fmt.Println(row)
	}
}

// eventDetail picks the most useful free-text field of a record.
func eventDetail(rec monitor.EventRecord) string {
	switch {
	case rec.Message != "":
		return rec.Message
	case rec.ToolName != "":
		return rec.ToolName
	case rec.NotificationType != "":
		return rec.NotificationType
	default:
		return ""
	}
}

func statusStyle(status monitor.Status, pal cliPalette) lipgloss.Style {
	switch status {
	case monitor.StatusActive:
		return pal.active
	case monitor.StatusWaitingPermission:
		return pal.blocked
	case monitor.StatusWaitingInput:
		return pal.waiting
	case monitor.StatusCompleted:
		return pal.done
	default:
		return pal.dim
	}
}

// padCell truncates then right-pads to the exact display width so styled
// cells line up.
func padCell(s string, width int) string {
	s = truncateCell(s, width)
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
		return w
	}
	return defaultTableWidth
}

func printJSON(data any) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to format JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
