package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// normalizeArgs reorders args so flags come before positional arguments.
// Go's flag package stops parsing at the first non-flag argument, which means
// "diff ~/proj -kind branch" silently ignores -kind. This function moves all
// flags to the front so they get parsed correctly.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	// Build set of known boolean flags (don't need a value argument)
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--" terminates flag processing
		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)

			// Determine flag name (strip leading dashes)
			name := strings.TrimLeft(arg, "-")

			// Handle --flag=value (value is part of the arg, nothing to move)
			if strings.Contains(name, "=") {
				continue
			}

			// If it's not a bool flag, the next arg is its value
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// truncateCell shortens a string to the given display width with an
// ellipsis, counting wide runes as two columns.
func truncateCell(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// formatPath shortens a path by replacing the home directory with ~.
func formatPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}

// formatRelativeTime renders an RFC3339 timestamp as a short age like
// "5s", "3m", "2h" or "4d". Unparseable or empty timestamps come back as
// "-" so table cells stay aligned.
func formatRelativeTime(timestamp string, now time.Time) string {
	if timestamp == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// statusSymbol returns the indicator for a session status.
func statusSymbol(status monitor.Status) string {
	switch status {
	case monitor.StatusActive:
		return "●"
	case monitor.StatusWaitingPermission, monitor.StatusWaitingInput:
		return "◐"
	case monitor.StatusCompleted:
		return "○"
	default:
		return "?"
	}
}

// statusLabel returns the human-readable form of a session status.
func statusLabel(status monitor.Status) string {
	switch status {
	case monitor.StatusActive:
		return "active"
	case monitor.StatusWaitingPermission:
		return "permission"
	case monitor.StatusWaitingInput:
		return "waiting"
	case monitor.StatusCompleted:
		return "done"
	default:
		return string(status)
	}
}
