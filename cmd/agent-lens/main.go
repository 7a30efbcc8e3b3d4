package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const Version = "0.4.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
// Prefers TrueColor for best visuals, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// Allow user override via environment variable
	// AGENTLENS_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("AGENTLENS_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	// Explicit TrueColor support
	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Check TERM for capability hints
	term := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(term, t) || term == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	// Common terminal emulators advertise themselves via env vars
	if os.Getenv("WT_SESSION") != "" || // Windows Terminal
		os.Getenv("ITERM_SESSION_ID") != "" || // iTerm2
		os.Getenv("TERMINAL_EMULATOR") != "" || // JetBrains terminals
		os.Getenv("KONSOLE_VERSION") != "" { // Konsole
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Fallback: ANSI256 works in SSH, basic terminals, and older emulators
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Agent Lens v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "serve":
		handleServe(args[1:])
		return
	case "sessions", "ls":
		handleSessions(args[1:])
		return
	case "diff":
		handleDiff(args[1:])
		return
	case "hook":
		handleHook(args[1:])
		return
	case "hooks":
		handleHooks(args[1:])
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
	printHelp()
	os.Exit(1)
}

func printHelp() {
	fmt.Printf("Agent Lens v%s\n", Version)
	fmt.Println("Live monitor for Claude Code sessions")
	fmt.Println()
	fmt.Println("Usage: agent-lens [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve            Run the monitor daemon (event drain + dashboard API)")
	fmt.Println("  sessions, ls     List tracked sessions")
	fmt.Println("  diff [path]      Open a diff viewer for a repository")
	fmt.Println("  hook <Event>     Record one Claude Code hook event (called by Claude)")
	fmt.Println("  hooks            Manage Claude Code hook installation")
	fmt.Println("  version          Show version")
	fmt.Println("  help             Show this help")
	fmt.Println()
	fmt.Println("Hooks Commands:")
	fmt.Println("  hooks install    Add agent-lens hooks to ~/.claude/settings.json")
	fmt.Println("  hooks uninstall  Remove agent-lens hooks")
	fmt.Println("  hooks status     Show per-event installation state")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  agent-lens serve                      # Start the daemon")
	fmt.Println("  agent-lens hooks install              # Wire up Claude Code")
	fmt.Println("  agent-lens sessions                   # Show session table")
	fmt.Println("  agent-lens sessions -q api --json     # Filtered, as JSON")
	fmt.Println("  agent-lens sessions --events          # Recent event feed")
	fmt.Println("  agent-lens diff                       # Unstaged diff of cwd")
	fmt.Println("  agent-lens diff -kind branch ~/proj   # Branch diff vs default branch")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  AGENTLENS_HOME       Data directory (default ~/.agent-lens)")
	fmt.Println("  AGENTLENS_LISTEN     Daemon listen address (default 127.0.0.1:4877)")
	fmt.Println("  AGENTLENS_TOKEN      Bearer token for the HTTP API")
	fmt.Println("  AGENTLENS_COLOR      Color mode: truecolor, 256, 16, none")
	fmt.Println("  AGENTLENS_DEBUG      Force debug-level logging")
}
