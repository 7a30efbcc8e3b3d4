package main

import (
	"fmt"
	"os"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/hooks"
)

// handleHooks manages the agent-lens entries in Claude Code's settings.
func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: agent-lens hooks <install|uninstall|status>")
		os.Exit(1)
	}

	settingsPath, err := config.ClaudeSettingsPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		handleHooksInstall(settingsPath)
	case "uninstall":
		handleHooksUninstall(settingsPath)
	case "status":
		handleHooksStatus(settingsPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown hooks subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: agent-lens hooks <install|uninstall|status>")
		os.Exit(1)
	}
}

func handleHooksInstall(settingsPath string) {
	installed, err := hooks.Install(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error installing hooks: %v\n", err)
		os.Exit(1)
	}
	if installed {
		fmt.Println("Claude Code hooks installed successfully.")
		fmt.Printf("Config: %s\n", settingsPath)
		fmt.Println("Events are recorded while 'agent-lens serve' is running.")
	} else {
		fmt.Println("Claude Code hooks are already installed.")
	}
}

func handleHooksUninstall(settingsPath string) {
	removed, err := hooks.Uninstall(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error removing hooks: %v\n", err)
		os.Exit(1)
	}
	if removed {
		fmt.Println("Claude Code hooks removed successfully.")
	} else {
		fmt.Println("No agent-lens hooks found to remove.")
	}
}

func handleHooksStatus(settingsPath string) {
	if hooks.Installed(settingsPath) {
		fmt.Println("Status: INSTALLED")
	} else {
		fmt.Println("Status: NOT INSTALLED")
		fmt.Println("Run 'agent-lens hooks install' to install.")
	}
	fmt.Printf("Config: %s\n", settingsPath)

	status := hooks.EventStatus(settingsPath)
	for _, event := range hooks.HookEvents() {
		mark := "✕"
		if status[event] {
			mark = "✓"
		}
		fmt.Printf("  %s %s\n", mark, event)
	}
}
