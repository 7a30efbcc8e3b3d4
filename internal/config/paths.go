// Package config holds agent-lens user configuration and data-dir paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvHome relocates the data directory (used heavily in tests).
	EnvHome = "AGENTLENS_HOME"

	// EnvDebug forces debug-level logging when set to a non-empty value.
	EnvDebug = "AGENTLENS_DEBUG"

	dataDirName        = ".agent-lens"
	eventsFileName     = "events.jsonl"
	logsDirName        = "logs"
	stateDBFileName    = "state.db"
	configFileName     = "config.toml"
	lockFileName       = "agent-lens.lock"
	claudeSettingsName = "settings.json"
)

// DataDir returns the base agent-lens directory (~/.agent-lens), honoring
// the AGENTLENS_HOME override.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, dataDirName), nil
}

// EnsureDataDir creates the data directory tree if missing and returns it.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dir, logsDirName), 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// EventsPath returns the path of the append-only event queue.
func EventsPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, eventsFileName), nil
}

// LogDir returns the directory for the daemon's own rotating logs.
func LogDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logsDirName), nil
}

// StateDBPath returns the SQLite runtime-state snapshot path.
func StateDBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stateDBFileName), nil
}

// ConfigPath returns the TOML config file path.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LockPath returns the daemon singleton lock file path.
func LockPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, lockFileName), nil
}

// ClaudeSettingsPath returns the Claude Code settings.json that hook
// installation edits. CLAUDE_CONFIG_DIR overrides the default ~/.claude.
func ClaudeSettingsPath() (string, error) {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, claudeSettingsName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude", claudeSettingsName), nil
}
