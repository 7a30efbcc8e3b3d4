package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	ResetCacheForTest()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Monitor.GetPollInterval(); got != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", got)
	}
	if got := cfg.Monitor.GetDrainMode(); got != DrainModeRotate {
		t.Errorf("drain mode = %q, want rotate", got)
	}
	if got := cfg.Diff.GetPortBase(); got != DefaultDiffPortBase {
		t.Errorf("port base = %d, want %d", got, DefaultDiffPortBase)
	}
	if got := cfg.Web.GetListen(); got != DefaultListen {
		t.Errorf("listen = %q, want %q", got, DefaultListen)
	}
	if !cfg.Logging.GetCompress() {
		t.Error("compress should default to true")
	}
}

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	ResetCacheForTest()

	content := `
[monitor]
poll_interval = "500ms"
drain_mode = "tail"

[diff]
port_base = 5100

[web]
listen = "127.0.0.1:9000"
token = "secret"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Monitor.GetPollInterval(); got != 500*time.Millisecond {
		t.Errorf("poll interval = %v, want 500ms", got)
	}
	if got := cfg.Monitor.GetDrainMode(); got != DrainModeTail {
		t.Errorf("drain mode = %q, want tail", got)
	}
	if got := cfg.Diff.GetPortBase(); got != 5100 {
		t.Errorf("port base = %d, want 5100", got)
	}
	if cfg.Web.Token != "secret" {
		t.Errorf("token = %q, want secret", cfg.Web.Token)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	t.Setenv("AGENTLENS_LISTEN", "127.0.0.1:7000")
	t.Setenv("AGENTLENS_DRAIN_MODE", "tail")
	ResetCacheForTest()

	content := `
[web]
listen = "127.0.0.1:9000"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Web.GetListen(); got != "127.0.0.1:7000" {
		t.Errorf("listen = %q, want env override 127.0.0.1:7000", got)
	}
	if got := cfg.Monitor.GetDrainMode(); got != DrainModeTail {
		t.Errorf("drain mode = %q, want tail", got)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	ResetCacheForTest()

	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[[broken"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("expected parse error for malformed config")
	}
	if cfg == nil {
		t.Fatal("expected defaults even on parse error")
	}
	if got := cfg.Web.GetListen(); got != DefaultListen {
		t.Errorf("listen = %q, want default", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)
	ResetCacheForTest()

	cfg := &Config{}
	cfg.Web.Listen = "127.0.0.1:4321"
	cfg.Slack.Token = "xoxb-test"
	cfg.Slack.Channel = "C123"

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// No stray temp file left behind
	if _, err := os.Stat(filepath.Join(dir, "config.toml.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}

	loaded, err := Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if loaded.Web.Listen != "127.0.0.1:4321" {
		t.Errorf("listen = %q, want 127.0.0.1:4321", loaded.Web.Listen)
	}
	if !loaded.Slack.Active() {
		t.Error("slack sink should be active after round trip")
	}
}

func TestSlackActive(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		channel string
		want    bool
	}{
		{"both set", "xoxb-1", "C1", true},
		{"missing channel", "xoxb-1", "", false},
		{"missing token", "", "C1", false},
		{"neither", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SlackSettings{Token: tt.token, Channel: tt.channel}
			if got := s.Active(); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDataDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)

	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Errorf("DataDir() = %q, want %q", got, dir)
	}

	eventsPath, err := EventsPath()
	if err != nil {
		t.Fatalf("EventsPath: %v", err)
	}
	if want := filepath.Join(dir, "events.jsonl"); eventsPath != want {
		t.Errorf("EventsPath() = %q, want %q", eventsPath, want)
	}
}
