package config

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the envconfig prefix: AGENTLENS_LISTEN, AGENTLENS_TOKEN, ...
const envPrefix = "agentlens"

// Config is the user-facing TOML configuration (~/.agent-lens/config.toml).
// Environment variables override file values after load.
type Config struct {
	// Monitor configures the event queue drain pipeline
	Monitor MonitorSettings `toml:"monitor"`

	// Diff configures the diff viewer processes
	Diff DiffSettings `toml:"diff"`

	// Web configures the HTTP data API
	Web WebSettings `toml:"web"`

	// Push configures web push notifications
	Push PushSettings `toml:"push"`

	// Slack configures the Slack notification sink
	Slack SlackSettings `toml:"slack"`

	// Logging configures the daemon's structured log
	Logging LogSettings `toml:"logging"`
}

// MonitorSettings configures the event queue and its drain loop.
type MonitorSettings struct {
	// EventsPath overrides the queue location (default ~/.agent-lens/events.jsonl)
	EventsPath string `toml:"events_path"`

	// PollInterval is the fallback drain tick, e.g. "2s" (default)
	PollInterval string `toml:"poll_interval"`

	// Debounce coalesces watcher wake-ups, e.g. "100ms" (default)
	Debounce string `toml:"debounce"`

	// DrainMode is "rotate" (default) or "tail" for filesystems where
	// rename-based rotation misbehaves
	DrainMode string `toml:"drain_mode"`
}

// DiffSettings configures difit child servers.
type DiffSettings struct {
	// PortBase is the first port handed out to diff servers (default 4966)
	PortBase int `toml:"port_base"`

	// Command and Args form the diff server invocation (default: npx difit)
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// StartupTimeout bounds the wait for the server's ready line, e.g. "5s"
	StartupTimeout string `toml:"startup_timeout"`
}

// WebSettings configures the HTTP listener.
type WebSettings struct {
	// Listen address (default 127.0.0.1:4877)
	Listen string `toml:"listen"`

	// Token enables bearer auth on /api, /events and /ws when non-empty
	Token string `toml:"token"`
}

// PushSettings configures web push notifications.
type PushSettings struct {
	// Enabled turns the push service on
	Enabled bool `toml:"enabled"`

	// VAPIDSubject is the contact claim in push JWTs
	VAPIDSubject string `toml:"vapid_subject"`
}

// SlackSettings configures the Slack sink. Both fields must be set for the
// sink to activate.
type SlackSettings struct {
	Token   string `toml:"token"`
	Channel string `toml:"channel"`
}

// LogSettings configures the rotating structured log.
type LogSettings struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   *bool  `toml:"compress"`
	Pprof      bool   `toml:"pprof"`
}

const (
	defaultPollInterval   = 2 * time.Second
	defaultDebounce       = 100 * time.Millisecond
	defaultStartupTimeout = 5 * time.Second

	// DefaultDiffPortBase is where diff server port allocation starts.
	DefaultDiffPortBase = 4966

	// DefaultListen is the daemon's HTTP address.
	DefaultListen = "127.0.0.1:4877"

	// DrainModeRotate rotates the queue away before reading (the default);
	// DrainModeTail falls back to offset-based tailing.
	DrainModeRotate = "rotate"
	DrainModeTail   = "tail"
)

// GetEventsPath resolves the queue path, falling back to the data dir.
func (m MonitorSettings) GetEventsPath() (string, error) {
	if m.EventsPath != "" {
		return m.EventsPath, nil
	}
	return EventsPath()
}

// GetPollInterval parses the poll interval, defaulting on empty or invalid.
func (m MonitorSettings) GetPollInterval() time.Duration {
	return parseDuration(m.PollInterval, defaultPollInterval)
}

// GetDebounce parses the watcher debounce, defaulting on empty or invalid.
func (m MonitorSettings) GetDebounce() time.Duration {
	return parseDuration(m.Debounce, defaultDebounce)
}

// GetDrainMode returns "rotate" unless tail mode was explicitly configured.
func (m MonitorSettings) GetDrainMode() string {
	if m.DrainMode == DrainModeTail {
		return DrainModeTail
	}
	return DrainModeRotate
}

// GetPortBase returns the configured port base or the default.
func (d DiffSettings) GetPortBase() int {
	if d.PortBase > 0 && d.PortBase <= 65535 {
		return d.PortBase
	}
	return DefaultDiffPortBase
}

// GetCommand returns the diff server command and its leading args.
func (d DiffSettings) GetCommand() (string, []string) {
	if d.Command != "" {
		return d.Command, d.Args
	}
	return "npx", []string{"difit"}
}

// GetStartupTimeout bounds the scan for the server's ready line.
func (d DiffSettings) GetStartupTimeout() time.Duration {
	return parseDuration(d.StartupTimeout, defaultStartupTimeout)
}

// GetListen returns the HTTP listen address or the default.
func (w WebSettings) GetListen() string {
	if w.Listen != "" {
		return w.Listen
	}
	return DefaultListen
}

// GetVAPIDSubject returns the push subject claim or the default.
func (p PushSettings) GetVAPIDSubject() string {
	if p.VAPIDSubject != "" {
		return p.VAPIDSubject
	}
	return "mailto:agentlens@localhost"
}

// Active reports whether the Slack sink has enough configuration to run.
func (s SlackSettings) Active() bool {
	return s.Token != "" && s.Channel != ""
}

// GetLevel returns the log level, honoring AGENTLENS_DEBUG.
func (l LogSettings) GetLevel() string {
	if os.Getenv(EnvDebug) != "" {
		return "debug"
	}
	if l.Level != "" {
		return l.Level
	}
	return "info"
}

// GetFormat returns "json" unless text was configured.
func (l LogSettings) GetFormat() string {
	if l.Format == "text" {
		return "text"
	}
	return "json"
}

// GetCompress defaults to compressing rotated logs.
func (l LogSettings) GetCompress() bool {
	if l.Compress != nil {
		return *l.Compress
	}
	return true
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

var (
	configCache   *Config
	configCacheMu sync.RWMutex
)

// Load returns the cached config, reading the TOML file and applying
// environment overrides on first use. A missing file is not an error; a
// malformed file returns defaults plus the parse error so callers can
// surface it.
func Load() (*Config, error) {
	configCacheMu.RLock()
	if configCache != nil {
		defer configCacheMu.RUnlock()
		return configCache, nil
	}
	configCacheMu.RUnlock()

	configCacheMu.Lock()
	defer configCacheMu.Unlock()

	// Double-check after acquiring write lock
	if configCache != nil {
		return configCache, nil
	}

	var cfg Config
	var parseErr error

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if _, decodeErr := toml.DecodeFile(path, &cfg); decodeErr != nil {
				cfg = Config{}
				parseErr = fmt.Errorf("config.toml parse error: %w", decodeErr)
			}
		}
	}

	if envErr := applyEnvOverrides(&cfg); envErr != nil && parseErr == nil {
		parseErr = envErr
	}

	configCache = &cfg
	return configCache, parseErr
}

// Reload discards the cache and loads again.
func Reload() (*Config, error) {
	configCacheMu.Lock()
	configCache = nil
	configCacheMu.Unlock()
	return Load()
}

// ResetCacheForTest clears the cached config between tests.
func ResetCacheForTest() {
	configCacheMu.Lock()
	configCache = nil
	configCacheMu.Unlock()
}

// envOverrides maps AGENTLENS_* variables onto config fields.
type envOverrides struct {
	EventsPath     string `envconfig:"EVENTS_PATH"`
	PollInterval   string `envconfig:"POLL_INTERVAL"`
	DrainMode      string `envconfig:"DRAIN_MODE"`
	DiffPortBase   int    `envconfig:"DIFF_PORT_BASE"`
	Listen         string `envconfig:"LISTEN"`
	Token          string `envconfig:"TOKEN"`
	PushEnabled    *bool  `envconfig:"PUSH_ENABLED"`
	SlackToken     string `envconfig:"SLACK_TOKEN"`
	SlackChannel   string `envconfig:"SLACK_CHANNEL"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFormat      string `envconfig:"LOG_FORMAT"`
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	if env.EventsPath != "" {
		cfg.Monitor.EventsPath = env.EventsPath
	}
	if env.PollInterval != "" {
		cfg.Monitor.PollInterval = env.PollInterval
	}
	if env.DrainMode != "" {
		cfg.Monitor.DrainMode = env.DrainMode
	}
	if env.DiffPortBase != 0 {
		cfg.Diff.PortBase = env.DiffPortBase
	}
	if env.Listen != "" {
		cfg.Web.Listen = env.Listen
	}
	if env.Token != "" {
		cfg.Web.Token = env.Token
	}
	if env.PushEnabled != nil {
		cfg.Push.Enabled = *env.PushEnabled
	}
	if env.SlackToken != "" {
		cfg.Slack.Token = env.SlackToken
	}
	if env.SlackChannel != "" {
		cfg.Slack.Channel = env.SlackChannel
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Logging.Format = env.LogFormat
	}
	return nil
}

// Save writes the config atomically (tmp file, fsync, rename).
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if _, err := EnsureDataDir(); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# agent-lens configuration\n")
	buf.WriteString("# Environment variables with the AGENTLENS_ prefix override these values.\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		// Rename still gives atomicity; sync failure only weakens crash durability.
		_ = err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config into place: %w", err)
	}

	configCacheMu.Lock()
	configCache = cfg
	configCacheMu.Unlock()
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
