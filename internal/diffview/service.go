package diffview

import (
	"log/slog"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/git"
	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
)

// OpenResult describes the viewer serving a requested diff.
type OpenResult struct {
	URL       string `json:"url"`
	Port      uint16 `json:"port"`
	WindowKey string `json:"window_key"`
	Reused    bool   `json:"reused"`
}

// Service turns open-diff requests into running viewers: resolve the
// content, derive the window key, then let the registry decide between
// reusing the live server and spawning a replacement. The session store
// is never involved, so a slow git diff or npx startup cannot stall
// event draining.
type Service struct {
	resolver *Resolver
	registry *Registry

	command string
	args    []string
	timeout time.Duration

	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewService builds a service from the diff settings.
func NewService(settings config.DiffSettings, m *metrics.Metrics) *Service {
	command, args := settings.GetCommand()
	return &Service{
		resolver: NewResolver(),
		registry: NewRegistry(uint16(settings.GetPortBase())),
		command:  command,
		args:     args,
		timeout:  settings.GetStartupTimeout(),
		metrics:  m,
		log:      logging.ForComponent(logging.CompDiff),
	}
}

// Open resolves the requested diff and returns a viewer URL for it,
// reusing the existing server when the content fingerprint is unchanged.
// For branch diffs an empty base defaults to the repository's default
// branch before the window key is derived, so "diff against the default"
// and "diff against main" land on the same viewer when they coincide.
func (s *Service) Open(repoPath string, kind Kind, baseBranch string) (OpenResult, error) {
	if kind == KindBranch {
		if baseBranch == "" {
			baseBranch = git.GetDefaultBranch(repoPath)
		}
		if err := git.ValidateBranchName(baseBranch); err != nil {
			s.countOpen(metrics.DiffError)
			return OpenResult{}, err
		}
	}

	content, err := s.resolver.Resolve(repoPath, kind, baseBranch)
	if err != nil {
		s.countOpen(metrics.DiffError)
		return OpenResult{}, err
	}

	key := WindowKey(repoPath, kind, baseBranch)

	switch s.registry.CompareAndUpdateHash(key, content.Hash) {
	case Unchanged:
		if url, port, ok := s.registry.ServerURL(key); ok {
			s.log.Info("viewer_reused", slog.String("key", key), slog.String("url", url))
			s.countOpen(metrics.DiffReused)
			return OpenResult{URL: url, Port: port, WindowKey: key, Reused: true}, nil
		}
		// Died between the compare and the lookup; fall through to spawn.
	case Changed:
		s.log.Info("viewer_restarting", slog.String("key", key))
	case NewEntry:
		s.log.Info("viewer_starting", slog.String("key", key))
	}

	port := s.registry.NextPort()
	srv, err := Spawn(repoPath, content, port, s.command, s.args, s.timeout, s.log)
	if err != nil {
		// The fingerprint was already recorded; drop it so the retry is
		// not mistaken for unchanged content.
		s.registry.Kill(key)
		s.countOpen(metrics.DiffError)
		return OpenResult{}, err
	}
	s.registry.Register(key, srv)
	s.countOpen(metrics.DiffSpawned)
	s.gaugeServers()

	return OpenResult{URL: srv.URL, Port: srv.Port, WindowKey: key, Reused: false}, nil
}

// Close kills the server for one window key. Unknown keys are a no-op.
func (s *Service) Close(windowKey string) {
	s.registry.Kill(windowKey)
	s.gaugeServers()
}

// Shutdown terminates every tracked viewer. Called once on daemon exit.
func (s *Service) Shutdown() {
	s.registry.KillAll()
	s.gaugeServers()
}

// ServerCount reports how many viewers the registry tracks.
func (s *Service) ServerCount() int {
	return s.registry.Count()
}

func (s *Service) countOpen(result string) {
	if s.metrics != nil {
		s.metrics.DiffOpens.WithLabelValues(result).Inc()
	}
}

func (s *Service) gaugeServers() {
	if s.metrics != nil {
		s.metrics.DiffServers.Set(float64(s.registry.Count()))
	}
}
