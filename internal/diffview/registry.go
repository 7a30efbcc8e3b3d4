package diffview

import (
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/logging"
)

// HashCompareResult is the outcome of CompareAndUpdateHash.
type HashCompareResult int

const (
	// Unchanged: same fingerprint and a live server, reuse it.
	Unchanged HashCompareResult = iota
	// Changed: fingerprint differs (or the server died); the old process
	// was killed and the caller must spawn a replacement.
	Changed
	// NewEntry: first request for this key; the caller must spawn.
	NewEntry
)

func (r HashCompareResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case NewEntry:
		return "new_entry"
	default:
		return "unknown"
	}
}

// terminateGrace is how long a killed server gets to exit on SIGTERM
// before the whole process group is SIGKILLed.
const terminateGrace = 2 * time.Second

// Registry owns the difit child servers, at most one live process per
// window key. One mutex guards the process map, the hash map, and the
// port counter together, so the compare-and-update decision and any kill
// it triggers are atomic with respect to every other registry call.
type Registry struct {
	mu       sync.Mutex
	procs    map[string]*Server
	hashes   map[string]uint64
	portBase uint16
	nextPort uint16

	log *slog.Logger
}

// NewRegistry creates an empty registry handing out ports from portBase.
func NewRegistry(portBase uint16) *Registry {
	return &Registry{
		procs:    make(map[string]*Server),
		hashes:   make(map[string]uint64),
		portBase: portBase,
		nextPort: portBase,
		log:      logging.ForComponent(logging.CompDiff),
	}
}

// NextPort hands out the next port. Monotonic from the base, wrapping
// back to the base on overflow; never probed for availability, a bind
// failure surfaces as a spawn error instead.
func (r *Registry) NextPort() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.nextPort
	r.nextPort++
	if r.nextPort < r.portBase {
		r.nextPort = r.portBase
	}
	return current
}

// Register records ownership of a spawned server. A second Register for
// the same key replaces the mapping without killing the old process;
// callers must route through CompareAndUpdateHash to avoid that leak.
func (r *Registry) Register(key string, srv *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[key] = srv
}

// CompareAndUpdateHash is the reuse-versus-restart decision, taken in one
// lock acquisition. Equal hash with a live server returns Unchanged and
// touches nothing. A differing hash kills and removes the current server,
// records the new hash, and returns Changed. An unknown key records the
// hash and returns NewEntry. Equal hash with a dead or missing server
// also returns Changed: a stale fingerprint must never make a caller
// reuse a process that is no longer there.
func (r *Registry) CompareAndUpdateHash(key string, newHash uint64) (result HashCompareResult) {
	// A panic out of the kill path must not decide "reuse": failing safe
	// means forcing a fresh spawn.
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("registry_panic", slog.String("key", key), slog.Any("panic", rec))
			result = Changed
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.hashes[key]
	switch {
	case !ok:
		r.hashes[key] = newHash
		return NewEntry
	case prev == newHash:
		if srv := r.procs[key]; srv != nil && srv.Alive() {
			return Unchanged
		}
		// Fingerprint matches but the process is gone: clear the stale
		// entry so the caller respawns.
		r.killLocked(key)
		return Changed
	default:
		r.killLocked(key)
		r.hashes[key] = newHash
		return Changed
	}
}

// ServerURL returns the URL and port of the live server for key, if any.
func (r *Registry) ServerURL(key string) (string, uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	srv := r.procs[key]
	if srv == nil || !srv.Alive() {
		return "", 0, false
	}
	return srv.URL, srv.Port, true
}

// Kill terminates and removes the server for key and clears its
// fingerprint. Idempotent: unknown keys are a no-op.
func (r *Registry) Kill(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.killLocked(key)
	delete(r.hashes, key)
}

// KillAll terminates every tracked server. Called on daemon shutdown so
// no difit process outlives its parent.
func (r *Registry) KillAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.procs {
		r.killLocked(key)
	}
	r.hashes = make(map[string]uint64)
}

// Count returns the number of tracked servers, live or not yet reaped.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// killLocked terminates and forgets the process for key. Caller holds r.mu.
func (r *Registry) killLocked(key string) {
	srv, ok := r.procs[key]
	if !ok {
		return
	}
	delete(r.procs, key)
	srv.terminate(r.log)
}

// terminate signals the server's process group and waits for the reaper,
// escalating to SIGKILL when the grace period runs out. No zombie
// remains: the reaper goroutine always collects the exit status.
func (s *Server) terminate(log *slog.Logger) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid

	// Negative pid targets the whole group, so node children spawned by
	// npx die with it.
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-s.done:
	case <-time.After(terminateGrace):
		log.Warn("server_kill_escalated", slog.Int("pid", pid))
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-s.done
	}
	log.Debug("server_terminated", slog.Int("pid", pid), slog.Uint64("port", uint64(s.Port)))
}
