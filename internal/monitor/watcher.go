package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
)

// Watcher wakes the drainer when the event queue changes. fsnotify on the
// queue's directory is the fast path; a poll ticker catches anything the
// notifier misses (network filesystems, editors that replace files).
//
// Every drain runs on the watcher's own goroutine, so cycles never overlap.
type Watcher struct {
	queuePath string
	drainer   *Drainer
	debounce  time.Duration
	poll      time.Duration

	fsw    *fsnotify.Watcher
	kickCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *slog.Logger
}

// NewWatcherFromConfig builds the drainer and watcher from monitor settings.
func NewWatcherFromConfig(settings config.MonitorSettings, store *Store, m *metrics.Metrics) (*Watcher, error) {
	queuePath, err := settings.GetEventsPath()
	if err != nil {
		return nil, fmt.Errorf("resolve event queue path: %w", err)
	}
	drainer := NewDrainer(queuePath, settings.GetDrainMode(), store, m)
	return NewWatcher(queuePath, drainer, settings.GetDebounce(), settings.GetPollInterval())
}

// NewWatcher creates a watcher that drains the queue at queuePath.
// debounce coalesces rapid writes; poll is the fallback interval.
func NewWatcher(queuePath string, drainer *Drainer, debounce, poll time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		queuePath: filepath.Clean(queuePath),
		drainer:   drainer,
		debounce:  debounce,
		poll:      poll,
		fsw:       fsw,
		kickCh:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       logging.ForComponent(logging.CompMonitor),
	}, nil
}

// Start begins watching. Must be called in a goroutine; blocks until Stop.
func (w *Watcher) Start() {
	defer close(w.done)

	// Watch the directory, not the file: the drain protocol renames the
	// queue away and recreates it, which would silently detach a file watch.
	dir := filepath.Dir(w.queuePath)
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warn("watch_add_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		// Poll ticker still runs; we just lose the fast path.
	}

	// Debounce timer: coalesce rapid appends into one drain.
	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	// Catch up on anything queued before we started.
	w.drain()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.queuePath {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.Kick)
			debounceMu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch_error", slog.String("error", err.Error()))

		case <-w.kickCh:
			w.drain()

		case <-ticker.C:
			w.drain()
		}
	}
}

// Kick requests a drain without blocking. Safe from any goroutine; a kick
// while one is already pending is a no-op.
func (w *Watcher) Kick() {
	select {
	case w.kickCh <- struct{}{}:
	default:
	}
}

// Stop shuts the watcher down and waits for the loop goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()
	<-w.done
}

func (w *Watcher) drain() {
	// DrainOnce logs its own failures; the loop just keeps going.
	_, _ = w.drainer.DrainOnce()
}
