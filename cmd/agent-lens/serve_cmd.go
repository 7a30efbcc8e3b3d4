package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/diffview"
	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
	"github.com/asheshgoplani/agent-lens/internal/notify"
	"github.com/asheshgoplani/agent-lens/internal/statedb"
	"github.com/asheshgoplani/agent-lens/internal/web"
)

// snapshotSaveFloor is the minimum gap between SQLite snapshot writes.
// State changes inside the window collapse into the next save.
const snapshotSaveFloor = 1 * time.Second

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listenAddr := fs.String("listen", "", "Listen address (overrides config)")

	fs.Usage = func() {
		fmt.Println("Usage: agent-lens serve [options]")
		fmt.Println()
		fmt.Println("Run the monitor daemon: drain the hook event queue, serve the")
		fmt.Println("dashboard API, and manage diff viewer processes.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  agent-lens serve")
		fmt.Println("  agent-lens serve --listen 127.0.0.1:9000")
		fmt.Println("  AGENTLENS_TOKEN=secret agent-lens serve")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}

	cfg, cfgErr := config.Load()

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create data directory: %v\n", err)
		os.Exit(1)
	}

	logDir, err := config.LogDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot resolve log directory: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{
		LogDir:       logDir,
		Level:        cfg.Logging.GetLevel(),
		Format:       cfg.Logging.GetFormat(),
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.GetCompress(),
		PprofEnabled: cfg.Logging.Pprof,
		Debug:        os.Getenv(config.EnvDebug) != "",
	})
	defer logging.Shutdown()

	log := logging.ForComponent(logging.CompCLI)
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
		log.Warn("config_load_failed", slog.String("error", cfgErr.Error()))
	}

	// One daemon per data directory. A second serve exits instead of
	// fighting over the queue file.
	lockPath, err := config.LockPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot acquire daemon lock: %v\n", err)
		os.Exit(1)
	}
	if !locked {
		fmt.Fprintln(os.Stderr, "Error: agent-lens serve is already running for this data directory.")
		fmt.Fprintln(os.Stderr, "Stop the other instance first, or point AGENTLENS_HOME elsewhere.")
		os.Exit(1)
	}
	defer func() { _ = fileLock.Unlock() }()

	m := metrics.New()
	store := monitor.NewStore(nil)

	// Persistence is best effort; a broken state.db downgrades to an
	// in-memory daemon rather than refusing to start.
	var db *statedb.StateDB
	if dbPath, pathErr := config.StateDBPath(); pathErr != nil {
		log.Warn("statedb_path_failed", slog.String("error", pathErr.Error()))
	} else if opened, openErr := statedb.Open(dbPath); openErr != nil {
		log.Warn("statedb_open_failed", slog.String("path", dbPath), slog.String("error", openErr.Error()))
	} else if migErr := opened.Migrate(); migErr != nil {
		log.Warn("statedb_migrate_failed", slog.String("error", migErr.Error()))
		_ = opened.Close()
	} else {
		db = opened
	}
	if db != nil {
		migrateLegacyState(db, dataDir, log)
		if sessions, events, loadErr := db.LoadSnapshot(); loadErr != nil {
			log.Warn("snapshot_load_failed", slog.String("error", loadErr.Error()))
		} else {
			store.Restore(sessions, events)
			log.Info("snapshot_restored",
				slog.Int("sessions", len(sessions)),
				slog.Int("events", len(events)))
		}
	}

	diffSvc := diffview.NewService(cfg.Diff, m)

	pushPublic, pushPrivate := "", ""
	if cfg.Push.Enabled {
		var generated bool
		pushPublic, pushPrivate, generated, err = web.EnsurePushVAPIDKeys(dataDir, cfg.Push.GetVAPIDSubject())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to prepare web push keys: %v\n", err)
			os.Exit(1)
		}
		if generated {
			fmt.Println("Push keys: generated new VAPID keypair")
		} else {
			fmt.Println("Push keys: using existing VAPID keypair")
		}
	}

	addr := cfg.Web.GetListen()
	if *listenAddr != "" {
		addr = *listenAddr
	}
	srv := web.NewServer(web.Config{
		ListenAddr:          addr,
		Token:               cfg.Web.Token,
		Sessions:            store,
		Diff:                diffSvc,
		Metrics:             m,
		PushVAPIDPublicKey:  pushPublic,
		PushVAPIDPrivateKey: pushPrivate,
		PushVAPIDSubject:    cfg.Push.GetVAPIDSubject(),
		DataDir:             dataDir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slackSink := notify.NewSlackSink(cfg.Slack.Token, cfg.Slack.Channel, store)
	slackSink.Start(ctx)

	saver := newSnapshotSaver(db, store)
	go saver.run(ctx)

	store.SetNotifier(notify.Multi(srv, notify.NewGauges(m), slackSink, saver))

	watcher, err := monitor.NewWatcherFromConfig(cfg.Monitor, store, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot start event watcher: %v\n", err)
		os.Exit(1)
	}
	go watcher.Start()

	// SIGUSR1 dumps the log ring buffer for post-mortem debugging.
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(dataDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if dumpErr := logging.DumpRing(dumpPath); dumpErr != nil {
				log.Error("crash_dump_failed", slog.String("error", dumpErr.Error()))
			} else {
				log.Info("crash_dump_written", slog.String("path", dumpPath))
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown_signal", slog.String("signal", sig.String()))
		fmt.Println("\nShutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.String("listen", srv.Addr()),
		slog.Bool("push", cfg.Push.Enabled),
		slog.Bool("slack", cfg.Slack.Active()),
		slog.Bool("persistence", db != nil))
	fmt.Printf("agent-lens daemon v%s\n", Version)
	fmt.Printf("Dashboard API: http://%s\n", srv.Addr())
	fmt.Println("Press Ctrl+C to stop.")

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: web server: %v\n", err)
		os.Exit(1)
	}

	// The HTTP listener is down; unwind the rest in dependency order.
	watcher.Stop()
	cancel()
	saver.wait()
	diffSvc.Shutdown()
	if db != nil {
		if saveErr := db.SaveSnapshot(store.Snapshot()); saveErr != nil {
			log.Warn("final_snapshot_failed", slog.String("error", saveErr.Error()))
		}
		_ = db.Close()
	}
	log.Info("daemon_stopped")
}

// migrateLegacyState imports the pre-SQLite state.json once, then renames
// it out of the way so the import never repeats.
func migrateLegacyState(db *statedb.StateDB, dataDir string, log *slog.Logger) {
	empty, err := db.IsEmpty()
	if err != nil || !empty {
		return
	}
	legacyPath := filepath.Join(dataDir, "state.json")
	if _, statErr := os.Stat(legacyPath); statErr != nil {
		return
	}
	sessions, events, err := statedb.MigrateFromJSON(legacyPath, db)
	if err != nil {
		log.Warn("legacy_migration_failed", slog.String("path", legacyPath), slog.String("error", err.Error()))
		return
	}
	if renameErr := os.Rename(legacyPath, legacyPath+".migrated"); renameErr != nil {
		log.Warn("legacy_rename_failed", slog.String("error", renameErr.Error()))
	}
	log.Info("legacy_state_migrated",
		slog.String("path", legacyPath),
		slog.Int("sessions", sessions),
		slog.Int("events", events))
	fmt.Printf("Migrated legacy state.json (%d sessions, %d events)\n", sessions, events)
}

// snapshotSaver persists the store to SQLite after state changes, at most
// once per save floor. Nil receivers are no-ops so the daemon wires it
// unconditionally.
type snapshotSaver struct {
	db    *statedb.StateDB
	store *monitor.Store
	kick  chan struct{}
	done  chan struct{}
	log   *slog.Logger
}

func newSnapshotSaver(db *statedb.StateDB, store *monitor.Store) *snapshotSaver {
	if db == nil {
		return nil
	}
	return &snapshotSaver{
		db:    db,
		store: store,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		log:   logging.ForComponent(logging.CompDB),
	}
}

// StateChanged implements monitor.Notifier without blocking the caller.
func (p *snapshotSaver) StateChanged(monitor.Snapshot) {
	if p == nil {
		return
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *snapshotSaver) run(ctx context.Context) {
	if p == nil {
		return
	}
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			if err := p.db.SaveSnapshot(p.store.Snapshot()); err != nil {
				p.log.Warn("snapshot_save_failed", slog.String("error", err.Error()))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(snapshotSaveFloor):
			}
		}
	}
}

// wait blocks until the saver goroutine has exited.
func (p *snapshotSaver) wait() {
	if p == nil {
		return
	}
	<-p.done
}
