package monitor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/logging"
	"github.com/asheshgoplani/agent-lens/internal/metrics"
)

// ErrRotateContended marks a drain cycle aborted because the queue rename
// failed (another drain in flight, or the filesystem refused the rename).
// The cycle is simply retried on the next wake-up.
var ErrRotateContended = errors.New("event queue rotation contended")

// Scanner buffer sizing for queue lines. Hook messages are short, but a
// pasted permission prompt can be large.
const (
	scanInitialBuf = 64 * 1024
	scanMaxBuf     = 2 * 1024 * 1024
)

// Drainer consumes the append-only event queue exactly once per line and
// applies records to the store in file order. It is not safe for
// concurrent use; the watcher goroutine is the only caller.
type Drainer struct {
	path    string
	mode    string
	store   *Store
	metrics *metrics.Metrics

	// tail-mode read position
	offset int64

	log *slog.Logger
}

// NewDrainer creates a drainer for the queue at path. mode is
// config.DrainModeRotate or config.DrainModeTail. metrics may be nil.
func NewDrainer(path, mode string, store *Store, m *metrics.Metrics) *Drainer {
	if mode != config.DrainModeTail {
		mode = config.DrainModeRotate
	}
	return &Drainer{
		path:    path,
		mode:    mode,
		store:   store,
		metrics: m,
		log:     logging.ForComponent(logging.CompDrain),
	}
}

// DrainOnce consumes everything currently in the queue. It returns the
// number of records applied. All failure modes degrade to "skip this
// cycle"; the caller just logs and waits for the next wake-up.
func (d *Drainer) DrainOnce() (int, error) {
	start := time.Now()

	var applied int
	var err error
	if d.mode == config.DrainModeTail {
		applied, err = d.drainTail()
	} else {
		applied, err = d.drainRotate()
	}

	d.observe(applied, time.Since(start), err)
	return applied, err
}

// observe records metrics and logs for one cycle.
func (d *Drainer) observe(applied int, elapsed time.Duration, err error) {
	if d.metrics != nil {
		switch {
		case errors.Is(err, ErrRotateContended):
			d.metrics.DrainCycles.WithLabelValues(metrics.DrainSkipped).Inc()
		case err != nil:
			d.metrics.DrainCycles.WithLabelValues(metrics.DrainError).Inc()
		case applied == 0:
			d.metrics.DrainCycles.WithLabelValues(metrics.DrainEmpty).Inc()
		default:
			d.metrics.DrainCycles.WithLabelValues(metrics.DrainApplied).Inc()
			d.metrics.DrainDuration.Observe(elapsed.Seconds())
		}
		d.metrics.Sessions.Set(float64(d.store.Len()))
		d.metrics.SessionsWaiting.Set(float64(d.store.WaitingCount()))
	}

	switch {
	case errors.Is(err, ErrRotateContended):
		d.log.Debug("cycle_skipped", slog.String("error", err.Error()))
	case err != nil:
		d.log.Warn("cycle_failed", slog.String("error", err.Error()))
	case applied > 0:
		d.log.Info("cycle_complete",
			slog.Int("applied", applied),
			slog.Duration("elapsed", elapsed))
	default:
		logging.Aggregate(logging.CompDrain, "cycle_empty", slog.String("mode", d.mode))
	}
}

// drainRotate implements the rotate-and-drain protocol:
// stat, rename to a unique sibling, recreate the queue, parse the sibling
// in file order, remove it. The rename is the serialization point; every
// other step degrades gracefully.
func (d *Drainer) drainRotate() (int, error) {
	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat queue: %w", err)
	}
	if info.Size() == 0 {
		return 0, nil
	}

	// Time + pid keeps sibling names unique across processes and across
	// rapid successive drains within one process.
	sibling := fmt.Sprintf("%s.%d.%d", d.path, time.Now().UnixNano(), os.Getpid())

	if err := os.Rename(d.path, sibling); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRotateContended, err)
	}

	// Recreate the queue so hook writers keep appending without errors.
	// O_CREATE without O_TRUNC: if a writer already recreated the file and
	// appended, that data belongs to the next cycle.
	if f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		d.log.Warn("queue_recreate_failed", slog.String("error", err.Error()))
	} else {
		f.Close()
	}

	applied, readErr := d.applyFile(sibling)

	if err := os.Remove(sibling); err != nil {
		d.log.Warn("sibling_remove_failed",
			slog.String("path", sibling),
			slog.String("error", err.Error()))
	}

	return applied, readErr
}

// applyFile parses one rotated queue file line by line and applies every
// well-formed record in order. Blank lines are skipped; lines that fail to
// parse are dropped and logged, never retried.
func (d *Drainer) applyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open rotated queue: %w", err)
	}
	defer f.Close()

	applied := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, scanInitialBuf), scanMaxBuf)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		rec, err := ParseEventLine(line)
		if err != nil {
			d.dropLine(line, err)
			continue
		}
		d.store.Apply(rec)
		if d.metrics != nil {
			d.metrics.EventsApplied.WithLabelValues(string(rec.Kind())).Inc()
		}
		applied++
	}

	if err := scanner.Err(); err != nil {
		return applied, fmt.Errorf("read rotated queue: %w", err)
	}
	return applied, nil
}

// drainTail is the legacy fallback: remember a byte offset and read
// forward from it. A file smaller than the remembered offset was
// truncated or replaced; reading restarts from zero. A trailing line with
// no newline is a write in progress and is left for the next cycle.
func (d *Drainer) drainTail() (int, error) {
	f, err := os.Open(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.offset = 0
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat queue: %w", err)
	}
	if info.Size() < d.offset {
		d.log.Warn("queue_shrank",
			slog.Int64("size", info.Size()),
			slog.Int64("offset", d.offset))
		d.offset = 0
	}
	if info.Size() == d.offset {
		return 0, nil
	}

	if _, err := f.Seek(d.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek queue: %w", err)
	}

	applied := 0
	reader := bufio.NewReaderSize(f, scanInitialBuf)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Unterminated tail: the writer is mid-append, pick it up next cycle.
			break
		}
		if err != nil {
			return applied, fmt.Errorf("read queue: %w", err)
		}

		d.offset += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		rec, perr := ParseEventLine([]byte(trimmed))
		if perr != nil {
			d.dropLine([]byte(trimmed), perr)
			continue
		}
		d.store.Apply(rec)
		if d.metrics != nil {
			d.metrics.EventsApplied.WithLabelValues(string(rec.Kind())).Inc()
		}
		applied++
	}

	return applied, nil
}

// dropLine logs a parse failure with a bounded excerpt of the bad line.
func (d *Drainer) dropLine(line []byte, err error) {
	excerpt := string(line)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200] + "..."
	}
	d.log.Error("line_dropped",
		slog.String("error", err.Error()),
		slog.String("line", excerpt))
	if d.metrics != nil {
		d.metrics.EventParseFailures.Inc()
	}
}
