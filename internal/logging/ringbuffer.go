package logging

import (
	"os"
	"strings"
	"sync"
)

// LineRing is a thread-safe ring of the most recent log lines.
// It implements io.Writer; each Write is expected to carry whole lines
// (slog handlers write one record per call). Old lines are discarded once
// the ring is full.
type LineRing struct {
	mu    sync.Mutex
	lines []string
	max   int
	start int
	count int
}

// NewLineRing creates a ring holding up to max lines.
func NewLineRing(max int) *LineRing {
	if max <= 0 {
		max = 2000
	}
	return &LineRing{
		lines: make([]string, max),
		max:   max,
	}
}

// Write implements io.Writer. Trailing newlines are stripped; a single call
// carrying multiple lines is split.
func (r *LineRing) Write(p []byte) (int, error) {
	n := len(p)
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return n, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		r.push(line)
	}
	return n, nil
}

// push appends one line, evicting the oldest when full. Caller holds r.mu.
func (r *LineRing) push(line string) {
	if r.count < r.max {
		r.lines[(r.start+r.count)%r.max] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % r.max
}

// Lines returns the buffered lines in chronological order.
func (r *LineRing) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%r.max]
	}
	return out
}

// Len returns the number of buffered lines.
func (r *LineRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// DumpToFile writes the buffered lines to a file, one per line.
func (r *LineRing) DumpToFile(path string) error {
	lines := r.Lines()
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
