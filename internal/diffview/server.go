package diffview

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// readyMarker is the stderr line fragment difit prints once its HTTP
// server is listening.
const readyMarker = "difit server started on"

// readyScanLines caps how many stderr lines are inspected for the marker
// before giving up on parsing the actual port.
const readyScanLines = 10

// Server is one running difit child process serving a single diff.
type Server struct {
	cmd  *exec.Cmd
	done chan struct{} // closed once the reaper collects the exit status

	// URL is where the viewer is reachable, cache buster included.
	URL string
	// Port is the port the child was asked to bind.
	Port uint16
}

// Alive reports whether the child process has not yet exited.
func (s *Server) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Spawn starts a diff server for content rooted at repoPath. The diff
// bytes are piped to the child's stdin, then stdin is closed so the child
// sees EOF. Stderr is scanned for the ready line to learn the port the
// server actually bound (difit may pick a different one when the requested
// port is taken); when the line does not appear within timeout the
// requested port is assumed. The URL carries a cache-buster derived from
// the content fingerprint so a restarted server is never served from a
// browser cache.
func Spawn(repoPath string, content Content, port uint16, command string, args []string, timeout time.Duration, log *slog.Logger) (*Server, error) {
	argv := append(append([]string{}, args...), "--no-open", "--port", strconv.Itoa(int(port)))
	cmd := exec.Command(command, argv...)
	cmd.Dir = repoPath

	// New process group so the node server npx hands off to dies together
	// with npx on kill. Without this, killing npx leaves the actual server
	// orphaned under PID 1, still holding the port.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to capture stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}
	log.Info("server_spawning",
		slog.String("command", command),
		slog.Uint64("port", uint64(port)),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("diff_bytes", len(content.Bytes)))

	// Feed the diff and close the pipe; the child reads stdin to EOF. A
	// write error here means the child died early, which the ready wait
	// below surfaces.
	go func() {
		_, _ = stdin.Write(content.Bytes)
		_ = stdin.Close()
	}()

	portCh := make(chan uint16, 1)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanned := 0
		for scanner.Scan() {
			scanned++
			if scanned <= readyScanLines {
				if p, ok := parseReadyPort(scanner.Text()); ok {
					portCh <- p
				}
			}
			// Keep draining past the marker so the child never blocks on
			// a full stderr pipe.
		}
	}()

	// Wait must not run before the stderr read is finished, so the reaper
	// chains behind the scanner. done doubles as the liveness signal for
	// Alive and as the reap acknowledgment for terminate.
	done := make(chan struct{})
	go func() {
		<-stderrDone
		err := cmd.Wait()
		close(done)
		if err != nil {
			log.Debug("server_exited",
				slog.Int("pid", cmd.Process.Pid),
				slog.String("error", err.Error()))
		}
	}()

	srv := &Server{cmd: cmd, done: done, Port: port}

	select {
	case actual := <-portCh:
		srv.Port = actual
	case <-done:
		return nil, fmt.Errorf("%s exited before announcing its port", command)
	case <-time.After(timeout):
		// Assume the requested port; if the bind failed the browser tab
		// shows a connection error, which beats blocking forever.
		log.Warn("server_ready_timeout",
			slog.Uint64("assumed_port", uint64(port)),
			slog.Duration("timeout", timeout))
	}

	srv.URL = fmt.Sprintf("http://localhost:%d/?_cb=%x", srv.Port, content.Hash)
	log.Info("server_ready", slog.String("url", srv.URL), slog.Int("pid", cmd.Process.Pid))
	return srv, nil
}

// parseReadyPort extracts the bound port from the ready line, e.g.
// "difit server started on http://localhost:4967".
func parseReadyPort(line string) (uint16, bool) {
	if !strings.Contains(line, readyMarker) {
		return 0, false
	}
	idx := strings.Index(line, "http://localhost:")
	if idx < 0 {
		return 0, false
	}
	portStr := strings.TrimSpace(line[idx+len("http://localhost:"):])
	// Tolerate trailing path or punctuation after the port digits.
	if cut := strings.IndexFunc(portStr, func(r rune) bool { return r < '0' || r > '9' }); cut >= 0 {
		portStr = portStr[:cut]
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || p == 0 {
		return 0, false
	}
	return uint16(p), true
}
