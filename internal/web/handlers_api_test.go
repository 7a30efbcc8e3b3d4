package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asheshgoplani/agent-lens/internal/diffview"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

func decodeSnapshot(t *testing.T, body []byte) monitor.Snapshot {
	t.Helper()
	var snap monitor.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	return snap
}

func TestSessionsListAll(t *testing.T) {
	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Sessions:   &fakeSessionSource{snap: seedSnapshot()},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp sessionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode session list: %v", err)
	}
	if resp.Total != 2 || len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got total=%d len=%d", resp.Total, len(resp.Sessions))
	}
}

func TestSessionsFuzzyFilter(t *testing.T) {
	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Sessions:   &fakeSessionSource{snap: seedSnapshot()},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions?q=apisrv", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp sessionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode session list: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", resp.Total, resp.Sessions)
	}
	if resp.Sessions[0].ProjectName != "api-server" {
		t.Fatalf("expected api-server to match, got %q", resp.Sessions[0].ProjectName)
	}
}

func TestFilterSessionsMatchesOnKey(t *testing.T) {
	// "userapi" only matches when the key path participates in the search
	// text; neither project name contains it on its own.
	matches := FilterSessions(seedSnapshot().Sessions, "userapi")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %+v", len(matches), matches)
	}
	if matches[0].ProjectName != "api-server" {
		t.Fatalf("expected api-server to match, got %q", matches[0].ProjectName)
	}
}

func TestFilterSessionsEmptyQueryReturnsAll(t *testing.T) {
	sessions := seedSnapshot().Sessions
	matches := FilterSessions(sessions, "")
	if len(matches) != len(sessions) {
		t.Fatalf("expected all %d sessions, got %d", len(sessions), len(matches))
	}
}

func TestSessionDeleteWithEncodedKey(t *testing.T) {
	source := &fakeSessionSource{snap: seedSnapshot()}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Sessions: source})

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/%2Fhome%2Fuser%2Fwebapp", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(source.removed) != 1 || source.removed[0] != "/home/user/webapp" {
		t.Fatalf("expected decoded key to reach the store, got %v", source.removed)
	}

	// Deleting the same key again reports not found.
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/%2Fhome%2Fuser%2Fwebapp", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d on second delete, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestSessionDeleteMissingKey(t *testing.T) {
	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Sessions:   &fakeSessionSource{snap: seedSnapshot()},
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestDiffOpen(t *testing.T) {
	opener := &fakeDiffOpener{result: diffview.OpenResult{
		WindowKey: "a1b2c3",
		URL:       "http://127.0.0.1:4966",
		Port:      4966,
		Reused:    false,
	}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: opener})

	body := strings.NewReader(`{"repo": "/home/user/api-server", "kind": "unstaged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	var result diffview.OpenResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode open result: %v", err)
	}
	if result.URL != "http://127.0.0.1:4966" || result.WindowKey != "a1b2c3" {
		t.Fatalf("unexpected open result: %+v", result)
	}
	if len(opener.opened) != 1 || opener.opened[0] != "/home/user/api-server" {
		t.Fatalf("expected open call for repo, got %v", opener.opened)
	}
}

func TestDiffOpenRejectsUnknownKind(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: &fakeDiffOpener{}})

	body := strings.NewReader(`{"repo": "/home/user/api-server", "kind": "sideways"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"INVALID_REQUEST"`) {
		t.Fatalf("expected INVALID_REQUEST body, got: %s", rr.Body.String())
	}
}

func TestDiffOpenRequiresRepo(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: &fakeDiffOpener{}})

	body := strings.NewReader(`{"kind": "unstaged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestDiffOpenNoContent(t *testing.T) {
	opener := &fakeDiffOpener{err: diffview.ErrNoContent}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: opener})

	body := strings.NewReader(`{"repo": "/home/user/api-server", "kind": "staged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"NO_DIFF_CONTENT"`) {
		t.Fatalf("expected NO_DIFF_CONTENT body, got: %s", rr.Body.String())
	}
}

func TestDiffOpenFailure(t *testing.T) {
	opener := &fakeDiffOpener{err: errors.New("not a git repository")}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: opener})

	body := strings.NewReader(`{"repo": "/home/user/api-server", "kind": "unstaged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"DIFF_FAILED"`) {
		t.Fatalf("expected DIFF_FAILED body, got: %s", rr.Body.String())
	}
}

func TestDiffOpenWithoutService(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	body := strings.NewReader(`{"repo": "/home/user/api-server", "kind": "unstaged"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/diff", body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestDiffClose(t *testing.T) {
	opener := &fakeDiffOpener{}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: opener})

	req := httptest.NewRequest(http.MethodDelete, "/api/diff/a1b2c3", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(opener.closed) != 1 || opener.closed[0] != "a1b2c3" {
		t.Fatalf("expected close call for window key, got %v", opener.closed)
	}
}

func TestDiffCloseMissingKey(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", Diff: &fakeDiffOpener{}})

	req := httptest.NewRequest(http.MethodDelete, "/api/diff/", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestDashboardWithoutStore(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"NOT_READY"`) {
		t.Fatalf("expected NOT_READY body, got: %s", rr.Body.String())
	}
}
