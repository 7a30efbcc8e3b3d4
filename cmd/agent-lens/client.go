package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asheshgoplani/agent-lens/internal/config"
	"github.com/asheshgoplani/agent-lens/internal/diffview"
	"github.com/asheshgoplani/agent-lens/internal/monitor"
)

// apiClient talks to a running daemon over its loopback HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(cfg *config.Config) *apiClient {
	return &apiClient{
		baseURL: "http://" + cfg.Web.GetListen(),
		token:   cfg.Web.Token,
		http:    &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// fetchDashboard retrieves the live snapshot from the daemon.
func (c *apiClient) fetchDashboard() (monitor.Snapshot, error) {
	var snap monitor.Snapshot
	resp, err := c.do(http.MethodGet, "/api/dashboard", nil)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, apiResponseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode dashboard response: %w", err)
	}
	return snap, nil
}

// openDiff asks the daemon to open a diff viewer and returns the URL.
func (c *apiClient) openDiff(repo, kind, base string) (diffview.OpenResult, error) {
	var result diffview.OpenResult

	payload, err := json.Marshal(struct {
		Repo string `json:"repo"`
		Kind string `json:"kind"`
		Base string `json:"base,omitempty"`
	}{Repo: repo, Kind: kind, Base: base})
	if err != nil {
		return result, err
	}

	resp, err := c.do(http.MethodPost, "/api/diff", bytes.NewReader(payload))
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, apiResponseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode diff response: %w", err)
	}
	return result, nil
}

// apiResponseError turns a non-200 response into an error carrying the
// daemon's message when it sent one.
func apiResponseError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s", apiErr.Error.Message)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
