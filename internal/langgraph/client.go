package langgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrRunNotFound = errors.New("langgraph run not found")

// RunStatus mirrors the run lifecycle reported by the LangGraph server.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusSuccess     RunStatus = "success"
	RunStatusError       RunStatus = "error"
	RunStatusTimeout     RunStatus = "timeout"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Terminal reports whether the run will never change status again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusError, RunStatusTimeout, RunStatusInterrupted:
		return true
	}
	return false
}

// Client is the compute-side contract: create a server-side thread,
// start a graph run on it, check the run and collect its final state.
// Implementations never retry on their own; the poller owns cadence.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	CreateRun(ctx context.Context, threadID string, graph string, input any) (string, error)
	GetRunStatus(ctx context.Context, threadID string, runID string) (RunStatus, error)
	JoinRun(ctx context.Context, threadID string, runID string) (json.RawMessage, error)
}

type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Available() bool {
	return c.baseURL != ""
}

func (c *HTTPClient) CreateThread(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/threads", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	var response struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decode thread response: %w", err)
	}
	if response.ThreadID == "" {
		return "", errors.New("thread response missing thread_id")
	}
	return response.ThreadID, nil
}

func (c *HTTPClient) CreateRun(
	ctx context.Context,
	threadID string,
	graph string,
	input any,
) (string, error) {
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	body, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"assistant_id": graph,
		"input":        input,
	})
	if err != nil {
		return "", fmt.Errorf("create run on graph %s: %w", graph, err)
	}

	var response struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decode run response: %w", err)
	}
	if response.RunID == "" {
		return "", errors.New("run response missing run_id")
	}
	return response.RunID, nil
}

func (c *HTTPClient) GetRunStatus(
	ctx context.Context,
	threadID string,
	runID string,
) (RunStatus, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("get run status: %w", err)
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("decode run status: %w", err)
	}

	status := RunStatus(response.Status)
	switch status {
	case RunStatusPending, RunStatusRunning, RunStatusSuccess,
		RunStatusError, RunStatusTimeout, RunStatusInterrupted:
		return status, nil
	default:
		return "", fmt.Errorf("unknown run status %q", response.Status)
	}
}

// JoinRun blocks until the run completes and returns its final state.
// Call it only after GetRunStatus reported success; the server still
// answers for already-finished runs.
func (c *HTTPClient) JoinRun(
	ctx context.Context,
	threadID string,
	runID string,
) (json.RawMessage, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s/join", threadID, runID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("join run: %w", err)
	}
	return json.RawMessage(body), nil
}

func (c *HTTPClient) do(
	ctx context.Context,
	method string,
	path string,
	payload any,
) ([]byte, error) {
	if !c.Available() {
		return nil, errors.New("langgraph base URL not configured")
	}

	var requestBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		requestBody = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, requestBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("X-Api-Key", c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(response.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrRunNotFound
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("langgraph status %d: %s", response.StatusCode, compactBody(body))
	}
	return body, nil
}

func compactBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}
