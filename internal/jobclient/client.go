// Package jobclient implements the runner.RunClient contract over the job
// API's HTTP surface.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/driftlab/lineage/pkg/types"
)

// Config holds job API connection configuration.
type Config struct {
	// BaseURL of the job API (e.g. "http://localhost:8580").
	BaseURL string

	// PollInterval paces WaitRun requests (default: 1s).
	PollInterval time.Duration

	// RequestTimeout bounds each HTTP request (default: 30s).
	RequestTimeout time.Duration

	// OAuth2 client-credentials settings. An empty TokenURL disables auth.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client talks to the external job API over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a job API client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("job api base url is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = timeout
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

type submitRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Nowait bool           `json:"nowait"`
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

// SubmitRun submits a named operation and returns the run identifier.
func (c *Client) SubmitRun(ctx context.Context, runType string, params map[string]any, nowait bool) (string, error) {
	body, err := json.Marshal(submitRequest{Type: runType, Params: params, Nowait: nowait})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("submit run: %w", err)
	}
	if resp.RunID == "" {
		return "", fmt.Errorf("submit run: response missing run_id")
	}
	return resp.RunID, nil
}

// WaitRun polls the remote run once, paced by the client's rate limiter.
func (c *Client) WaitRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait run: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/runs/"+runID+"/wait", nil)
	if err != nil {
		return nil, fmt.Errorf("build wait request: %w", err)
	}

	record := &types.RunRecord{}
	if err := c.do(req, record); err != nil {
		return nil, fmt.Errorf("wait run %s: %w", runID, err)
	}
	if record.RunID == "" {
		record.RunID = runID
	}
	return record, nil
}

// CancelRun requests best-effort cancellation of an in-flight run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs/"+runID+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
