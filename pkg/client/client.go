// Package client is a typed HTTP client for the svcpilot daemon API.
// It is what the desktop frontend and the CLI use to drive lifecycles
// remotely.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client communicates with a running svcpilot daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration. HTTPClient, when set, overrides
// Timeout and lets callers bring their own transport.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger
	HTTPClient *http.Client
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "http://127.0.0.1:9900"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: base, client: hc, logger: log}
}

// IsReachable reports whether the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	var ok OKResponse
	return c.get(ctx, "/health", &ok) == nil
}

func (c *Client) Start(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+name+"/start")
}

func (c *Client) Stop(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+name+"/stop")
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+name+"/restart")
}

// Probe runs the service's readiness probe once on the daemon side.
func (c *Client) Probe(ctx context.Context, name string) error {
	return c.post(ctx, "/services/"+name+"/probe")
}

func (c *Client) Status(ctx context.Context, name string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.get(ctx, "/services/"+name, &st)
	return st, err
}

func (c *Client) StatusAll(ctx context.Context) ([]ServiceStatus, error) {
	var sts []ServiceStatus
	err := c.get(ctx, "/services", &sts)
	return sts, err
}

// Inspect fetches the engine's raw view of a container service.
func (c *Client) Inspect(ctx context.Context, name string) (map[string]any, error) {
	var raw map[string]any
	err := c.get(ctx, "/services/"+name+"/inspect", &raw)
	return raw, err
}

func (c *Client) StartAll(ctx context.Context) error { return c.post(ctx, "/start-all") }

func (c *Client) StopAll(ctx context.Context) error { return c.post(ctx, "/stop-all") }

// Resume asks the daemon to start the services that were running at
// the last shutdown.
func (c *Client) Resume(ctx context.Context) error { return c.post(ctx, "/resume") }

// SaveState asks the daemon to persist the current running set.
func (c *Client) SaveState(ctx context.Context) error { return c.post(ctx, "/save-state") }

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeError(resp)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := decodeError(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError is returned for non-2xx daemon responses.
type APIError struct {
	Status int
	Body   ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Body.Error, e.Body.Code)
	}
	if e.Body.Error != "" {
		return e.Body.Error
	}
	return fmt.Sprintf("daemon returned status %d", e.Status)
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
	return apiErr
}
