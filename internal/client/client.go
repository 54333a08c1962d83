// Package client talks to the /admin endpoints of a running twin.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

// AdminClient talks to one twin's /admin/* endpoints.
type AdminClient struct {
	baseURL string
	http    *http.Client
}

// New creates an AdminClient for the twin at baseURL with a 5-second timeout.
func New(baseURL string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Health checks GET /admin/health.
func (c *AdminClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/admin/health", nil)
	return err
}

// Reset restores the twin's seed state and clears its request log and faults.
func (c *AdminClient) Reset(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/reset", nil)
	return err
}

// State returns the raw JSON snapshot from GET /admin/state.
func (c *AdminClient) State(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/admin/state", nil)
}

// Seed replaces the twin's state with data, a snapshot in the twin's format.
func (c *AdminClient) Seed(ctx context.Context, data []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/admin/state", data)
	return err
}

// Requests returns the twin's recent request log.
func (c *AdminClient) Requests(ctx context.Context) ([]twincore.RequestLogEntry, error) {
	body, err := c.do(ctx, http.MethodGet, "/admin/requests", nil)
	if err != nil {
		return nil, err
	}
	var entries []twincore.RequestLogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding request log: %w", err)
	}
	return entries, nil
}

// InjectFault registers fault for requests whose path matches pattern.
func (c *AdminClient) InjectFault(ctx context.Context, pattern string, fault twincore.FaultConfig) error {
	data, err := json.Marshal(fault)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/admin/fault/"+strings.TrimLeft(pattern, "/"), data)
	return err
}

// RemoveFault clears the fault registered for pattern.
func (c *AdminClient) RemoveFault(ctx context.Context, pattern string) error {
	_, err := c.do(ctx, http.MethodDelete, "/admin/fault/"+strings.TrimLeft(pattern, "/"), nil)
	return err
}

// AdvanceTime moves the twin's simulated clock forward by d.
func (c *AdminClient) AdvanceTime(ctx context.Context, d time.Duration) error {
	data, err := json.Marshal(map[string]string{"duration": d.String()})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/admin/time/advance", data)
	return err
}

func (c *AdminClient) do(ctx context.Context, method, path string, data []byte) (json.RawMessage, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(out))
	}
	return out, nil
}
