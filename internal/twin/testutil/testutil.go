// Package testutil provides an HTTP client and admin client for testing twins.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wondertwin-ai/contractkit/internal/jsonpath"
)

// TwinClient issues requests against a twin under test.
type TwinClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string // sent with every request
	t          *testing.T
}

// NewTwinClient creates a client pointed at server.
func NewTwinClient(t *testing.T, server *httptest.Server) *TwinClient {
	return &TwinClient{BaseURL: server.URL, HTTPClient: server.Client(), t: t}
}

// WithHeaders returns a copy of c that also sends headers.
func (c *TwinClient) WithHeaders(headers map[string]string) *TwinClient {
	merged := make(map[string]string, len(c.Headers)+len(headers))
	for k, v := range c.Headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}
	cp := *c
	cp.Headers = merged
	return &cp
}

// WithCookie returns a copy of c that sends the cookie name=value.
func (c *TwinClient) WithCookie(name, value string) *TwinClient {
	return c.WithHeaders(map[string]string{"Cookie": name + "=" + value})
}

// WithAuthorization returns a copy of c that sends "Authorization: scheme credentials".
func (c *TwinClient) WithAuthorization(scheme, credentials string) *TwinClient {
	return c.WithHeaders(map[string]string{"Authorization": scheme + " " + credentials})
}

// Response wraps a completed response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          *testing.T
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) {
	r.t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		r.t.Fatalf("failed to unmarshal response: %v\nbody: %s", err, string(r.Body))
	}
}

// JSONMap returns the body as a map.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.JSON(&m)
	return m
}

// AssertStatus fails the test unless the status is expected.
func (r *Response) AssertStatus(expected int) *Response {
	r.t.Helper()
	if r.StatusCode != expected {
		r.t.Errorf("expected status %d, got %d\nbody: %s", expected, r.StatusCode, string(r.Body))
	}
	return r
}

// AssertBodyContains fails the test unless the body contains substr.
func (r *Response) AssertBodyContains(substr string) *Response {
	r.t.Helper()
	if !strings.Contains(string(r.Body), substr) {
		r.t.Errorf("expected body to contain %q, got: %s", substr, string(r.Body))
	}
	return r
}

// AssertJSONPath fails the test unless the first value at the JSONPath
// prints the same as want, so 111 matches a decoded float64(111).
func (r *Response) AssertJSONPath(path string, want any) *Response {
	r.t.Helper()
	got, err := jsonpath.Extract(r.Body, path)
	if err != nil {
		r.t.Errorf("%s: %v\nbody: %s", path, err, string(r.Body))
		return r
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		r.t.Errorf("expected %s to be %v, got %v", path, want, got)
	}
	return r
}

// Get performs a GET request.
func (c *TwinClient) Get(path string) *Response {
	c.t.Helper()
	return c.Do("GET", path, nil, nil)
}

// Post performs a POST request with a JSON body.
func (c *TwinClient) Post(path string, body any) *Response {
	c.t.Helper()
	return c.Do("POST", path, body, nil)
}

// Put performs a PUT request with a JSON body.
func (c *TwinClient) Put(path string, body any) *Response {
	c.t.Helper()
	return c.Do("PUT", path, body, nil)
}

// Patch performs a PATCH request with a JSON body.
func (c *TwinClient) Patch(path string, body any) *Response {
	c.t.Helper()
	return c.Do("PATCH", path, body, nil)
}

// Delete performs a DELETE request.
func (c *TwinClient) Delete(path string) *Response {
	c.t.Helper()
	return c.Do("DELETE", path, nil, nil)
}

// Do performs a request with extra headers.
func (c *TwinClient) Do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("failed to read response: %v", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header, t: c.t}
}

// AdminClient wraps the /admin/* control plane.
type AdminClient struct {
	*TwinClient
}

// NewAdminClient creates an admin client from a twin client.
func NewAdminClient(tc *TwinClient) *AdminClient {
	return &AdminClient{tc}
}

// Reset calls POST /admin/reset.
func (ac *AdminClient) Reset() *Response {
	ac.t.Helper()
	return ac.Post("/admin/reset", nil)
}

// GetState calls GET /admin/state.
func (ac *AdminClient) GetState() *Response {
	ac.t.Helper()
	return ac.Get("/admin/state")
}

// LoadState calls POST /admin/state.
func (ac *AdminClient) LoadState(state any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/state", state)
}

// InjectFault calls POST /admin/fault/{pattern}.
func (ac *AdminClient) InjectFault(pattern string, fault any) *Response {
	ac.t.Helper()
	return ac.Post("/admin/fault/"+strings.TrimPrefix(pattern, "/"), fault)
}

// RemoveFault calls DELETE /admin/fault/{pattern}.
func (ac *AdminClient) RemoveFault(pattern string) *Response {
	ac.t.Helper()
	return ac.Delete("/admin/fault/" + strings.TrimPrefix(pattern, "/"))
}

// GetRequests calls GET /admin/requests.
func (ac *AdminClient) GetRequests() *Response {
	ac.t.Helper()
	return ac.Get("/admin/requests")
}

// UpdateConfig calls PATCH /admin/config.
func (ac *AdminClient) UpdateConfig(updates map[string]any) *Response {
	ac.t.Helper()
	return ac.Patch("/admin/config", updates)
}

// AdvanceTime calls POST /admin/time/advance.
func (ac *AdminClient) AdvanceTime(duration string) *Response {
	ac.t.Helper()
	return ac.Post("/admin/time/advance", map[string]string{"duration": duration})
}

// Health calls GET /admin/health.
func (ac *AdminClient) Health() *Response {
	ac.t.Helper()
	return ac.Get("/admin/health")
}
