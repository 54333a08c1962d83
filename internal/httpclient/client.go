// Package httpclient is the HTTP adapter used by sessions and scenario steps.
// A call either yields a Response (whatever the status code) or a TransportError.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single call when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// RequestIDHeader is set on every outgoing request that does not carry one.
const RequestIDHeader = "X-Request-ID"

// ErrUnsupportedMethod is returned for methods other than GET, POST, PUT, PATCH and DELETE.
var ErrUnsupportedMethod = errors.New("httpclient: unsupported method")

// Request describes one call. URL may be absolute or relative to the client's base URL.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	JSON    any // marshaled as the request body when non-nil
}

// Response is a completed exchange. Non-2xx statuses are ordinary responses.
type Response struct {
	StatusCode int
	StatusText string
	Headers    http.Header
	Body       []byte
	JSON       any // decoded body, nil when the body is empty or not JSON
	Duration   time.Duration
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the raw body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// TransportError means the call could not complete: DNS, refused connection,
// timeout, or a body that could not be read.
type TransportError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string // sent on every request unless the request overrides them
	RateLimit float64           // requests per second, 0 disables pacing
	Burst     int
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client sends requests to one target service.
type Client struct {
	base    string
	http    *http.Client
	headers map[string]string
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a Client from opts.
func New(opts Options) (*Client, error) {
	var base string
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base url %q: %w", opts.BaseURL, err)
		}
		if !u.IsAbs() {
			return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
		}
		base = strings.TrimRight(u.String(), "/")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		base: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		headers: make(map[string]string, len(opts.Headers)),
		log:     logger,
	}
	for k, v := range opts.Headers {
		c.headers[k] = v
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return c, nil
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// Resolve turns a possibly relative URL into an absolute one.
func (c *Client) Resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return raw, nil
	}
	if c.base == "" {
		return "", fmt.Errorf("relative url %q with no base url configured", raw)
	}
	return c.base + "/" + strings.TrimLeft(raw, "/"), nil
}

// Send performs the call described by req. It returns a *TransportError when
// the exchange could not complete; any HTTP status is returned as a Response.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if !supportedMethod(method) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}

	target, err := c.buildURL(req.URL, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.JSON != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get(RequestIDHeader) == "" {
		httpReq.Header.Set(RequestIDHeader, uuid.NewString())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newTransportError(method, target, err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, newTransportError(method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(method, target, fmt.Errorf("reading response body: %w", err))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    resp.Header,
		Body:       data,
		JSON:       decodeJSON(data),
		Duration:   time.Since(start),
	}

	c.log.Debug("http exchange",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", out.StatusCode),
		zap.Duration("duration", out.Duration),
		zap.String("request_id", httpReq.Header.Get(RequestIDHeader)),
	)
	return out, nil
}

func (c *Client) buildURL(raw string, query map[string]string) (string, error) {
	resolved, err := c.Resolve(raw)
	if err != nil {
		return "", err
	}
	if len(query) == 0 {
		return resolved, nil
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", resolved, err)
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func supportedMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func newTransportError(method, target string, err error) *TransportError {
	te := &TransportError{Method: method, URL: target, Err: err}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		te.Timeout = true
	}
	return te
}

// statusText prefers the reason phrase the server sent.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func decodeJSON(data []byte) any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil
	}
	return v
}
