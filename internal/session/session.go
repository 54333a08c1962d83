// Package session obtains, caches and attaches credentials for a target service.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/jsonpath"
)

// Kind selects how a credential is obtained.
type Kind string

const (
	// KindLogin posts a payload to a login endpoint and reads the token from the response.
	KindLogin Kind = "login"
	// KindStatic uses a token supplied up front, e.g. a personal access token.
	KindStatic Kind = "static"
)

// Style selects how a credential is attached to a request.
type Style string

const (
	StyleCookie Style = "cookie" // Cookie: <CookieName>=<token>
	StyleBearer Style = "bearer" // Authorization: Bearer <token>
	StyleHeader Style = "header" // <Header>: [<Scheme> ]<token>
)

// Config describes one session.
type Config struct {
	Name            string
	Kind            Kind
	Endpoint        string         // login endpoint, absolute or relative to the client's base URL
	Payload         map[string]any // login payload
	Token           string         // static token
	TokenPath       string         // JSONPath of the token in the login response, default $.token
	TokenLength     int            // exact token length when > 0
	Style           Style
	CookieName      string // default "token"
	Header          string // default "Authorization"
	Scheme          string // prefix for StyleHeader, e.g. "token"
	FailureStatuses []int  // statuses meaning the credential was rejected, default 401 and 403
}

// Credential is an opaque token and the time it was issued.
type Credential struct {
	Token    string
	IssuedAt time.Time
}

// AuthenticationError means a login failed or produced a malformed credential.
type AuthenticationError struct {
	Session string
	Status  int
	Reason  string
	Err     error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %q: authentication failed", e.Session)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Sender is the part of httpclient.Client a Manager needs.
type Sender interface {
	Send(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

// Manager owns one cached credential. Acquire and Refresh are safe for
// concurrent use; concurrent logins collapse into a single request.
type Manager struct {
	cfg    Config
	client Sender
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cred   *Credential
	group  singleflight.Group
	logins atomic.Int64
}

// New validates cfg, applies defaults and returns a Manager.
func New(cfg Config, client Sender, logger *zap.Logger) (*Manager, error) {
	if cfg.Name == "" {
		return nil, errors.New("session: name is required")
	}
	switch cfg.Kind {
	case KindLogin:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("session %q: login endpoint is required", cfg.Name)
		}
		if client == nil {
			return nil, fmt.Errorf("session %q: login sessions need an http client", cfg.Name)
		}
	case KindStatic:
	default:
		return nil, fmt.Errorf("session %q: unknown kind %q", cfg.Name, cfg.Kind)
	}

	switch cfg.Style {
	case "":
		cfg.Style = StyleBearer
	case StyleCookie, StyleBearer, StyleHeader:
	default:
		return nil, fmt.Errorf("session %q: unknown style %q", cfg.Name, cfg.Style)
	}

	if cfg.TokenPath == "" {
		cfg.TokenPath = "$.token"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "token"
	}
	if cfg.Header == "" {
		cfg.Header = "Authorization"
	}
	if len(cfg.FailureStatuses) == 0 {
		cfg.FailureStatuses = []int{http.StatusUnauthorized, http.StatusForbidden}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:    cfg,
		client: client,
		log:    logger.With(zap.String("session", cfg.Name)),
		now:    time.Now,
	}, nil
}

// Name returns the session name.
func (m *Manager) Name() string { return m.cfg.Name }

// Logins returns how many login requests this manager has issued.
func (m *Manager) Logins() int64 { return m.logins.Load() }

// Current returns the cached credential, if any.
func (m *Manager) Current() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return Credential{}, false
	}
	return *m.cred, true
}

// Acquire returns the cached credential, obtaining one first if needed.
func (m *Manager) Acquire(ctx context.Context) (Credential, error) {
	if cred, ok := m.Current(); ok {
		return cred, nil
	}
	return m.load(ctx, false)
}

// Refresh obtains a new credential and caches it.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	return m.load(ctx, true)
}

// load runs at most one credential request at a time. Unless forced, a
// credential cached by a call that finished in the meantime is reused.
func (m *Manager) load(ctx context.Context, force bool) (Credential, error) {
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		if !force {
			if cred, ok := m.Current(); ok {
				return cred, nil
			}
		}
		cred, err := m.obtain(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cred = &cred
		m.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Renew replaces a credential the service rejected. If another caller already
// replaced stale, the newer credential is returned without a second login.
func (m *Manager) Renew(ctx context.Context, stale string) (Credential, error) {
	m.Invalidate(stale)
	if cred, ok := m.Current(); ok && cred.Token != stale {
		return cred, nil
	}
	return m.Refresh(ctx)
}

// Invalidate drops the cached credential if it still holds token.
func (m *Manager) Invalidate(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil || m.cred.Token != token {
		return false
	}
	m.cred = nil
	m.log.Info("credential invalidated")
	return true
}

// Login posts payload to the login endpoint and validates the returned token.
// The result is not cached.
func (m *Manager) Login(ctx context.Context, payload map[string]any) (Credential, error) {
	if m.cfg.Kind != KindLogin {
		return Credential{}, fmt.Errorf("session %q: login not supported for kind %q", m.cfg.Name, m.cfg.Kind)
	}
	m.logins.Add(1)

	resp, err := m.client.Send(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    m.cfg.Endpoint,
		JSON:   payload,
	})
	if err != nil {
		return Credential{}, &AuthenticationError{Session: m.cfg.Name, Err: err}
	}
	if !resp.OK() {
		return Credential{}, &AuthenticationError{
			Session: m.cfg.Name,
			Status:  resp.StatusCode,
			Reason:  fmt.Sprintf("login returned %d %s", resp.StatusCode, resp.StatusText),
		}
	}
	if resp.JSON == nil {
		return Credential{}, &AuthenticationError{Session: m.cfg.Name, Status: resp.StatusCode, Reason: "login response is not JSON"}
	}

	raw, ok, err := jsonpath.First(resp.JSON, m.cfg.TokenPath)
	if err != nil {
		return Credential{}, &AuthenticationError{Session: m.cfg.Name, Status: resp.StatusCode, Err: err}
	}
	if !ok {
		reason := fmt.Sprintf("no token at %s", m.cfg.TokenPath)
		if r := serviceReason(resp.JSON); r != "" {
			reason += ": service said " + r
		}
		return Credential{}, &AuthenticationError{Session: m.cfg.Name, Status: resp.StatusCode, Reason: reason}
	}
	token, ok := raw.(string)
	if !ok {
		return Credential{}, &AuthenticationError{
			Session: m.cfg.Name,
			Status:  resp.StatusCode,
			Reason:  fmt.Sprintf("token at %s is %T, not a string", m.cfg.TokenPath, raw),
		}
	}
	if err := m.checkShape(token); err != nil {
		return Credential{}, &AuthenticationError{Session: m.cfg.Name, Status: resp.StatusCode, Reason: err.Error()}
	}

	m.log.Debug("login succeeded", zap.Int("status", resp.StatusCode))
	return Credential{Token: token, IssuedAt: m.now()}, nil
}

// Attach returns a copy of req carrying cred in the configured style.
func (m *Manager) Attach(req httpclient.Request, cred Credential) httpclient.Request {
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}

	switch m.cfg.Style {
	case StyleCookie:
		cookie := m.cfg.CookieName + "=" + cred.Token
		if existing := headers["Cookie"]; existing != "" {
			cookie = existing + "; " + cookie
		}
		headers["Cookie"] = cookie
	case StyleHeader:
		value := cred.Token
		if m.cfg.Scheme != "" {
			value = m.cfg.Scheme + " " + cred.Token
		}
		headers[m.cfg.Header] = value
	default:
		headers["Authorization"] = "Bearer " + cred.Token
	}

	req.Headers = headers
	return req
}

// WithCredential acquires the credential and attaches it to req.
func (m *Manager) WithCredential(ctx context.Context, req httpclient.Request) (httpclient.Request, Credential, error) {
	cred, err := m.Acquire(ctx)
	if err != nil {
		return req, Credential{}, err
	}
	return m.Attach(req, cred), cred, nil
}

// IsAuthFailure reports whether status means the service rejected the credential.
func (m *Manager) IsAuthFailure(status int) bool {
	for _, s := range m.cfg.FailureStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *Manager) obtain(ctx context.Context) (Credential, error) {
	if m.cfg.Kind == KindStatic {
		if err := m.checkShape(m.cfg.Token); err != nil {
			return Credential{}, &AuthenticationError{Session: m.cfg.Name, Reason: err.Error()}
		}
		return Credential{Token: m.cfg.Token, IssuedAt: m.now()}, nil
	}

	cred, err := m.Login(ctx, m.cfg.Payload)
	if err != nil {
		m.log.Error("login failed", zap.Error(err))
		return Credential{}, err
	}
	m.log.Info("credential acquired")
	return cred, nil
}

func (m *Manager) checkShape(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if m.cfg.TokenLength > 0 && len(token) != m.cfg.TokenLength {
		return fmt.Errorf("token has length %d, want %d", len(token), m.cfg.TokenLength)
	}
	return nil
}

// serviceReason pulls a human-readable failure field out of a login response.
func serviceReason(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"reason", "message", "error"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
