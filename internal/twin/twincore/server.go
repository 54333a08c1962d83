// Package twincore provides the HTTP server, middleware chain, and response
// helpers shared by the local twins of the services contractkit tests.
package twincore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Config holds the settings common to every twin.
type Config struct {
	Name     string        `json:"name"`
	Addr     string        `json:"addr"`    // listen address, e.g. ":9001" or "127.0.0.1:0"
	Latency  time.Duration `json:"latency"` // base simulated latency, jittered 80-120%
	FailRate float64       `json:"fail_rate"`
	Verbose  bool          `json:"verbose"`
}

// Twin is the base server for a twin: a chi router with the common
// middleware mounted, plus lifecycle management.
type Twin struct {
	Name   string
	Router *chi.Mux
	Logger *zap.Logger
	mw     *Middleware
}

// New creates a Twin. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Twin {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("twin", cfg.Name))

	r := chi.NewRouter()
	mw := NewMiddleware(cfg, logger)

	// Latency and failure middleware are always mounted; they check the
	// runtime settings on each request.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)
	r.Use(mw.RandomFailure)

	return &Twin{Name: cfg.Name, Router: r, Logger: logger, mw: mw}
}

// Middleware returns the middleware instance, e.g. for fault injection.
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// GetConfig returns the runtime configuration as a map.
func (t *Twin) GetConfig() map[string]any {
	cfg := t.mw.Settings()
	return map[string]any{
		"name":      cfg.Name,
		"addr":      cfg.Addr,
		"latency":   cfg.Latency.String(),
		"fail_rate": cfg.FailRate,
		"verbose":   cfg.Verbose,
	}
}

// UpdateConfig applies runtime updates. Only latency, fail_rate and verbose
// can change; every key is validated before any is applied.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	cfg := t.mw.Settings()
	for k, v := range updates {
		switch k {
		case "latency":
			s, ok := v.(string)
			if !ok {
				return errors.New("latency must be a duration string")
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid latency duration: %w", err)
			}
			if d < 0 {
				return errors.New("latency must not be negative")
			}
			cfg.Latency = d
		case "fail_rate":
			f, ok := v.(float64)
			if !ok {
				return errors.New("fail_rate must be a number")
			}
			if f < 0 || f > 1 {
				return errors.New("fail_rate must be between 0.0 and 1.0")
			}
			cfg.FailRate = f
		case "verbose":
			b, ok := v.(bool)
			if !ok {
				return errors.New("verbose must be a boolean")
			}
			cfg.Verbose = b
		case "name", "addr":
			return fmt.Errorf("%s cannot be changed at runtime", k)
		default:
			return fmt.Errorf("unknown config key: %s", k)
		}
	}
	t.mw.apply(cfg)
	return nil
}

// Serve listens on the configured address and blocks until ctx is done, then
// shuts down gracefully. ready, when non-nil, receives the bound address.
func (t *Twin) Serve(ctx context.Context, ready func(net.Addr)) error {
	addr := t.mw.Settings().Addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		t.Logger.Info("starting twin", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serving twin: %w", err)
	case <-ctx.Done():
	}

	t.Logger.Info("shutting down twin")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler so a Twin can be used directly in tests.
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Text writes a plain-text response.
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}

// Message writes the {"message": ...} error shape used by REST APIs such as GitHub's.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"message": message})
}
