package twincore

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestLogEntry captures an incoming request for admin inspection.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
	RequestID  string            `json:"request_id,omitempty"`
}

// RequestLog is a thread-safe ring buffer of recent requests.
type RequestLog struct {
	mu      sync.RWMutex
	entries []RequestLogEntry
	maxSize int
}

// NewRequestLog creates a request log holding at most maxSize entries.
func NewRequestLog(maxSize int) *RequestLog {
	return &RequestLog{
		entries: make([]RequestLogEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an entry, evicting the oldest at capacity.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.entries) >= rl.maxSize {
		rl.entries = rl.entries[1:]
	}
	rl.entries = append(rl.entries, entry)
}

// Entries returns a copy of all entries, oldest first.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]RequestLogEntry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// Clear removes all entries.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries = rl.entries[:0]
}

// FaultConfig is an injected fault for an endpoint pattern.
type FaultConfig struct {
	StatusCode int     `json:"status_code"`
	Body       string  `json:"body,omitempty"`
	DelayMS    int     `json:"delay_ms,omitempty"`
	Rate       float64 `json:"rate"` // probability of triggering, 1.0 when unset
	Method     string  `json:"method,omitempty"`
}

// FaultRegistry holds injected faults keyed by path pattern. Patterns use
// path.Match syntax, so "/booking/*" covers every booking id.
type FaultRegistry struct {
	mu     sync.RWMutex
	faults map[string]FaultConfig
	rng    func() float64
}

// NewFaultRegistry creates an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: make(map[string]FaultConfig), rng: rand.Float64}
}

// Set injects a fault for pattern.
func (fr *FaultRegistry) Set(pattern string, fault FaultConfig) error {
	if _, err := path.Match(pattern, "/"); err != nil {
		return fmt.Errorf("invalid fault pattern %q: %w", pattern, err)
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fault.Rate == 0 {
		fault.Rate = 1.0
	}
	fr.faults[pattern] = fault
	return nil
}

// Remove deletes the fault for pattern and reports whether one existed.
func (fr *FaultRegistry) Remove(pattern string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	_, existed := fr.faults[pattern]
	delete(fr.faults, pattern)
	return existed
}

// Check returns the fault to apply to a request, or nil. An exact pattern
// wins over a wildcard one; wildcards are tried in sorted order.
func (fr *FaultRegistry) Check(method, p string) *FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	candidates := make([]string, 0, len(fr.faults))
	if _, ok := fr.faults[p]; ok {
		candidates = append(candidates, p)
	}
	var wild []string
	for pattern := range fr.faults {
		if pattern != p {
			if ok, _ := path.Match(pattern, p); ok {
				wild = append(wild, pattern)
			}
		}
	}
	sort.Strings(wild)
	candidates = append(candidates, wild...)

	for _, pattern := range candidates {
		f := fr.faults[pattern]
		if f.Method != "" && f.Method != method {
			continue
		}
		if f.Rate >= 1.0 || fr.rng() < f.Rate {
			return &f
		}
	}
	return nil
}

// All returns a copy of every registered fault.
func (fr *FaultRegistry) All() map[string]FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]FaultConfig, len(fr.faults))
	for k, v := range fr.faults {
		out[k] = v
	}
	return out
}

// Reset clears all faults.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.faults = make(map[string]FaultConfig)
}

// Middleware provides the middleware shared by every twin.
type Middleware struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
	ReqLog *RequestLog
	Faults *FaultRegistry
}

// NewMiddleware creates a Middleware with a 1000-entry request log.
func NewMiddleware(cfg Config, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		cfg:    cfg,
		logger: logger,
		ReqLog: NewRequestLog(1000),
		Faults: NewFaultRegistry(),
	}
}

// Settings returns a copy of the runtime configuration.
func (m *Middleware) Settings() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Middleware) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// CORS adds permissive CORS headers.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Cookie, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLog records every request into the ring buffer. In verbose mode
// it also keeps headers and logs each request at debug level.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      r.URL.RawQuery,
			StatusCode: status,
			Duration:   time.Since(start),
			RequestID:  r.Header.Get("X-Request-ID"),
		}
		if entry.RequestID == "" {
			entry.RequestID = chimw.GetReqID(r.Context())
		}

		verbose := m.Settings().Verbose
		if verbose {
			entry.Headers = make(map[string]string, len(r.Header))
			for k := range r.Header {
				entry.Headers[k] = r.Header.Get(k)
			}
		}
		m.ReqLog.Add(entry)

		if verbose {
			m.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", entry.Duration),
			)
		}
	})
}

// LatencyInjection delays every request by the configured latency with jitter.
func (m *Middleware) LatencyInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if latency := m.Settings().Latency; latency > 0 {
			jitter := 0.8 + rand.Float64()*0.4
			select {
			case <-time.After(time.Duration(float64(latency) * jitter)):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RandomFailure answers 500 at the configured fail rate. Admin paths are
// never failed, so the rate can always be turned back down.
func (m *Middleware) RandomFailure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAdminPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if rate := m.Settings().FailRate; rate > 0 && rand.Float64() < rate {
			Error(w, http.StatusInternalServerError, "simulated random failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAdminPath(p string) bool {
	return p == "/admin" || strings.HasPrefix(p, "/admin/")
}

// FaultInjection applies any matching registered fault. Mount it inside the
// service route groups so /admin stays reachable.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fault := m.Faults.Check(r.Method, r.URL.Path); fault != nil {
			if fault.DelayMS > 0 {
				select {
				case <-time.After(time.Duration(fault.DelayMS) * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			if fault.StatusCode > 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(fault.StatusCode)
				if fault.Body != "" {
					fmt.Fprint(w, fault.Body)
				} else {
					fmt.Fprintf(w, `{"error":{"message":"injected fault","code":%d}}`, fault.StatusCode)
				}
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
