package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/session"
)

// bookingServer is a minimal in-memory booking API for runner tests.
type bookingServer struct {
	mu       sync.Mutex
	nextID   int
	bookings map[int]map[string]any
	calls    atomic.Int64
	tokens   map[string]bool
	logins   atomic.Int64
}

func newBookingServer(t *testing.T) (*bookingServer, *httptest.Server) {
	t.Helper()
	bs := &bookingServer{bookings: map[int]map[string]any{}, tokens: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(bs.serve))
	t.Cleanup(srv.Close)
	return bs, srv
}

func (bs *bookingServer) serve(w http.ResponseWriter, r *http.Request) {
	bs.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	bs.mu.Lock()
	defer bs.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth":
		n := bs.logins.Add(1)
		token := strings.Repeat(strconv.FormatInt(n%10, 10), 15)
		bs.tokens[token] = true
		json.NewEncoder(w).Encode(map[string]string{"token": token})

	case r.Method == http.MethodPost && r.URL.Path == "/booking":
		var b map[string]any
		json.NewDecoder(r.Body).Decode(&b)
		bs.nextID++
		bs.bookings[bs.nextID] = b
		json.NewEncoder(w).Encode(map[string]any{"bookingid": bs.nextID, "booking": b})

	case strings.HasPrefix(r.URL.Path, "/booking/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/booking/"))
		if r.Method == http.MethodDelete {
			token := strings.TrimPrefix(r.Header.Get("Cookie"), "token=")
			if !bs.tokens[token] {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			delete(bs.bookings, id)
			w.WriteHeader(http.StatusCreated)
			return
		}
		b, ok := bs.bookings[id]
		if !ok {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Not Found"))
			return
		}
		json.NewEncoder(w).Encode(b)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// revoke invalidates every issued token, as a server-side session expiry would.
func (bs *bookingServer) revoke() {
	bs.mu.Lock()
	bs.tokens = map[string]bool{}
	bs.mu.Unlock()
}

var testBookingSchema = fixture.Schema{
	Name: "booking",
	Fields: []fixture.Field{
		{Name: "firstname", Kind: fixture.KindFirstName},
		{Name: "lastname", Kind: fixture.KindLastName},
		{Name: "totalprice", Kind: fixture.KindInt, Min: 0, Max: 999},
		{Name: "depositpaid", Kind: fixture.KindBool},
		{Name: "bookingdates", Kind: fixture.KindObject, Fields: []fixture.Field{
			{Name: "checkin", Kind: fixture.KindDate},
			{Name: "checkout", Kind: fixture.KindDateAfter, After: "checkin", Min: 1, Max: 10},
		}},
		{Name: "additionalneeds", Kind: fixture.KindNoun},
	},
}

type recordingObserver struct {
	mu        sync.Mutex
	steps     []string
	scenarios []string
}

func (o *recordingObserver) StepFinished(scenario string, step StepResult) {
	o.mu.Lock()
	o.steps = append(o.steps, scenario+"/"+step.Name)
	o.mu.Unlock()
}

func (o *recordingObserver) ScenarioFinished(r *Result) {
	o.mu.Lock()
	o.scenarios = append(o.scenarios, r.ScenarioName)
	o.mu.Unlock()
}

func newTestRunner(t *testing.T, srv *httptest.Server, observer Observer) (*Runner, *session.Manager) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	client, err := httpclient.New(httpclient.Options{BaseURL: srv.URL, Logger: logger})
	require.NoError(t, err)

	mgr, err := session.New(session.Config{
		Name:        "booking",
		Kind:        session.KindLogin,
		Endpoint:    "/auth",
		Payload:     map[string]any{"username": "admin", "password": "password123"},
		TokenLength: 15,
		Style:       session.StyleCookie,
	}, client, logger)
	require.NoError(t, err)

	schemas := fixture.NewRegistry()
	schemas.MustRegister(testBookingSchema)

	runner, err := NewRunner(Options{
		Targets:  map[string]Target{"booking": {Client: client}},
		Sessions: map[string]*session.Manager{"booking": mgr},
		Schemas:  schemas,
		Logger:   logger,
		Observer: observer,
	})
	require.NoError(t, err)
	return runner, mgr
}

func createAndGetScenario() *Scenario {
	return &Scenario{
		Name:     "create and get booking",
		Target:   "booking",
		Fixtures: map[string]string{"booking": "booking"},
		Steps: []Step{
			{
				Name:    "create",
				Request: Request{Method: "POST", URL: "/booking", Body: "{{fixture.booking}}"},
				Capture: map[string]string{"bookingid": "$.bookingid"},
				Expect: &Expect{
					Status: 200,
					Fields: []string{"$.booking"},
					Body:   map[string]any{"$.bookingid": map[string]any{"gt": 0}},
					Subset: map[string]any{"$.booking": "{{fixture.booking}}"},
				},
			},
			{
				Name:    "get",
				Request: Request{Method: "GET", URL: "/booking/{{bookingid}}"},
				Expect: &Expect{
					Status: 200,
					Body: map[string]any{
						"$.firstname":            "{{fixture.booking.firstname}}",
						"$.totalprice":           "{{fixture.booking.totalprice}}",
						"$.bookingdates.checkin": "{{fixture.booking.bookingdates.checkin}}",
					},
				},
			},
		},
	}
}

func TestRunner_CaptureChain(t *testing.T) {
	_, srv := newBookingServer(t)
	obs := &recordingObserver{}
	runner, _ := newTestRunner(t, srv, obs)

	result := runner.Run(context.Background(), createAndGetScenario())
	require.True(t, result.Passed, "scenario failed: %v", result.Failure)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, float64(1), result.Vars["bookingid"])
	assert.Contains(t, result.Steps[0].Notes, "captured bookingid = 1")
	require.NotNil(t, result.LastExchange)
	assert.True(t, strings.HasSuffix(result.LastExchange.URL, "/booking/1"), result.LastExchange.URL)
	assert.Equal(t, []string{"create and get booking/create", "create and get booking/get"}, obs.steps)
	assert.Equal(t, []string{"create and get booking"}, obs.scenarios)
}

func TestRunner_FailFast(t *testing.T) {
	bs, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	s := &Scenario{
		Name: "fail fast",
		Steps: []Step{
			{Name: "missing", Request: Request{Method: "GET", URL: "/booking/999"}, Expect: &Expect{Status: 200}},
			{Name: "never", Request: Request{Method: "GET", URL: "/booking/1"}},
		},
	}

	result := runner.Run(context.Background(), s)
	assert.False(t, result.Passed)
	assert.Len(t, result.Steps, 1)
	assert.EqualValues(t, 1, bs.calls.Load())

	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureExpectation, result.Failure.Kind)
	var ee *ExpectationError
	require.True(t, errors.As(result.Failure, &ee))
	assert.Equal(t, "missing", ee.Step)
	assert.Equal(t, "status", ee.Check)
	assert.Equal(t, 404, ee.Actual)
	assert.Equal(t, "Not Found", result.LastExchange.ResponseBody)
}

func TestRunner_TransportFailure(t *testing.T) {
	_, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)
	srv.Close()

	result := runner.Run(context.Background(), &Scenario{
		Name:  "offline",
		Steps: []Step{{Name: "ping", Request: Request{Method: "GET", URL: "/booking"}}},
	})
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	var te *httpclient.TransportError
	assert.True(t, errors.As(result.Failure, &te))
}

func TestRunner_DeleteWithRenewedCredential(t *testing.T) {
	bs, srv := newBookingServer(t)
	runner, mgr := newTestRunner(t, srv, nil)

	_, err := mgr.Acquire(context.Background())
	require.NoError(t, err)
	bs.revoke()

	s := &Scenario{
		Name:     "delete",
		Fixtures: map[string]string{"booking": "booking"},
		Steps: []Step{
			{
				Name:    "create",
				Request: Request{Method: "POST", URL: "/booking", Body: "{{fixture.booking}}"},
				Capture: map[string]string{"id": "$.bookingid"},
			},
			{
				Name:    "delete",
				Auth:    "booking",
				Request: Request{Method: "DELETE", URL: "/booking/{{id}}"},
				Expect:  &Expect{Status: 201},
			},
		},
	}

	result := runner.Run(context.Background(), s)
	require.True(t, result.Passed, "scenario failed: %v", result.Failure)
	assert.Equal(t, 2, result.Steps[1].Attempts)
	assert.EqualValues(t, 2, mgr.Logins())
	assert.Equal(t, redacted, result.Steps[1].Exchange.RequestHeaders["Cookie"])
}

func TestRunner_SetupFailure(t *testing.T) {
	_, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	result := runner.Run(context.Background(), &Scenario{
		Name:     "bad fixture",
		Fixtures: map[string]string{"x": "no-such-schema"},
		Steps:    []Step{{Name: "s", Request: Request{Method: "GET", URL: "/"}}},
	})
	assert.False(t, result.Passed)
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureSetup, result.Failure.Kind)
	assert.True(t, errors.Is(result.Failure, fixture.ErrUnknownSchema))
	assert.Empty(t, result.Steps)
}

func TestRunner_UnknownTargetAndSession(t *testing.T) {
	_, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	result := runner.Run(context.Background(), &Scenario{
		Name:  "wrong target",
		Steps: []Step{{Name: "s", Request: Request{Method: "GET", URL: "/", Target: "issues"}}},
	})
	require.NotNil(t, result.Failure)
	assert.True(t, errors.Is(result.Failure, ErrUnknownTarget))

	result = runner.Run(context.Background(), &Scenario{
		Name:  "wrong session",
		Steps: []Step{{Name: "s", Auth: "github", Request: Request{Method: "GET", URL: "/"}}},
	})
	require.NotNil(t, result.Failure)
	assert.True(t, errors.Is(result.Failure, ErrUnknownSession))
}

func TestRunner_CaptureMissIsExpectationFailure(t *testing.T) {
	_, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	result := runner.Run(context.Background(), &Scenario{
		Name:     "capture miss",
		Fixtures: map[string]string{"booking": "booking"},
		Steps: []Step{{
			Name:    "create",
			Request: Request{Method: "POST", URL: "/booking", Body: "{{fixture.booking}}"},
			Capture: map[string]string{"id": "$.id"},
		}},
	})
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureExpectation, result.Failure.Kind)
	var ee *ExpectationError
	require.True(t, errors.As(result.Failure, &ee))
	assert.Equal(t, "capture", ee.Check)
}

func TestRunner_ConcurrentRunsAreIsolated(t *testing.T) {
	_, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runner.Run(context.Background(), createAndGetScenario())
		}(i)
	}
	wg.Wait()

	ids := map[float64]bool{}
	for _, r := range results {
		require.True(t, r.Passed, "scenario failed: %v", r.Failure)
		ids[r.Vars["bookingid"].(float64)] = true
	}
	assert.Len(t, ids, n, "every run must capture its own booking id")
}

func TestRunner_DisabledScenarioIsSkipped(t *testing.T) {
	bs, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	result := runner.Run(context.Background(), &Scenario{
		Name:     "lifecycle",
		Disabled: true,
		Steps:    []Step{{Name: "s", Request: Request{Method: "GET", URL: "/"}}},
	})
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Failure)
	assert.EqualValues(t, 0, bs.calls.Load())
}

func TestRunner_CancelledContext(t *testing.T) {
	bs, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := runner.Run(ctx, createAndGetScenario())
	assert.False(t, result.Passed)
	require.NotNil(t, result.Failure)
	assert.True(t, errors.Is(result.Failure, context.Canceled))
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	assert.EqualValues(t, 0, bs.calls.Load())
}

func TestRunner_ExpiredDeadline(t *testing.T) {
	bs, srv := newBookingServer(t)
	runner, _ := newTestRunner(t, srv, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	result := runner.Run(ctx, createAndGetScenario())
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	assert.True(t, errors.Is(result.Failure, context.DeadlineExceeded))
	assert.Equal(t, "create", result.Failure.Step)
	assert.EqualValues(t, 0, bs.calls.Load())
}

func TestNewRunner_RequiresTargets(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.Error(t, err)
	_, err = NewRunner(Options{Targets: map[string]Target{"x": {}}})
	assert.Error(t, err)
}
