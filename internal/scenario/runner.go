package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/jsonpath"
	"github.com/wondertwin-ai/contractkit/internal/session"
)

const tracerName = "github.com/wondertwin-ai/contractkit/internal/scenario"

// Client is the part of httpclient.Client a runner needs.
type Client interface {
	Send(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
	BaseURL() string
}

// Target is a named service a scenario can call.
type Target struct {
	Client Client
	Vars   map[string]any // visible to templates in every scenario against this target
}

// Observer receives step and scenario outcomes, e.g. for metrics.
type Observer interface {
	StepFinished(scenario string, step StepResult)
	ScenarioFinished(result *Result)
}

// Options configures a Runner.
type Options struct {
	Targets   map[string]Target
	Sessions  map[string]*session.Manager
	Schemas   *fixture.Registry
	Generator *fixture.Generator
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Observer  Observer
	LookupEnv func(string) (string, bool)
}

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Attempts int
	Error    string     // empty when passed
	Failure  *StepError // nil when passed
	Exchange *Exchange  // nil when no request was sent
	Notes    []string
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Skipped      bool
	Steps        []StepResult
	Duration     time.Duration
	Failure      *StepError
	LastExchange *Exchange
	Vars         map[string]any // variables and captures at the end of the run
}

// Runner executes scenarios. It holds no per-run state and is safe for
// concurrent Run calls.
type Runner struct {
	targets   map[string]Target
	sessions  map[string]*session.Manager
	schemas   *fixture.Registry
	gen       *fixture.Generator
	log       *zap.Logger
	tracer    trace.Tracer
	observer  Observer
	lookupEnv func(string) (string, bool)
}

// NewRunner creates a Runner from opts.
func NewRunner(opts Options) (*Runner, error) {
	if len(opts.Targets) == 0 {
		return nil, errors.New("scenario: at least one target is required")
	}
	for name, t := range opts.Targets {
		if t.Client == nil {
			return nil, fmt.Errorf("scenario: target %q has no client", name)
		}
	}

	r := &Runner{
		targets:   opts.Targets,
		sessions:  opts.Sessions,
		schemas:   opts.Schemas,
		gen:       opts.Generator,
		log:       opts.Logger,
		tracer:    opts.Tracer,
		observer:  opts.Observer,
		lookupEnv: opts.LookupEnv,
	}
	if r.schemas == nil {
		r.schemas = fixture.NewRegistry()
	}
	if r.gen == nil {
		r.gen = fixture.NewGenerator()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r, nil
}

// Session returns the named session manager.
func (r *Runner) Session(name string) (*session.Manager, bool) {
	m, ok := r.sessions[name]
	return m, ok
}

// execution is the state of one scenario run.
type execution struct {
	r        *Runner
	scenario *Scenario
	scope    *Scope
	log      *zap.Logger
}

// Run executes s step by step and stops at the first failing step.
func (r *Runner) Run(ctx context.Context, s *Scenario) *Result {
	start := time.Now()
	result := &Result{ScenarioName: s.Name}
	log := r.log.With(zap.String("scenario", s.Name))

	if s.Disabled {
		result.Skipped = true
		log.Info("scenario skipped")
		r.finish(result, start)
		return result
	}

	ctx, span := r.tracer.Start(ctx, "scenario "+s.Name,
		trace.WithAttributes(attribute.String("scenario.name", s.Name), attribute.Int("scenario.steps", len(s.Steps))))
	defer span.End()

	ex, err := r.newExecution(s, log)
	if err != nil {
		result.Failure = &StepError{Step: "setup", Kind: FailureSetup, Err: err}
		span.SetStatus(codes.Error, err.Error())
		log.Warn("scenario setup failed", zap.Error(err))
		r.finish(result, start)
		return result
	}

	result.Passed = true
	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			// A suite deadline or interrupt is reported like a request timeout.
			result.Passed = false
			result.Failure = &StepError{Step: stepLabel(&s.Steps[i], i), Kind: FailureTransport, Err: err}
			break
		}

		sr := ex.runStep(ctx, &s.Steps[i], i)
		result.Steps = append(result.Steps, sr)
		if sr.Exchange != nil {
			result.LastExchange = sr.Exchange
		}
		if r.observer != nil {
			r.observer.StepFinished(s.Name, sr)
		}
		if !sr.Passed {
			result.Passed = false
			result.Failure = sr.Failure
			break
		}
	}
	result.Vars = ex.scope.Vars

	if result.Passed {
		log.Info("scenario passed", zap.Int("steps", len(result.Steps)))
	} else {
		span.SetStatus(codes.Error, result.Failure.Error())
		log.Info("scenario failed", zap.Error(result.Failure))
	}
	r.finish(result, start)
	return result
}

func (r *Runner) finish(result *Result, start time.Time) {
	result.Duration = time.Since(start)
	if r.observer != nil {
		r.observer.ScenarioFinished(result)
	}
}

// newExecution builds the per-run scope: target variables, fresh fixtures,
// then scenario variables, which may reference both.
func (r *Runner) newExecution(s *Scenario, log *zap.Logger) (*execution, error) {
	scope := &Scope{
		Vars:      make(map[string]any),
		Fixtures:  make(map[string]fixture.Fixture, len(s.Fixtures)),
		BaseURLs:  make(map[string]string, len(r.targets)),
		LookupEnv: r.lookupEnv,
	}
	for name, t := range r.targets {
		scope.BaseURLs[name] = t.Client.BaseURL()
	}

	for _, name := range r.scenarioTargets(s) {
		if t, ok := r.targets[name]; ok {
			for k, v := range t.Vars {
				scope.Vars[k] = v
			}
		}
	}

	for _, name := range sortedKeys(s.Fixtures) {
		schema, err := r.schemas.Get(s.Fixtures[name])
		if err != nil {
			return nil, fmt.Errorf("fixture %q: %w", name, err)
		}
		f, err := r.gen.Generate(schema)
		if err != nil {
			return nil, fmt.Errorf("fixture %q: %w", name, err)
		}
		scope.Fixtures[name] = f
	}

	ex := &execution{r: r, scenario: s, scope: scope, log: log}
	scope.Credentials = ex.credential

	for _, name := range sortedKeys(s.Variables) {
		v, err := scope.Expand(s.Variables[name])
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		scope.Vars[name] = v
	}
	return ex, nil
}

func (r *Runner) scenarioTargets(s *Scenario) []string {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	add(s.Target)
	for _, step := range s.Steps {
		add(step.Request.Target)
	}
	if len(names) == 0 && len(r.targets) == 1 {
		for n := range r.targets {
			add(n)
		}
	}
	sort.Strings(names)
	return names
}

func (ex *execution) credential(name string) (string, error) {
	m, ok := ex.r.sessions[name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownSession, name)
	}
	cred, ok := m.Current()
	if !ok {
		return "", fmt.Errorf("session %q has no credential yet", name)
	}
	return cred.Token, nil
}

func (ex *execution) target(step *Step) (string, Target, error) {
	name := step.Request.Target
	if name == "" {
		name = ex.scenario.Target
	}
	if name == "" && len(ex.r.targets) == 1 {
		for n := range ex.r.targets {
			name = n
		}
	}
	t, ok := ex.r.targets[name]
	if !ok {
		return name, Target{}, fmt.Errorf("%w %q", ErrUnknownTarget, name)
	}
	return name, t, nil
}

// runStep executes a single step: expand, authenticate, send, check, capture.
func (ex *execution) runStep(ctx context.Context, step *Step, index int) (sr StepResult) {
	start := time.Now()
	label := stepLabel(step, index)
	sr = StepResult{Name: label}

	ctx, span := ex.r.tracer.Start(ctx, "step "+label,
		trace.WithAttributes(attribute.String("step.name", label), attribute.String("http.method", strings.ToUpper(step.Request.Method))))
	defer func() {
		sr.Duration = time.Since(start)
		if sr.Failure != nil {
			sr.Error = sr.Failure.Error()
			span.SetStatus(codes.Error, sr.Error)
			span.SetAttributes(attribute.String("step.failure", string(sr.Failure.Kind)))
		}
		span.End()
	}()

	fail := func(kind FailureKind, err error) StepResult {
		var ee *ExpectationError
		if errors.As(err, &ee) {
			ee.Step = label
		}
		sr.Failure = &StepError{Step: label, Kind: kind, Err: err}
		return sr
	}

	targetName, target, err := ex.target(step)
	if err != nil {
		return fail(FailureSetup, err)
	}
	span.SetAttributes(attribute.String("step.target", targetName))

	req, err := ex.buildRequest(step)
	if err != nil {
		return fail(FailureSetup, err)
	}

	var mgr *session.Manager
	var cred session.Credential
	if step.Auth != "" {
		var ok bool
		if mgr, ok = ex.r.sessions[step.Auth]; !ok {
			return fail(FailureSetup, fmt.Errorf("%w %q", ErrUnknownSession, step.Auth))
		}
		if cred, err = mgr.Acquire(ctx); err != nil {
			return fail(FailureAuthentication, err)
		}
	}

	resp, exch, err := ex.send(ctx, target.Client, mgr, cred, req)
	sr.Attempts = 1
	sr.Exchange = exch
	if err != nil {
		return fail(FailureTransport, err)
	}

	// A rejected credential is renewed and the step replayed once.
	if mgr != nil && mgr.IsAuthFailure(resp.StatusCode) {
		sr.Notes = append(sr.Notes, fmt.Sprintf("credential rejected with %d, renewing and replaying", resp.StatusCode))
		ex.log.Info("credential rejected, replaying step",
			zap.String("step", label), zap.String("session", mgr.Name()), zap.Int("status", resp.StatusCode))
		if cred, err = mgr.Renew(ctx, cred.Token); err != nil {
			return fail(FailureAuthentication, err)
		}
		resp, exch, err = ex.send(ctx, target.Client, mgr, cred, req)
		sr.Attempts = 2
		sr.Exchange = exch
		if err != nil {
			return fail(FailureTransport, err)
		}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	expect, err := ex.expandExpect(step.Expect)
	if err != nil {
		return fail(FailureSetup, fmt.Errorf("expanding expectations: %w", err))
	}
	if err := Evaluate(expect, resp); err != nil {
		return fail(FailureExpectation, err)
	}

	for _, name := range sortedKeys(step.Capture) {
		path := step.Capture[name]
		val, ok, err := jsonpath.First(resp.JSON, path)
		if err != nil {
			return fail(FailureExpectation, &ExpectationError{Check: "capture", Path: path, Detail: err.Error()})
		}
		if !ok {
			return fail(FailureExpectation, &ExpectationError{Check: "capture", Path: path, Expected: "a value to capture as " + name})
		}
		ex.scope.Vars[name] = val
		sr.Notes = append(sr.Notes, fmt.Sprintf("captured %s = %s", name, Stringify(val)))
	}

	sr.Passed = true
	return sr
}

func (ex *execution) send(ctx context.Context, client Client, mgr *session.Manager, cred session.Credential, req httpclient.Request) (*httpclient.Response, *Exchange, error) {
	if mgr != nil {
		req = mgr.Attach(req, cred)
	}
	exch := newExchange(client, req)

	resp, err := client.Send(ctx, req)
	if err != nil {
		ex.log.Debug("step request failed", zap.String("method", exch.Method), zap.String("url", exch.URL), zap.Error(err))
		return nil, exch, err
	}
	exch.record(resp)

	ex.log.Debug("step exchange",
		zap.String("method", exch.Method),
		zap.String("url", exch.URL),
		zap.Any("request_headers", exch.RequestHeaders),
		zap.Any("request_body", exch.RequestBody),
		zap.Int("status", exch.Status),
		zap.String("response_body", exch.ResponseBody),
		zap.Duration("duration", exch.Duration),
	)
	return resp, exch, nil
}

func (ex *execution) buildRequest(step *Step) (httpclient.Request, error) {
	url, err := ex.scope.ExpandString(step.Request.URL)
	if err != nil {
		return httpclient.Request{}, fmt.Errorf("template expansion in url: %w", err)
	}
	headers, err := ex.scope.ExpandMap(step.Request.Headers)
	if err != nil {
		return httpclient.Request{}, fmt.Errorf("template expansion in header %w", err)
	}
	query, err := ex.scope.ExpandMap(step.Request.Query)
	if err != nil {
		return httpclient.Request{}, fmt.Errorf("template expansion in query %w", err)
	}

	var body any
	if step.Request.Body != nil {
		if body, err = ex.scope.Expand(step.Request.Body); err != nil {
			return httpclient.Request{}, fmt.Errorf("template expansion in body: %w", err)
		}
	}

	return httpclient.Request{
		Method:  step.Request.Method,
		URL:     url,
		Headers: headers,
		Query:   query,
		JSON:    body,
	}, nil
}

// expandExpect returns a copy of e with templates expanded in expected values.
func (ex *execution) expandExpect(e *Expect) (*Expect, error) {
	if e == nil {
		return nil, nil
	}
	out := *e
	var err error

	if out.StatusText, err = ex.scope.ExpandString(e.StatusText); err != nil {
		return nil, err
	}
	if out.BodyContains, err = ex.scope.ExpandString(e.BodyContains); err != nil {
		return nil, err
	}
	if out.Headers, err = ex.scope.ExpandMap(e.Headers); err != nil {
		return nil, err
	}
	if out.Body, err = ex.expandAnyMap(e.Body); err != nil {
		return nil, err
	}
	if out.Subset, err = ex.expandAnyMap(e.Subset); err != nil {
		return nil, err
	}
	if len(e.Contains) > 0 {
		out.Contains = make([]Membership, len(e.Contains))
		for i, m := range e.Contains {
			item, err := ex.scope.Expand(m.Item)
			if err != nil {
				return nil, fmt.Errorf("contains %s: %w", m.Path, err)
			}
			out.Contains[i] = Membership{Path: m.Path, Item: item}
		}
	}
	return &out, nil
}

func (ex *execution) expandAnyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		expanded, err := ex.scope.Expand(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}

func stepLabel(step *Step, index int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step %d (%s %s)", index+1, strings.ToUpper(step.Request.Method), step.Request.URL)
}

// Exchange is the diagnostic record of one request/response pair.
// Credential headers are redacted.
type Exchange struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
	RequestBody    any               `json:"requestBody,omitempty"`
	Status         int               `json:"status,omitempty"`
	StatusText     string            `json:"statusText,omitempty"`
	ResponseBody   string            `json:"responseBody,omitempty"`
	Duration       time.Duration     `json:"duration"`
}

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Cookie":              true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
}

const redacted = "[REDACTED]"

func newExchange(client Client, req httpclient.Request) *Exchange {
	url := req.URL
	if resolved, err := resolve(client, req.URL); err == nil {
		url = resolved
	}
	e := &Exchange{
		Method:      strings.ToUpper(req.Method),
		URL:         url,
		RequestBody: req.JSON,
	}
	if len(req.Headers) > 0 {
		e.RequestHeaders = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			if sensitiveHeaders[http.CanonicalHeaderKey(k)] {
				v = redacted
			}
			e.RequestHeaders[k] = v
		}
	}
	return e
}

func (e *Exchange) record(resp *httpclient.Response) {
	e.Status = resp.StatusCode
	e.StatusText = resp.StatusText
	e.ResponseBody = truncate(resp.Text(), 4096)
	e.Duration = resp.Duration
}

func resolve(client Client, raw string) (string, error) {
	if r, ok := client.(interface{ Resolve(string) (string, error) }); ok {
		return r.Resolve(raw)
	}
	return raw, nil
}
