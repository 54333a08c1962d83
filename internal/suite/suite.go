// Package suite runs a set of scenarios after acquiring the credentials they
// share, and aggregates the outcome.
package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wondertwin-ai/contractkit/internal/scenario"
	"github.com/wondertwin-ai/contractkit/internal/session"
)

// Exit codes returned by Result.ExitCode.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitAborted = 2
)

// Runner is the part of scenario.Runner an Orchestrator needs.
type Runner interface {
	Run(ctx context.Context, s *scenario.Scenario) *scenario.Result
	Session(name string) (*session.Manager, bool)
}

// Observer is notified once when a suite completes or aborts.
type Observer interface {
	SuiteFinished(result *Result)
}

// Setup lists what must succeed before any scenario runs.
type Setup struct {
	Sessions []string // acquired once, shared by every scenario
}

// Failure is the first violated expectation of a scenario.
type Failure struct {
	Step     string `json:"step"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// StepOutcome summarizes one executed step.
type StepOutcome struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name         string             `json:"scenarioName"`
	Description  string             `json:"description,omitempty"`
	Passed       bool               `json:"passed"`
	Skipped      bool               `json:"skipped,omitempty"`
	Duration     time.Duration      `json:"duration"`
	Steps        []StepOutcome      `json:"steps"`
	Failures     []Failure          `json:"failures"`
	LastExchange *scenario.Exchange `json:"lastExchange,omitempty"`
}

// Result aggregates every scenario outcome in input order.
type Result struct {
	Scenarios   []ScenarioResult `json:"scenarios"`
	Aborted     bool             `json:"aborted,omitempty"`
	AbortReason string           `json:"abortReason,omitempty"`
	Duration    time.Duration    `json:"duration"`
}

// Counts returns the number of passed, failed and skipped scenarios.
func (r *Result) Counts() (passed, failed, skipped int) {
	for _, s := range r.Scenarios {
		switch {
		case s.Skipped:
			skipped++
		case s.Passed:
			passed++
		default:
			failed++
		}
	}
	return passed, failed, skipped
}

// ExitCode maps the result to a process status: 0 when everything that ran
// passed, 1 when any scenario failed, 2 when the suite was aborted.
func (r *Result) ExitCode() int {
	if r.Aborted {
		return ExitAborted
	}
	if _, failed, _ := r.Counts(); failed > 0 {
		return ExitFailed
	}
	return ExitOK
}

// Orchestrator runs suites.
type Orchestrator struct {
	runner   Runner
	parallel int
	log      *zap.Logger
	observer Observer
}

// Options configures an Orchestrator.
type Options struct {
	Parallel int // scenarios in flight at once, sequential when <= 1
	Logger   *zap.Logger
	Observer Observer
}

// New creates an Orchestrator around runner.
func New(runner Runner, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{runner: runner, parallel: opts.Parallel, log: log, observer: opts.Observer}
}

// Run acquires every session in setup, then runs scenarios. An
// authentication failure during setup aborts the suite: no scenario runs and
// the error is returned alongside the aborted Result.
func (o *Orchestrator) Run(ctx context.Context, scenarios []*scenario.Scenario, setup Setup) (*Result, error) {
	start := time.Now()
	result := &Result{}
	defer func() {
		result.Duration = time.Since(start)
		if o.observer != nil {
			o.observer.SuiteFinished(result)
		}
	}()

	if err := o.acquire(ctx, setup); err != nil {
		result.Aborted = true
		result.AbortReason = err.Error()
		o.log.Error("suite aborted", zap.Error(err))
		return result, err
	}

	result.Scenarios = make([]ScenarioResult, len(scenarios))
	if o.parallel <= 1 {
		for i, s := range scenarios {
			result.Scenarios[i] = o.runOne(ctx, s)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.parallel)
		for i, s := range scenarios {
			g.Go(func() error {
				result.Scenarios[i] = o.runOne(ctx, s)
				return nil
			})
		}
		g.Wait()
	}

	passed, failed, skipped := result.Counts()
	o.log.Info("suite finished",
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (o *Orchestrator) acquire(ctx context.Context, setup Setup) error {
	for _, name := range setup.Sessions {
		mgr, ok := o.runner.Session(name)
		if !ok {
			return fmt.Errorf("suite setup: %w %q", scenario.ErrUnknownSession, name)
		}
		if _, err := mgr.Acquire(ctx); err != nil {
			return fmt.Errorf("suite setup: %w", err)
		}
		o.log.Info("session ready", zap.String("session", name))
	}
	return nil
}

func (o *Orchestrator) runOne(ctx context.Context, s *scenario.Scenario) ScenarioResult {
	r := o.runner.Run(ctx, s)
	sr := ScenarioResult{
		Name:         r.ScenarioName,
		Description:  s.Description,
		Passed:       r.Passed || r.Skipped,
		Skipped:      r.Skipped,
		Duration:     r.Duration,
		Steps:        make([]StepOutcome, 0, len(r.Steps)),
		Failures:     []Failure{},
		LastExchange: r.LastExchange,
	}
	for _, st := range r.Steps {
		sr.Steps = append(sr.Steps, StepOutcome{
			Name:     st.Name,
			Passed:   st.Passed,
			Duration: st.Duration,
			Attempts: st.Attempts,
			Error:    st.Error,
		})
	}
	if r.Failure != nil {
		sr.Passed = false
		sr.Failures = append(sr.Failures, toFailure(r.Failure))
	}
	return sr
}

func toFailure(se *scenario.StepError) Failure {
	f := Failure{Step: se.Step, Kind: string(se.Kind), Message: se.Error()}
	var ee *scenario.ExpectationError
	if errors.As(se, &ee) {
		f.Expected = describe(ee.Check, ee.Path, ee.Expected)
		f.Actual = scenario.Stringify(ee.Actual)
		if ee.Detail != "" && ee.Actual == nil {
			f.Actual = ee.Detail
		}
		return f
	}
	f.Expected = "step to complete"
	f.Actual = se.Err.Error()
	return f
}

func describe(check, path string, expected any) string {
	label := check
	if path != "" {
		label += " " + path
	}
	if expected == nil {
		return label
	}
	return label + " = " + scenario.Stringify(expected)
}
