// Package harness assembles a runnable suite from configuration: one HTTP
// client and session per target, the fixture schemas, the scenario list and
// the orchestrator.
package harness

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/config"
	"github.com/wondertwin-ai/contractkit/internal/fixture"
	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/scenario"
	"github.com/wondertwin-ai/contractkit/internal/session"
	"github.com/wondertwin-ai/contractkit/internal/suite"
	"github.com/wondertwin-ai/contractkit/internal/targets"
)

// Observer receives scenario, step and suite outcomes (metrics.Recorder).
type Observer interface {
	scenario.Observer
	suite.Observer
}

// Options supplies the runtime collaborators Build does not read from config.
type Options struct {
	Logger    *zap.Logger
	Tracer    trace.Tracer
	Observer  Observer
	Transport http.RoundTripper // shared by every target client
	Generator *fixture.Generator
	LookupEnv func(string) (string, bool)
}

// Harness is a configured suite ready to run.
type Harness struct {
	Runner       *scenario.Runner
	Orchestrator *suite.Orchestrator
	Scenarios    []*scenario.Scenario
	Setup        suite.Setup
	Schemas      *fixture.Registry

	log *zap.Logger
}

// Build wires cfg into a Harness. cfg must already be validated.
func Build(cfg *config.Config, opts Options) (*Harness, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	schemas := fixture.NewRegistry()
	if cfg.Suite.Catalog {
		if err := targets.RegisterSchemas(schemas); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	runTargets := make(map[string]scenario.Target, len(names))
	sessions := make(map[string]*session.Manager)
	for _, name := range names {
		tc := cfg.Targets[name]
		clientOpts := tc.ClientOptions()
		clientOpts.Transport = opts.Transport
		clientOpts.Logger = log.With(zap.String("target", name))
		client, err := httpclient.New(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
		runTargets[name] = scenario.Target{Client: client, Vars: tc.Vars}

		if sc, ok := tc.SessionConfig(name); ok {
			mgr, err := session.New(sc, client, log)
			if err != nil {
				return nil, fmt.Errorf("target %s: %w", name, err)
			}
			sessions[name] = mgr
		}
	}

	all, err := collect(cfg, names)
	if err != nil {
		return nil, err
	}
	selected, err := suite.Select(all, suite.Selection{
		Only:    cfg.Suite.Only,
		Tags:    cfg.Suite.Tags,
		Enable:  cfg.Suite.Enable,
		Disable: cfg.Suite.Disable,
	})
	if err != nil {
		return nil, err
	}

	runner, err := scenario.NewRunner(scenario.Options{
		Targets:   runTargets,
		Sessions:  sessions,
		Schemas:   schemas,
		Generator: opts.Generator,
		Logger:    log,
		Tracer:    opts.Tracer,
		Observer:  observerOrNil(opts.Observer),
		LookupEnv: opts.LookupEnv,
	})
	if err != nil {
		return nil, err
	}

	orch := suite.New(runner, suite.Options{
		Parallel: cfg.Suite.Parallel,
		Logger:   log,
		Observer: suiteObserverOrNil(opts.Observer),
	})

	return &Harness{
		Runner:       runner,
		Orchestrator: orch,
		Scenarios:    selected,
		Setup:        suite.Setup{Sessions: setupSessions(cfg, sessions, selected)},
		Schemas:      schemas,
		log:          log,
	}, nil
}

// collect gathers the built-in catalogs for configured targets followed by
// every scenario file under the configured directories.
func collect(cfg *config.Config, targetNames []string) ([]*scenario.Scenario, error) {
	var out []*scenario.Scenario
	if cfg.Suite.Catalog {
		configured := make(map[string]bool, len(targetNames))
		for _, n := range targetNames {
			configured[n] = true
		}
		out = append(out, targets.Scenarios(configured)...)
	}
	for _, dir := range cfg.Suite.ScenarioDirs {
		loaded, err := scenario.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("loading scenarios from %s: %w", dir, err)
		}
		out = append(out, loaded...)
	}
	return out, nil
}

// setupSessions keeps the configured setup sessions that a selected, enabled
// scenario authenticates with, so a suite of anonymous scenarios needs no login.
func setupSessions(cfg *config.Config, sessions map[string]*session.Manager, scenarios []*scenario.Scenario) []string {
	used := make(map[string]bool)
	for _, s := range scenarios {
		if s.Disabled {
			continue
		}
		for _, step := range s.Steps {
			if step.Auth != "" {
				used[step.Auth] = true
			}
		}
	}
	var out []string
	for _, name := range cfg.SetupSessions() {
		if _, ok := sessions[name]; ok && used[name] {
			out = append(out, name)
		}
	}
	return out
}

// Run executes the selected scenarios.
func (h *Harness) Run(ctx context.Context) (*suite.Result, error) {
	h.log.Info("running suite", zap.Int("scenarios", len(h.Scenarios)), zap.Strings("setup", h.Setup.Sessions))
	return h.Orchestrator.Run(ctx, h.Scenarios, h.Setup)
}

// A nil Observer must stay a nil interface, not a typed nil.
func observerOrNil(o Observer) scenario.Observer {
	if o == nil {
		return nil
	}
	return o
}

func suiteObserverOrNil(o Observer) suite.Observer {
	if o == nil {
		return nil
	}
	return o
}
