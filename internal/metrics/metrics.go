// Package metrics records suite outcomes as Prometheus metrics.
//
// A Recorder observes scenarios and suites. Its registry can be gathered,
// served, or written once to a node_exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wondertwin-ai/contractkit/internal/scenario"
	"github.com/wondertwin-ai/contractkit/internal/suite"
)

// Metric names.
const (
	MetricScenariosTotal      = "contractkit_scenarios_total"
	MetricStepDurationSeconds = "contractkit_step_duration_seconds"
	MetricStepFailuresTotal   = "contractkit_step_failures_total"
	MetricStepReplaysTotal    = "contractkit_step_replays_total"
	MetricSuiteAborted        = "contractkit_suite_aborted"
	MetricSuiteDuration       = "contractkit_suite_duration_seconds"
)

// Config holds metrics configuration.
type Config struct {
	Textfile string `yaml:"textfile"` // written after the suite when set
}

// Recorder implements scenario.Observer and suite.Observer.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Recorder struct {
	registry *prometheus.Registry

	scenariosTotal *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepFailures   *prometheus.CounterVec
	stepReplays    prometheus.Counter
	suiteAborted   prometheus.Gauge
	suiteDuration  prometheus.Gauge
}

var (
	_ scenario.Observer = (*Recorder)(nil)
	_ suite.Observer    = (*Recorder)(nil)
)

// NewRecorder creates a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		scenariosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricScenariosTotal,
			Help: "Scenarios run, by result.",
		}, []string{"result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricStepDurationSeconds,
			Help:    "Step duration including any credential replay.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scenario", "passed"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStepFailuresTotal,
			Help: "Failed steps, by failure kind.",
		}, []string{"kind"}),
		stepReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStepReplaysTotal,
			Help: "Steps replayed after a rejected credential was renewed.",
		}),
		suiteAborted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSuiteAborted,
			Help: "1 when the last suite aborted during setup.",
		}),
		suiteDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSuiteDuration,
			Help: "Wall time of the last suite.",
		}),
	}
	r.registry.MustRegister(
		r.scenariosTotal,
		r.stepDuration,
		r.stepFailures,
		r.stepReplays,
		r.suiteAborted,
		r.suiteDuration,
	)
	return r
}

// StepFinished records one step.
func (r *Recorder) StepFinished(scenarioName string, step scenario.StepResult) {
	r.stepDuration.WithLabelValues(scenarioName, fmt.Sprint(step.Passed)).Observe(step.Duration.Seconds())
	if step.Attempts > 1 {
		r.stepReplays.Inc()
	}
	if step.Failure != nil {
		r.stepFailures.WithLabelValues(string(step.Failure.Kind)).Inc()
	}
}

// ScenarioFinished records one scenario outcome.
func (r *Recorder) ScenarioFinished(result *scenario.Result) {
	r.scenariosTotal.WithLabelValues(resultLabel(result)).Inc()
	// Setup failures never reach StepFinished.
	if result.Failure != nil && len(result.Steps) == 0 {
		r.stepFailures.WithLabelValues(string(result.Failure.Kind)).Inc()
	}
}

// SuiteFinished records the suite outcome.
func (r *Recorder) SuiteFinished(result *suite.Result) {
	if result.Aborted {
		r.suiteAborted.Set(1)
	} else {
		r.suiteAborted.Set(0)
	}
	r.suiteDuration.Set(result.Duration.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

func resultLabel(result *scenario.Result) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.Passed:
		return "passed"
	default:
		return "failed"
	}
}
