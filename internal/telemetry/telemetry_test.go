package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/wondertwin-ai/contractkit/internal/httpclient"
	"github.com/wondertwin-ai/contractkit/internal/scenario"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, tp.Enabled())

	_, span := tp.Tracer("test").Start(context.Background(), "nothing")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tp.ForceFlush(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestEnabledProviderBuilds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"
	tp, err := NewTracerProvider(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err, "the service resource must merge with the SDK default resource")
	assert.True(t, tp.Enabled())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(ctx)
}

func TestSpansCarryServiceName(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := DefaultConfig()
	cfg.ServiceName = "ck-test"
	tp, err := NewWithExporter(cfg, exp)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	name, ok := spans[0].Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "ck-test", name.AsString())
}

func TestScenarioSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	exp := tracetest.NewInMemoryExporter()
	tp, err := NewWithExporter(DefaultConfig(), exp)
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	client, err := httpclient.New(httpclient.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	runner, err := scenario.NewRunner(scenario.Options{
		Targets: map[string]scenario.Target{"booking": {Client: client}},
		Tracer:  tp.Tracer("contractkit"),
	})
	require.NoError(t, err)

	result := runner.Run(context.Background(), &scenario.Scenario{
		Name: "health",
		Steps: []scenario.Step{
			{Name: "ping", Request: scenario.Request{Method: "GET", URL: "/ping"}, Expect: &scenario.Expect{Status: 201}},
			{Name: "missing", Request: scenario.Request{Method: "GET", URL: "/nope"}, Expect: &scenario.Expect{Status: 200}},
		},
	})
	require.False(t, result.Passed)

	spans := exp.GetSpans()
	names := make(map[string]codes.Code)
	for _, s := range spans {
		names[s.Name] = s.Status.Code
	}
	require.Contains(t, names, "scenario health")
	require.Contains(t, names, "step ping")
	require.Contains(t, names, "step missing")
	assert.Equal(t, codes.Error, names["step missing"])
	assert.Equal(t, codes.Error, names["scenario health"])
	assert.NotEqual(t, codes.Error, names["step ping"])
}
