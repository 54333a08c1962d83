// Package conformance checks that a running twin implements the admin API
// the harness and the ck admin commands rely on.
package conformance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wondertwin-ai/contractkit/internal/client"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

// probePattern is a fault pattern no twin serves, so injecting it never
// disturbs real traffic.
const probePattern = "/__conformance/*"

// Result is the outcome of a single check.
type Result struct {
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// Report holds the results of a full run.
type Report struct {
	URL     string
	Results []Result
	Passed  int
	Failed  int
	Skipped int
}

// Run executes every check against the twin at baseURL. The twin is reset
// first and left reset afterwards.
func Run(ctx context.Context, baseURL string) *Report {
	c := client.New(baseURL)
	report := &Report{URL: baseURL}

	report.add(checkHealth(ctx, c))
	if report.Results[0].Passed {
		report.add(checkReset(ctx, c))
		report.add(checkStateRoundTrip(ctx, c))
		report.add(checkFaults(ctx, c))
		report.add(checkRequestLog(ctx, c))
		report.add(checkTimeAdvance(ctx, c))
		if err := c.Reset(ctx); err != nil {
			report.add(fail("Twin resets after the run", err))
		}
	}

	for _, r := range report.Results {
		switch {
		case r.Skipped:
			report.Skipped++
		case r.Passed:
			report.Passed++
		default:
			report.Failed++
		}
	}
	return report
}

// OK reports whether no check failed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func pass(name, detail string) Result {
	return Result{Name: name, Passed: true, Detail: detail}
}

func fail(name string, err error) Result {
	return Result{Name: name, Detail: err.Error()}
}

func checkHealth(ctx context.Context, c *client.AdminClient) Result {
	name := "Twin responds to health check within 5s"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var last error
	for {
		if last = c.Health(ctx); last == nil {
			return pass(name, "GET /admin/health returned 200")
		}
		select {
		case <-ctx.Done():
			return fail(name, fmt.Errorf("GET /admin/health did not return 200 within 5s: %w", last))
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func checkReset(ctx context.Context, c *client.AdminClient) Result {
	name := "POST /admin/reset returns 200"
	if err := c.Reset(ctx); err != nil {
		return fail(name, err)
	}
	return pass(name, "POST /admin/reset returned 200")
}

// checkStateRoundTrip loads a snapshot back into the twin and expects the
// next snapshot to be identical.
func checkStateRoundTrip(ctx context.Context, c *client.AdminClient) Result {
	name := "GET /admin/state round-trips through POST /admin/state"

	before, err := c.State(ctx)
	if err != nil {
		return fail(name, err)
	}
	var want map[string]any
	if err := json.Unmarshal(before, &want); err != nil {
		return fail(name, fmt.Errorf("snapshot is not a JSON object: %w", err))
	}
	if err := c.Seed(ctx, before); err != nil {
		return fail(name, err)
	}
	after, err := c.State(ctx)
	if err != nil {
		return fail(name, err)
	}
	var got map[string]any
	if err := json.Unmarshal(after, &got); err != nil {
		return fail(name, fmt.Errorf("snapshot is not a JSON object: %w", err))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return fail(name, fmt.Errorf("snapshot changed after reload (-want +got):\n%s", diff))
	}
	return pass(name, "state reloaded unchanged")
}

func checkFaults(ctx context.Context, c *client.AdminClient) Result {
	name := "POST and DELETE /admin/fault/{pattern} manage faults"
	if err := c.InjectFault(ctx, probePattern, twincore.FaultConfig{StatusCode: 503}); err != nil {
		return fail(name, err)
	}
	if err := c.RemoveFault(ctx, probePattern); err != nil {
		return fail(name, err)
	}
	if err := c.RemoveFault(ctx, probePattern); err == nil {
		return fail(name, fmt.Errorf("removing %s twice succeeded", probePattern))
	}
	return pass(name, "fault injected and removed")
}

func checkRequestLog(ctx context.Context, c *client.AdminClient) Result {
	name := "GET /admin/requests records served requests"
	entries, err := c.Requests(ctx)
	if err != nil {
		return fail(name, err)
	}
	for _, e := range entries {
		if e.Path == "/admin/state" {
			return pass(name, fmt.Sprintf("%d requests recorded", len(entries)))
		}
	}
	return fail(name, fmt.Errorf("no /admin/state request among %d entries", len(entries)))
}

func checkTimeAdvance(ctx context.Context, c *client.AdminClient) Result {
	name := "POST /admin/time/advance advances simulated clock"
	err := c.AdvanceTime(ctx, time.Hour)
	switch {
	case err == nil:
		return pass(name, "clock advanced 1h")
	case strings.Contains(err.Error(), "simulated clock not configured"):
		return Result{Name: name, Skipped: true, Detail: "twin has no simulated clock"}
	default:
		return fail(name, err)
	}
}
