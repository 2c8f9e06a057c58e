package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kiln/internal/digest"
)

// Snapshot renders a scenario result as canonical JSON for golden
// comparison. Errors are excluded; the snapshot records what was planned.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	runs := make([]any, len(result.Runs))
	for i, run := range result.Runs {
		m := map[string]any{
			"name":     run.Name,
			"build":    run.Build,
			"recorded": run.Recorded,
		}
		if run.ClusterID != "" {
			m["cluster_id"] = run.ClusterID
		}
		if run.Error != "" {
			m["error"] = run.Error
		}
		runs[i] = m
	}

	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		m := map[string]any{
			"run":  event.Run,
			"kind": event.Kind,
			"unit": event.Unit,
			"seq":  event.Seq,
		}
		if event.Reason != "" {
			m["reason"] = event.Reason
		}
		trace[i] = m
	}

	return digest.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"runs":          runs,
		"trace":         trace,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
