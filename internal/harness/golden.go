package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/10d3/nexora/internal/record"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot into plain values that
// record.FromAny accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		m := map[string]any{
			"type": e.Type,
			"seq":  e.Seq,
		}
		if e.Action != "" {
			m["action"] = e.Action
		}
		if e.Outcome != "" {
			m["outcome"] = e.Outcome
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		if e.ID != "" {
			m["id"] = e.ID
		}
		if e.Count != nil {
			m["count"] = *e.Count
		}
		if e.Online != nil {
			m["online"] = *e.Online
		}
		if r := e.Report; r != nil {
			m["report"] = map[string]any{
				"attempted": r.Attempted,
				"succeeded": r.Succeeded,
				"requeued":  r.Requeued,
				"dropped":   r.Dropped,
			}
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	v, err := record.FromAny(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return record.MarshalCanonical(v)
}

// RunWithGolden runs a scenario, fails the test on any step or assertion
// failure, and compares its trace against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	data, err := snapshot.MarshalCanonical()
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
