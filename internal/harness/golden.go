package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a scenario outcome: the full
// provenance trace plus the final slit mask. Expectation failures are not
// part of the snapshot; they fail the test directly.
type TraceSnapshot struct {
	Scenario string      `json:"scenario"`
	Runs     []RunResult `json:"runs"`
	Mask     []string    `json:"mask,omitempty"`
}

// Snapshot renders a result as stable, indented JSON for golden comparison.
func Snapshot(scenarioName string, res *Result) ([]byte, error) {
	snap := TraceSnapshot{
		Scenario: scenarioName,
		Runs:     res.Runs,
		Mask:     res.Mask,
	}
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario, fails the test on any expectation
// failure, and compares the trace snapshot against
// testdata/golden/<name>.golden.
func RunWithGolden(t *testing.T, s *Scenario) {
	t.Helper()

	res, err := Run(s)
	if err != nil {
		t.Fatalf("scenario %s: %v", s.Name, err)
	}
	for _, msg := range res.Errors {
		t.Errorf("scenario %s: %s", s.Name, msg)
	}

	data, err := Snapshot(s.Name, res)
	if err != nil {
		t.Fatalf("scenario %s: snapshot: %v", s.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
}
