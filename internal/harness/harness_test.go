package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScenario() *Scenario {
	return &Scenario{
		Name:        "test",
		Description: "programmatic scenario",
		Table:       "testdata/tables/longslit.yaml",
		Detector:    Detector{NSpec: 6, NSpat: 4},
		Runs:        []RunStep{{Frame: 5, Det: 1}},
		Assertions: []Assertion{
			{Type: AssertFinalMask, Mask: []string{"OK", "OK"}},
		},
	}
}

func TestRunCleanScenario(t *testing.T) {
	res, err := Run(testScenario())
	require.NoError(t, err)

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Runs, 1)
	assert.Equal(t, "run-0001", res.Runs[0].RunID)
	assert.Empty(t, res.Runs[0].Error)
	assert.Len(t, res.Runs[0].Events, 9)
	assert.Equal(t, []string{"OK", "OK"}, res.Mask)

	first := res.Runs[0].Events[0]
	assert.Equal(t, "bias", first.Product)
	assert.Equal(t, "A_0_01", first.Key)
	assert.Equal(t, "built", first.Source)
}

func TestRunSharedCacheAcrossRuns(t *testing.T) {
	s := testScenario()
	s.Runs = []RunStep{{Frame: 5, Det: 1}, {Frame: 5, Det: 1}}

	res, err := Run(s)
	require.NoError(t, err)
	require.Len(t, res.Runs, 2)
	assert.Equal(t, "run-0002", res.Runs[1].RunID)
	for _, ev := range res.Runs[1].Events {
		assert.Equal(t, "memory", ev.Source, "product %s", ev.Product)
	}
}

func TestRunCustomRecipe(t *testing.T) {
	s := testScenario()
	s.Runs = []RunStep{{Frame: 5, Det: 1, Steps: []string{"bias", "bpm", "arc"}}}
	s.Assertions = []Assertion{
		{Type: AssertSourceCount, Product: "arc", Source: "built", Count: 1},
	}

	res, err := Run(s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Len(t, res.Runs[0].Events, 3)
	assert.Empty(t, res.Mask)
}

func TestRunMisorderedRecipeFailsTheRun(t *testing.T) {
	s := testScenario()
	s.Runs = []RunStep{{Frame: 5, Det: 1, Steps: []string{"arc", "bias", "bpm"}}}
	s.Assertions = []Assertion{
		{Type: AssertSourceCount, Product: "arc", Source: "built", Count: 0},
	}

	res, err := Run(s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.NotEmpty(t, res.Runs[0].Error)
}

func TestRunPartialFailure(t *testing.T) {
	s := testScenario()
	s.Persist = true
	s.Faults.Trace = "edge tracing diverged"
	s.Runs = []RunStep{{Frame: 5, Det: 1, ExpectError: "edge tracing diverged"}}
	s.Assertions = []Assertion{
		{Type: AssertSourceCount, Product: "edges", Source: "partial", Count: 1},
	}

	res, err := Run(s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	last := res.Runs[0].Events[len(res.Runs[0].Events)-1]
	assert.Equal(t, "edges", last.Product)
	assert.Equal(t, "partial", last.Source)
	assert.Equal(t, "edge tracing diverged", last.Detail)
	assert.Empty(t, res.Mask)
}

func TestRunExpectErrorButRunSucceeds(t *testing.T) {
	s := testScenario()
	s.Runs = []RunStep{{Frame: 5, Det: 1, ExpectError: "never happens"}}

	res, err := Run(s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.NotEmpty(t, res.Errors)
}

func TestRunMaskFaults(t *testing.T) {
	s := testScenario()
	s.Faults.BadWaveSlits = []int{0}
	s.Faults.BadTiltSlits = []int{1}
	s.Assertions = []Assertion{
		{Type: AssertFinalMask, Mask: []string{"BADWAVE", "BADTILT"}},
	}

	res, err := Run(s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
}

func TestRunBadParams(t *testing.T) {
	s := testScenario()
	s.Params = "calibrations: {{{"

	_, err := Run(s)
	assert.Error(t, err)
}

func TestRunMissingTable(t *testing.T) {
	s := testScenario()
	s.Table = "testdata/tables/nope.yaml"

	_, err := Run(s)
	assert.Error(t, err)
}
