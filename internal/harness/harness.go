package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/frame"
	"github.com/roach88/prism/internal/ledger"
	"github.com/roach88/prism/internal/param"
	"github.com/roach88/prism/internal/sim"
	"github.com/roach88/prism/internal/testutil"
)

// TraceEvent is one product resolution as the ledger saw it. Paths and
// timestamps are deliberately excluded: they vary per machine and per run,
// and the golden trace must not.
type TraceEvent struct {
	Product string `json:"product"`
	Key     string `json:"key"`
	Source  string `json:"source"`
	Detail  string `json:"detail,omitempty"`
}

// RunResult is the trace of one calibration run.
type RunResult struct {
	RunID  string       `json:"run_id"`
	Frame  int          `json:"frame"`
	Det    int          `json:"det"`
	Error  string       `json:"error,omitempty"`
	Events []TraceEvent `json:"events"`
}

// Result is the outcome of executing a scenario.
type Result struct {
	// Pass is true when every run met its expect_error clause and every
	// assertion held.
	Pass bool `json:"pass"`

	// Runs holds the per-run traces in execution order.
	Runs []RunResult `json:"runs"`

	// Mask is the final slit mask rendered per slit, empty when the last
	// run produced no slits.
	Mask []string `json:"mask,omitempty"`

	// Errors lists every expectation failure. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// AddError records an expectation failure and fails the result.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario and returns its result.
//
// Each scenario gets a fresh in-memory ledger, a fresh cache (via a fresh
// Manager), deterministic run tokens, and sim builders sized per the
// scenario's detector block. All runs share the one Manager, so cache
// behavior across runs is part of what scenarios observe.
func Run(s *Scenario) (*Result, error) {
	table, err := frame.LoadTable(s.Table)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	par := param.Default()
	if s.Params != "" {
		par, err = param.Parse([]byte(s.Params), s.Name+".cue")
		if err != nil {
			return nil, fmt.Errorf("scenario %s: params: %w", s.Name, err)
		}
	}

	tk := sim.New(s.Detector.NSpec, s.Detector.NSpat)
	if s.Detector.NSlits > 0 {
		tk.NSlits = s.Detector.NSlits
	}
	if s.Faults.Trace != "" {
		tk.TraceFailure = errors.New(s.Faults.Trace)
	}
	tk.BadWaveSlits = s.Faults.BadWaveSlits
	tk.BadTiltSlits = s.Faults.BadTiltSlits

	led, err := ledger.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	defer led.Close()

	masterDir := ""
	if s.Persist {
		masterDir, err = os.MkdirTemp("", "prism-harness-")
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		defer os.RemoveAll(masterDir)
	}

	mgr, err := calib.New(calib.Config{
		Index:        table,
		Params:       par,
		Tools:        tk,
		MasterDir:    masterDir,
		SaveMasters:  s.Persist,
		ReuseMasters: s.Persist,
		Recorder:     led,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tokens:       testutil.NewFixedTokens(),
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	ctx := context.Background()
	result := &Result{Pass: true}

	for i, step := range s.Runs {
		runErr := configureAndRun(ctx, mgr, step)

		rr := RunResult{
			RunID:  mgr.RunID(),
			Frame:  step.Frame,
			Det:    step.Det,
			Events: []TraceEvent{},
		}
		if runErr != nil {
			rr.Error = runErr.Error()
		}

		if rr.RunID != "" {
			rows, err := led.ByRun(ctx, rr.RunID)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: run %d: %w", s.Name, i, err)
			}
			for _, row := range rows {
				rr.Events = append(rr.Events, TraceEvent{
					Product: string(row.Product),
					Key:     row.Key,
					Source:  string(row.Source),
					Detail:  row.Detail,
				})
			}
		}
		result.Runs = append(result.Runs, rr)

		switch {
		case step.ExpectError == "" && runErr != nil:
			result.AddError(fmt.Sprintf("runs[%d]: unexpected error: %v", i, runErr))
		case step.ExpectError != "" && runErr == nil:
			result.AddError(fmt.Sprintf("runs[%d]: expected error containing %q, got none", i, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(runErr.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("runs[%d]: expected error containing %q, got %q", i, step.ExpectError, runErr))
		}
	}

	if slits := mgr.Slits(); slits != nil {
		result.Mask = make([]string, len(slits.Mask))
		for i, flags := range slits.Mask {
			result.Mask[i] = flags.String()
		}
	}

	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func configureAndRun(ctx context.Context, mgr *calib.Manager, step RunStep) error {
	var opts []calib.ConfigureOption
	if len(step.Steps) > 0 {
		recipe, err := calib.ParseRecipe("scenario", step.Steps)
		if err != nil {
			return err
		}
		opts = append(opts, calib.WithRecipe(recipe))
	}
	if err := mgr.Configure(step.Frame, step.Det, opts...); err != nil {
		return err
	}
	return mgr.RunRecipe(ctx)
}
