package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/frame"
	"github.com/roach88/prism/internal/ledger"
	"github.com/roach88/prism/internal/param"
	"github.com/roach88/prism/internal/sim"
)

// CalibrateOptions holds flags for the calibrate command.
type CalibrateOptions struct {
	Frames    []int
	Dets      []int
	Group     int
	Params    string
	Steps     []string
	MasterDir string
	Save      bool
	Reuse     bool
	Ledger    string
	NSpec     int
	NSpat     int
}

// runReport is one (frame, detector) resolution in the calibrate output.
type runReport struct {
	RunID string `json:"run_id"`
	Frame int    `json:"frame"`
	Det   int    `json:"det"`
	Key   string `json:"master_key,omitempty"`
	Error string `json:"error,omitempty"`
}

// calibrateReport is the calibrate command's data payload.
type calibrateReport struct {
	Table  string      `json:"table"`
	Setup  string      `json:"setup"`
	Recipe string      `json:"recipe"`
	Runs   []runReport `json:"runs"`
	Failed int         `json:"failed"`
}

// NewCalibrateCommand creates the calibrate command: resolve the full
// calibration chain for each requested (frame, detector) pair over one
// shared cache, recording provenance as it goes.
func NewCalibrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalibrateOptions{}

	cmd := &cobra.Command{
		Use:   "calibrate <frame-table.yaml>",
		Short: "Run a calibration recipe over a frame table",
		Long: `Calibrate loads a frame table, then resolves the calibration chain for
each requested science frame and detector. Products resolved for one
pair are reused for the next: the in-memory cache is shared across the
whole invocation, so repeated contexts hit memory instead of rebuilding.

Builders are the deterministic synthetic set; pixel values are synthetic
but selection, caching, persistence, and provenance are the real thing.

Without --frames, every frame carrying the science role is reduced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().IntSliceVar(&opts.Frames, "frames", nil, "frame indices to reduce (default: all science frames)")
	cmd.Flags().IntSliceVar(&opts.Dets, "dets", []int{1}, "1-indexed detectors to reduce")
	cmd.Flags().IntVar(&opts.Group, "group", -1, "calibration group override (default: frame's first group)")
	cmd.Flags().StringVar(&opts.Params, "params", "", "CUE parameter file (default: built-in defaults)")
	cmd.Flags().StringSliceVar(&opts.Steps, "steps", nil, "custom recipe as an ordered step list (default: multislit)")
	cmd.Flags().StringVar(&opts.MasterDir, "master-dir", "", "directory for persisted masters")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "persist products after building (needs --master-dir)")
	cmd.Flags().BoolVar(&opts.Reuse, "reuse", false, "consult persisted masters before rebuilding (needs --master-dir)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "sqlite provenance ledger path (default: no ledger)")
	cmd.Flags().IntVar(&opts.NSpec, "nspec", 64, "synthetic detector size, spectral axis")
	cmd.Flags().IntVar(&opts.NSpat, "nspat", 48, "synthetic detector size, spatial axis")

	return cmd
}

func runCalibrate(cmd *cobra.Command, rootOpts *RootOptions, opts *CalibrateOptions, tablePath string) error {
	table, err := frame.LoadTable(tablePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load frame table", err)
	}

	par := param.Default()
	if opts.Params != "" {
		par, err = param.Load(opts.Params)
		if err != nil {
			return WrapExitError(ExitCommandError, "load parameters", err)
		}
	}

	recipe := calib.MultiSlitRecipe()
	if len(opts.Steps) > 0 {
		recipe, err = calib.ParseRecipe("custom", opts.Steps)
		if err != nil {
			return WrapExitError(ExitCommandError, "parse recipe", err)
		}
	}

	if opts.NSpec < 2 || opts.NSpat < 2 {
		return NewExitError(ExitCommandError, fmt.Sprintf("detector size %dx%d too small: need at least 2x2", opts.NSpec, opts.NSpat))
	}

	frames := opts.Frames
	if len(frames) == 0 {
		for i := 0; i < table.Len(); i++ {
			rec, _ := table.Record(i)
			if rec.HasRole(frame.RoleScience) {
				frames = append(frames, i)
			}
		}
		if len(frames) == 0 {
			return NewExitError(ExitCommandError, "no science frames in table and no --frames given")
		}
	}

	var rec calib.Recorder
	if opts.Ledger != "" {
		led, err := ledger.Open(opts.Ledger)
		if err != nil {
			return WrapExitError(ExitCommandError, "open ledger", err)
		}
		defer led.Close()
		rec = led
	}

	mgr, err := calib.New(calib.Config{
		Index:        table,
		Params:       par,
		Tools:        sim.New(opts.NSpec, opts.NSpat),
		MasterDir:    opts.MasterDir,
		SaveMasters:  opts.Save,
		ReuseMasters: opts.Reuse,
		Recorder:     rec,
		Logger:       rootOpts.logger(cmd),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "configure orchestrator", err)
	}

	report := calibrateReport{
		Table:  table.Name,
		Setup:  table.Setup,
		Recipe: recipe.Name,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, f := range frames {
		for _, det := range opts.Dets {
			report.Runs = append(report.Runs, calibrateOne(ctx, mgr, table, recipe, opts.Group, f, det))
		}
	}
	for _, r := range report.Runs {
		if r.Error != "" {
			report.Failed++
		}
	}

	if err := writeCalibrateReport(cmd, rootOpts, report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d runs failed", report.Failed, len(report.Runs)))
	}
	return nil
}

func calibrateOne(ctx context.Context, mgr *calib.Manager, table *frame.Table, recipe calib.Recipe, group, frameIdx, det int) runReport {
	r := runReport{Frame: frameIdx, Det: det}

	copts := []calib.ConfigureOption{calib.WithRecipe(recipe)}
	if group >= 0 {
		copts = append(copts, calib.WithGroup(group))
	}
	if err := mgr.Configure(frameIdx, det, copts...); err != nil {
		r.Error = err.Error()
		return r
	}
	r.RunID = mgr.RunID()
	if key, err := table.MasterKey(frameIdx, det); err == nil {
		r.Key = key
	}
	if err := mgr.RunRecipe(ctx); err != nil {
		r.Error = err.Error()
	}
	return r
}

func writeCalibrateReport(cmd *cobra.Command, rootOpts *RootOptions, report calibrateReport) error {
	if rootOpts.Format == "json" {
		return outputJSON(cmd, CLIResponse{Status: statusFor(report.Failed), Data: report})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "table %s (setup %s), recipe %s\n", report.Table, report.Setup, report.Recipe)
	for _, r := range report.Runs {
		status := "ok"
		if r.Error != "" {
			status = "FAILED: " + r.Error
		}
		id := r.RunID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(out, "  frame %d det %d  %-12s %-38s %s\n", r.Frame, r.Det, strings.TrimSpace(r.Key), id, status)
	}
	fmt.Fprintf(out, "%d runs, %d failed\n", len(report.Runs), report.Failed)
	return nil
}

func statusFor(failed int) string {
	if failed > 0 {
		return "error"
	}
	return "ok"
}
