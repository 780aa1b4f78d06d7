package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/calib"
)

// planStep is one recipe position in the plan output.
type planStep struct {
	Position int      `json:"position"`
	Step     string   `json:"step"`
	Requires []string `json:"requires,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

type planReport struct {
	Recipe string     `json:"recipe"`
	Steps  []planStep `json:"steps"`
}

// NewPlanCommand creates the plan command: validate a recipe and print its
// dependency structure without touching any data.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var steps []string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate a recipe and show its step dependencies",
		Long: `Plan validates a calibration recipe and prints each step with its
required and optional inputs. A recipe is valid when it is a
topological order of its steps: required inputs must be listed earlier,
optional inputs only need to come earlier when listed at all.

Without --steps the standard multislit recipe is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipe := calib.MultiSlitRecipe()
			if len(steps) > 0 {
				var err error
				recipe, err = calib.ParseRecipe("custom", steps)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse recipe", err)
				}
			}

			report := planReport{Recipe: recipe.Name}
			for i, s := range recipe.Steps {
				hard, soft := s.Inputs()
				report.Steps = append(report.Steps, planStep{
					Position: i + 1,
					Step:     s.String(),
					Requires: stepNames(hard),
					Optional: stepNames(soft),
				})
			}

			if rootOpts.Format == "json" {
				return outputJSON(cmd, CLIResponse{Status: "ok", Data: report})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recipe %s: %d steps\n", report.Recipe, len(report.Steps))
			for _, ps := range report.Steps {
				fmt.Fprintf(out, "  %d. %s", ps.Position, ps.Step)
				var notes []string
				if len(ps.Requires) > 0 {
					notes = append(notes, "requires "+strings.Join(ps.Requires, ", "))
				}
				if len(ps.Optional) > 0 {
					notes = append(notes, "optional "+strings.Join(ps.Optional, ", "))
				}
				if len(notes) > 0 {
					fmt.Fprintf(out, "  (%s)", strings.Join(notes, "; "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&steps, "steps", nil, "ordered step list to validate (default: multislit)")

	return cmd
}

func stepNames(steps []calib.Step) []string {
	if len(steps) == 0 {
		return nil
	}
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.String()
	}
	return out
}
