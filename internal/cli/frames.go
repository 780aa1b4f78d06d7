package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/frame"
)

// frameRow is one table entry in the frames output.
type frameRow struct {
	Index  int      `json:"index"`
	File   string   `json:"file"`
	Roles  []string `json:"roles"`
	Groups string   `json:"groups"`
}

type framesReport struct {
	Table   string         `json:"table"`
	Setup   string         `json:"setup"`
	Groups  []int          `json:"groups"`
	ByRole  map[string]int `json:"by_role"`
	Frames  []frameRow     `json:"frames"`
	Science []int          `json:"science_frames"`
}

// NewFramesCommand creates the frames command: load, validate, and
// summarize a frame table.
func NewFramesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames <frame-table.yaml>",
		Short: "Validate and summarize a frame table",
		Long: `Frames loads a YAML frame table with strict decoding (unknown fields,
roles, or malformed groups are errors) and prints the setup, the
calibration groups in use, a per-role count, and every frame with its
roles and group memberships.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := frame.LoadTable(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "load frame table", err)
			}

			report := framesReport{
				Table:  table.Name,
				Setup:  table.Setup,
				Groups: table.GroupIDs(),
				ByRole: map[string]int{},
			}
			for i := 0; i < table.Len(); i++ {
				rec, _ := table.Record(i)
				roles := make([]string, len(rec.Roles))
				for j, r := range rec.Roles {
					roles[j] = r.String()
					report.ByRole[r.String()]++
				}
				report.Frames = append(report.Frames, frameRow{
					Index:  i,
					File:   rec.File,
					Roles:  roles,
					Groups: table.GroupString(i),
				})
				if rec.HasRole(frame.RoleScience) {
					report.Science = append(report.Science, i)
				}
			}

			if rootOpts.Format == "json" {
				return outputJSON(cmd, CLIResponse{Status: "ok", Data: report})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "table %s: setup %s, %d frames, groups %v\n",
				report.Table, report.Setup, len(report.Frames), report.Groups)
			for _, role := range frame.Roles() {
				if n := report.ByRole[role.String()]; n > 0 {
					fmt.Fprintf(out, "  %-10s %d\n", role, n)
				}
			}
			for _, row := range report.Frames {
				fmt.Fprintf(out, "  [%d] %-20s %-24s groups %s\n",
					row.Index, row.File, strings.Join(row.Roles, ","), row.Groups)
			}
			return nil
		},
	}
	return cmd
}
