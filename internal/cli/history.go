package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/prism/internal/ledger"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	Run   string
	Key   string
	Limit int
}

// historyRow is one provenance event in the history output.
type historyRow struct {
	RunID   string `json:"run_id"`
	Key     string `json:"master_key"`
	Product string `json:"product"`
	Source  string `json:"source"`
	Path    string `json:"path,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Created string `json:"created_at"`
}

type historyReport struct {
	Ledger string       `json:"ledger"`
	Events []historyRow `json:"events"`
}

// NewHistoryCommand creates the history command: query the provenance
// ledger by run, by master key, or most-recent-first.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history <ledger.db>",
		Short: "Query the provenance ledger",
		Long: `History reads provenance events out of a sqlite ledger written by
calibrate --ledger. --run lists one run's events in resolution order;
--key lists everything ever recorded under one master key; with
neither, the most recent events are shown newest first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Run, "run", "", "list events of one run token")
	cmd.Flags().StringVar(&opts.Key, "key", "", "list events recorded under one master key")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "row cap for the recent-events listing")

	return cmd
}

func runHistory(cmd *cobra.Command, rootOpts *RootOptions, opts *HistoryOptions, path string) error {
	if opts.Run != "" && opts.Key != "" {
		return NewExitError(ExitCommandError, "--run and --key are mutually exclusive")
	}

	led, err := ledger.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open ledger", err)
	}
	defer led.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []ledger.Row
	switch {
	case opts.Run != "":
		rows, err = led.ByRun(ctx, opts.Run)
	case opts.Key != "":
		rows, err = led.ByKey(ctx, opts.Key)
	default:
		rows, err = led.Recent(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "query ledger", err)
	}

	report := historyReport{Ledger: path}
	for _, r := range rows {
		report.Events = append(report.Events, historyRow{
			RunID:   r.RunID,
			Key:     r.Key,
			Product: r.Product.String(),
			Source:  string(r.Source),
			Path:    r.Path,
			Detail:  r.Detail,
			Created: r.CreatedAt,
		})
	}

	if rootOpts.Format == "json" {
		return outputJSON(cmd, CLIResponse{Status: "ok", Data: report})
	}

	out := cmd.OutOrStdout()
	if len(report.Events) == 0 {
		fmt.Fprintln(out, "no events")
		return nil
	}
	for _, ev := range report.Events {
		fmt.Fprintf(out, "%s  %-12s %-9s %-9s %s", ev.Created, ev.Key, ev.Product, ev.Source, ev.RunID)
		if ev.Detail != "" {
			fmt.Fprintf(out, "  (%s)", ev.Detail)
		}
		fmt.Fprintln(out)
	}
	return nil
}
