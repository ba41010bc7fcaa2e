package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunsCmd создаёт группу команд для истории прогонов в API serve.
func NewRunsCmd(clientFn func() *Client, outputFn func(*cobra.Command) *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and trigger runs of a serve instance",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsTriggerCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "STATUS", "TRIGGER", "DRY_RUN", "TODAY", "SUMMARY", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{r.ID, r.Status, r.Trigger, fmt.Sprint(r.DryRun), r.Today, summaryString(r.Summary), r.CreatedAt}
}

func summaryString(summary map[string]int) string {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, summary[k])
	}
	return strings.Join(parts, " ")
}

func newRunsListCmd(clientFn func() *Client, outputFn func(*cobra.Command) *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}
			outputFn(cmd).Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "Filter by trigger (cli, api, schedule, mq)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func(*cobra.Command) *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with task results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn(cmd)

			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.JSONMode() {
				out.JSON(run)
				return nil
			}

			out.Table(runHeaders, [][]string{runRow(*run)})
			if run.Error != "" {
				out.Errorf("%s", run.Error)
			}
			if len(run.Results) == 0 {
				return nil
			}

			fmt.Fprintln(out.w)
			rows := make([][]string, len(run.Results))
			for i, t := range run.Results {
				rows[i] = []string{t.Rule, t.ReleaseKey, t.State, strings.Join(t.IssuesTouched, ","), strings.Join(t.Errors, "; ")}
			}
			out.Table([]string{"RULE", "RELEASE", "STATE", "ISSUES", "ERRORS"}, rows)
			return nil
		},
	}
}

func newRunsTriggerCmd(clientFn func() *Client, outputFn func(*cobra.Command) *Output) *cobra.Command {
	var req TriggerRunRequest

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a run on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn(cmd)

			run, err := clientFn().TriggerRun(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Infof("Run started: %s", run.ID)
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Do not create, modify or close anything")
	cmd.Flags().StringVar(&req.Today, "today", "", "Evaluate rules as of this date (YYYY-MM-DD)")

	return cmd
}
