package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/orchestrator"
	"github.com/release-engineering/retasc/internal/rules"
)

// ErrTasksErrored — часть задач прогона завершилась ошибкой.
var ErrTasksErrored = errors.New("some tasks errored")

// NewRunCmd создаёт команду run (или dry-run при dryRun=true).
func NewRunCmd(appFn func() (*App, error), outputFn func(*cobra.Command) *Output, dryRun bool) *cobra.Command {
	var today string
	var reportPath string
	var forceDry bool

	use, short := "run [RULE_PATH...]", "Process rules, data from Product Pages and apply changes to Jira"
	if dryRun {
		use, short = "dry-run [RULE_PATH...]", `Same as "run" but without creating, deleting or modifying anything`
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + ".\n\nRULE_PATH is a rule file or a directory searched recursively;\n" +
			"by default rules_path from the configuration is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn()
			if err != nil {
				return err
			}
			out := outputFn(cmd)

			req := orchestrator.Request{Trigger: "cli", DryRun: dryRun || forceDry}
			if today != "" {
				if req.Today, err = time.Parse(time.DateOnly, today); err != nil {
					return fmt.Errorf("invalid --today %q, expected YYYY-MM-DD", today)
				}
			}

			paths := args
			if len(paths) == 0 {
				paths = []string{app.Config.RulesPath}
			}
			snapshot := func() *rules.Snapshot {
				return rules.LoadAndValidatePaths(paths, app.ValidateOptions())
			}

			orch := orchestrator.New(app.OrchestratorConfig(snapshot))
			report, err := orch.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if err := writeReport(reportPath, report); err != nil {
					return err
				}
			}
			printReport(out, report)

			if n := report.Run.Summary[domain.StateErrored]; n > 0 {
				return fmt.Errorf("%w: %d of %d", ErrTasksErrored, n, len(report.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&today, "today", "", "Evaluate rules as of this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Output path for the report JSON file")
	if !dryRun {
		cmd.Flags().BoolVar(&forceDry, "dry-run", false, "Do not create, modify or close anything")
	}

	return cmd
}

func printReport(out *Output, report *orchestrator.Report) {
	if out.JSONMode() {
		out.JSON(report)
		return
	}

	headers := []string{"RULE", "RELEASE", "STATE", "ISSUES", "ERRORS"}
	rows := make([][]string, len(report.Results))
	for i, r := range report.Results {
		rows[i] = []string{r.Rule, string(r.ReleaseKey), string(r.State), strings.Join(r.IssuesTouched, ","), strings.Join(r.Errors, "; ")}
	}
	out.Table(headers, rows)

	if p := report.Prune; p != nil {
		switch {
		case p.Skipped:
			out.Infof("Prune skipped: some tasks errored")
		case len(p.Closed) > 0:
			out.Infof("Closed abandoned issues: %s", strings.Join(p.Closed, ", "))
		}
	}

	mode := ""
	if report.Run.DryRun {
		mode = " (dry run)"
	}
	out.Infof("Run %s finished%s: %s", report.Run.ID, mode, formatSummary(report.Run.Summary))
}

func formatSummary(summary map[domain.TaskState]int) string {
	states := []domain.TaskState{domain.StateCompleted, domain.StateInProgress, domain.StatePending, domain.StateErrored}
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", s, summary[s]))
	}
	return strings.Join(parts, " ")
}

func writeReport(path string, report *orchestrator.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
