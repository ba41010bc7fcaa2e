package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/release-engineering/retasc/internal/rules"
)

// NewValidateCmd создаёт команду validate.
func NewValidateCmd(appFn func() (*App, error), outputFn func(*cobra.Command) *Output) *cobra.Command {
	return &cobra.Command{
		Use:     "validate [RULE_PATH...]",
		Aliases: []string{"validate-rules"},
		Short:   "Validate rule files without contacting any service",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn()
			if err != nil {
				return err
			}
			out := outputFn(cmd)

			paths := args
			if len(paths) == 0 {
				paths = []string{app.Config.RulesPath}
			}
			snap := rules.LoadAndValidatePaths(paths, app.ValidateOptions())

			if out.JSONMode() {
				errs := make([]string, len(snap.Errors))
				for i, e := range snap.Errors {
					errs[i] = e.Error()
				}
				out.JSON(map[string]any{
					"valid":  snap.Valid(),
					"rules":  len(snap.Rules),
					"files":  snap.Files,
					"errors": errs,
				})
			} else {
				for _, e := range snap.Errors {
					out.Errorf("%v", e)
				}
			}

			if !snap.Valid() {
				return fmt.Errorf("validation failed: %d error(s)", len(snap.Errors))
			}
			out.Infof("Validation succeeded: %d rule(s) in %d file(s) are valid", len(snap.Rules), len(snap.Files))
			return nil
		},
	}
}
