package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/release-engineering/retasc/internal/config"
)

// globalFlags — флаги, общие для всех команд.
type globalFlags struct {
	configPath string
	jsonOutput bool
	apiURL     string
}

// NewRootCmd создаёт корневую команду retasc.
func NewRootCmd(version string, logger *slog.Logger) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "retasc",
		Short:         "Release Task Schedule Curator: creates Jira issues and pipeline runs from release schedules",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the configuration file (default from $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", "http://localhost:8080", "API server URL (runs commands)")

	// замыкания вызываются после разбора флагов
	appFn := func() (*App, error) {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		return NewApp(cfg, logger), nil
	}
	outputFn := func(cmd *cobra.Command) *Output {
		return NewOutputTo(flags.jsonOutput, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}
	clientFn := func() *Client { return NewClient(flags.apiURL) }

	rootCmd.AddCommand(
		NewRunCmd(appFn, outputFn, false),
		NewRunCmd(appFn, outputFn, true),
		NewValidateCmd(appFn, outputFn),
		NewServeCmd(appFn),
		NewRequestCmd(appFn, outputFn),
		NewRunsCmd(clientFn, outputFn),
	)

	return rootCmd
}
