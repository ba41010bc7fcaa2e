package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/release-engineering/retasc/internal/mq"
)

// NewRequestCmd создаёт команду request: публикация run.requested.
func NewRequestCmd(appFn func() (*App, error), outputFn func(*cobra.Command) *Output) *cobra.Command {
	var dryRun bool
	var today string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Ask running serve instances to start a run via RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFn()
			if err != nil {
				return err
			}
			if app.Config.RabbitMQURL == "" {
				return errors.New("rabbitmq_url is not configured")
			}
			if today != "" {
				if _, err := time.Parse(time.DateOnly, today); err != nil {
					return fmt.Errorf("invalid --today %q, expected YYYY-MM-DD", today)
				}
			}

			conn, err := mq.NewConnection(app.Config.RabbitMQURL, app.Logger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer conn.Close()

			if err := mq.SetupTopology(conn); err != nil {
				return err
			}

			publisher := mq.NewPublisher(conn, app.Logger)
			if err := publisher.PublishRunRequested(cmd.Context(), mq.RunRequestedPayload{DryRun: dryRun, Today: today}); err != nil {
				return err
			}

			outputFn(cmd).Infof("Run requested")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Request a dry run")
	cmd.Flags().StringVar(&today, "today", "", "Evaluate rules as of this date (YYYY-MM-DD)")

	return cmd
}
