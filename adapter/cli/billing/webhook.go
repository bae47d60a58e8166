package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/carepath/adapter/cli"
	"github.com/felixgeelhaar/carepath/internal/billing/application"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/eventbus"
)

var webhookEventPath string

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Replay a Stripe event from a file",
	Long: `Run a saved Stripe event through the reconciliation handlers.

The event is trusted as-is: no signature is checked and the event ledger is
bypassed, so an event that was already processed runs again. Notifications
are printed instead of published.

Examples:
  carepath billing webhook --event ./evt_checkout.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookEventPath == "" {
			return errors.New("event path is required")
		}

		raw, err := os.ReadFile(filepath.Clean(webhookEventPath))
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		event, err := application.ParseEvent(raw)
		if err != nil {
			return fmt.Errorf("invalid webhook payload: %w", err)
		}

		ctx := cmd.Context()
		container, err := cli.OpenContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		notifications := eventbus.NewMemoryPublisher()
		dispatcher := application.NewDispatcher(container.Handlers.Routes(), nil, notifications, container.Metrics, cli.Logger())
		result := dispatcher.Dispatch(ctx, event)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Event %s (%s): %d\n", event.ID, event.Type, result.StatusCode)
		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(body))
		for _, msg := range notifications.Messages() {
			fmt.Fprintf(out, "notification %s: %s\n", msg.RoutingKey, msg.Payload)
		}

		if !result.Succeeded() {
			return fmt.Errorf("event not reconciled: status %d", result.StatusCode)
		}
		return nil
	},
}

func init() {
	webhookCmd.Flags().StringVar(&webhookEventPath, "event", "", "path to webhook event JSON")
}
