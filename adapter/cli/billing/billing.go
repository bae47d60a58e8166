// Package billing holds the billing subcommands.
package billing

import "github.com/spf13/cobra"

// Cmd is the billing command group.
var Cmd = &cobra.Command{
	Use:   "billing",
	Short: "Operate on billing events",
	Long:  `Replay and inspect Stripe billing events.`,
}

func init() {
	Cmd.AddCommand(webhookCmd)
}
