package main

import (
	"context"

	"github.com/aretw0/kernelctx/internal/cli"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the events relayed through Redis as JSON lines",
	Long: `Subscribes to the Redis event channel shared by every kernelctx server
and prints each relayed event as one JSON object per line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		rt, err := buildRuntime(sigCtx, cmd, nil)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		contextID, _ := cmd.Flags().GetString("context-id")
		return cli.TailEvents(sigCtx, rt, cli.NewEventPrinter(cmd.OutOrStdout(), contextID))
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("context-id", "", "Only print the events of this context instance")
}
