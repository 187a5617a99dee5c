package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/kernelctx"
	"github.com/spf13/cobra"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List the available context kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONTEXT\tLANGUAGE\tDESCRIPTION")
		for _, kind := range kernelctx.Kinds() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", kind.Slug, kind.Language, kind.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(contextsCmd)
}
