package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/kernelctx"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of kernelctx",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kernelctx version %s\n", strings.TrimSpace(kernelctx.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
