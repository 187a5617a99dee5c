package main

import (
	"context"
	"os"

	"github.com/aretw0/kernelctx"
	"github.com/aretw0/kernelctx/internal/cli"
	"github.com/aretw0/kernelctx/internal/config"
	"github.com/aretw0/kernelctx/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the context host behind a JSON API over HTTP, with an event
stream on /events, Prometheus metrics on /metrics and the OpenAPI document on
/openapi.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		rt, err := buildRuntime(sigCtx, cmd, func(cfg *config.Config) {
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr, _ = cmd.Flags().GetString("addr")
			}
			if cmd.Flags().Changed("watch") {
				cfg.Templates.Watch, _ = cmd.Flags().GetBool("watch")
			}
		})
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(os.Stderr, kernelctx.Version)
		}
		err = cli.ListenAndServe(sigCtx, rt)
		if sig := sigCtx.Signal(); sig != nil {
			rt.Logger.Info("server stopped", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
	serveCmd.Flags().BoolP("watch", "w", false, "Reload overridden templates when their files change")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
