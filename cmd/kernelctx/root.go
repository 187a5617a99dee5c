package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/kernelctx/internal/cli"
	"github.com/aretw0/kernelctx/internal/config"
	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kernelctx",
	Short: "kernelctx hosts notebook assistant contexts",
	Long: `kernelctx hosts domain contexts for an LLM-driven notebook assistant.
Each context renders code templates, runs them in a Jupyter kernel and relays
structured responses over HTTP, Server-Sent Events or MCP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("templates", "", "Directory overriding the embedded templates, one subdirectory per context")
}

// loadConfig reads the configuration file and environment, then applies the
// persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("templates") {
		cfg.Templates.Dir, _ = cmd.Flags().GetString("templates")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// buildRuntime loads the configuration and builds the Host. The caller closes it.
func buildRuntime(ctx context.Context, cmd *cobra.Command, configure func(*config.Config)) (*cli.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(cfg)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return cli.Build(ctx, cfg, logger)
}
