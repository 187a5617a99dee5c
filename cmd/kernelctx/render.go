package main

import (
	"context"

	"github.com/aretw0/kernelctx/internal/cli"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <context> <template>",
	Short: "Render a code template without running it",
	Example: `  kernelctx render mimi plot_var --set model_name=m --set component_name=climate --set variable_name=T
  kernelctx render pyciemss simulate --values simulate.yaml --raw`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cmd, nil)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())

		file, _ := cmd.Flags().GetString("values")
		pairs, _ := cmd.Flags().GetStringArray("set")
		values, err := cli.ParseValues(file, pairs)
		if err != nil {
			return err
		}
		cell, err := cli.RenderTemplate(ctx, rt.Host, args[0], args[1], values)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")
		return cli.WriteCode(cmd.OutOrStdout(), cell, raw)
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates <context>",
	Short: "List the templates of a context kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, cmd, nil)
		if err != nil {
			return err
		}
		defer rt.Close(context.Background())
		return cli.WriteTemplates(ctx, cmd.OutOrStdout(), rt.Host, args[0])
	},
}

func init() {
	rootCmd.AddCommand(renderCmd, templatesCmd)
	renderCmd.Flags().StringArray("set", nil, "Template value as key=value (repeatable)")
	renderCmd.Flags().StringP("values", "f", "", "YAML or JSON file of template values")
	renderCmd.Flags().Bool("raw", false, "Print plain code even on a terminal")
}
