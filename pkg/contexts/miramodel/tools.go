package miramodel

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/agent"
)

func (c *Context) tools() []agent.Tool {
	return []agent.Tool{
		agent.CodeCellTool("rename_template", Language,
			"Rename a template (transition) of the model. Returns code for the user to run.",
			[]agent.Param{
				{Name: "old_name", Type: "string", Description: "Current name of the template.", Required: true},
				{Name: "new_name", Type: "string", Description: "New name for the template.", Required: true},
			},
			c.CodeCell("replace_template_name"),
		),
		agent.CodeCellTool("replace_state_name", Language,
			"Rename a state (concept) of one template. Returns code for the user to run.",
			[]agent.Param{
				{Name: "template_name", Type: "string", Description: "Template that holds the state.", Required: true},
				{Name: "old_name", Type: "string", Description: "Current name of the state.", Required: true},
				{Name: "new_name", Type: "string", Description: "New name for the state.", Required: true},
			},
			c.CodeCell("replace_state_name"),
		),
		agent.CodeCellTool("add_template", Language,
			"Add a natural conversion from subject to outcome with a sympy rate law. Returns code for the user to run.",
			[]agent.Param{
				{Name: "subject", Type: "string", Description: "State the flow leaves.", Required: true},
				{Name: "outcome", Type: "string", Description: "State the flow enters.", Required: true},
				{Name: "expr", Type: "string", Description: "Rate law as a sympy expression.", Required: true},
				{Name: "name", Type: "string", Description: "Name of the new template.", Required: true},
			},
			c.CodeCell("add_template"),
		),
		agent.DirectTool("stratify_model",
			"Stratify the model over the given strata and return the resulting changes.",
			[]agent.Param{
				{Name: "key", Type: "string", Description: "Name of the stratification, e.g. age.", Required: true},
				{Name: "strata", Type: "[string]", Description: "Strata values, e.g. [young, old].", Required: true},
				{Name: "structure", Type: "?[[string]]", Description: "Allowed transitions between strata; null means all."},
				{Name: "directed", Type: "bool", Description: "Whether structure pairs are one-way.", Default: false},
				{Name: "cartesian_control", Type: "bool", Description: "Split control relations over every stratum.", Default: false},
				{Name: "modify_names", Type: "bool", Description: "Suffix names with the stratum.", Default: true},
			},
			c.stratifyTool,
		),
		agent.DirectTool("reset_model",
			"Discard every change and restore the model as loaded.",
			nil,
			c.resetTool,
		),
	}
}

func (c *Context) stratifyTool(ctx context.Context, args map[string]any) (any, error) {
	values := make(map[string]any, len(args)+1)
	for k, v := range args {
		values[k] = v
	}
	values["schema_name"] = c.schema

	if err := c.Execute(ctx, "stratify", values, nil); err != nil {
		return nil, err
	}
	if err := c.preview(ctx, nil); err != nil {
		return nil, err
	}
	return c.State().Changes(), nil
}

func (c *Context) resetTool(ctx context.Context, _ map[string]any) (any, error) {
	if err := c.Execute(ctx, "reset_model", nil, nil); err != nil {
		return nil, err
	}
	c.State().Reset()
	return "model restored to its loaded state", nil
}
