package miramodel

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
)

// mutation is an action that renders the template of the same name, executes
// it and echoes the supplied fields.
type mutation struct {
	name     string
	required []string
	optional []string
}

var parameterFields = []string{"parameter_value", "parameter_units", "parameter_description"}

var mutations = []mutation{
	{name: "replace_template_name", required: []string{"old_name", "new_name"}},
	{name: "replace_state_name", required: []string{"template_name", "old_name", "new_name"}},
	{name: "add_template", required: []string{"subject", "outcome", "expr", "name"}},
	{
		name:     "add_natural_conversion_template",
		required: []string{"template_name", "subject_name", "outcome_name", "template_expression", "parameter_name"},
		optional: append([]string{"subject_initial_value", "outcome_initial_value"}, parameterFields...),
	},
	{
		name:     "add_natural_production_template",
		required: []string{"template_name", "outcome_name", "template_expression", "parameter_name"},
		optional: append([]string{"outcome_initial_value"}, parameterFields...),
	},
	{
		name:     "add_natural_degradation_template",
		required: []string{"template_name", "subject_name", "template_expression", "parameter_name"},
		optional: append([]string{"subject_initial_value"}, parameterFields...),
	},
	{
		name:     "add_controlled_conversion_template",
		required: []string{"template_name", "subject_name", "outcome_name", "controller_name", "template_expression", "parameter_name"},
		optional: append([]string{"subject_initial_value", "outcome_initial_value", "controller_initial_value"}, parameterFields...),
	},
	{
		name:     "add_controlled_production_template",
		required: []string{"template_name", "outcome_name", "controller_name", "template_expression", "parameter_name"},
		optional: append([]string{"outcome_initial_value", "controller_initial_value"}, parameterFields...),
	},
	{
		name:     "add_controlled_degradation_template",
		required: []string{"template_name", "subject_name", "controller_name", "template_expression", "parameter_name"},
		optional: append([]string{"subject_initial_value", "controller_initial_value"}, parameterFields...),
	},
	{name: "replace_ratelaw", required: []string{"template_name", "new_rate_law"}},
	{
		name:     "add_parameter",
		required: []string{"parameter_id"},
		optional: []string{"name", "description", "value", "distribution", "units_mathml"},
	},
	{
		name:     "stratify",
		required: []string{"key", "strata"},
		optional: []string{"structure", "directed", "cartesian_control", "modify_names"},
	},
}

func (c *Context) mutate(m mutation) contexts.ActionFunc {
	fields := append(append([]string{}, m.required...), m.optional...)
	return func(ctx context.Context, msg domain.Message) error {
		echo := contexts.Pick(msg.Content, fields...)

		values := make(map[string]any, len(echo)+1)
		for k, v := range echo {
			values[k] = v
		}
		if m.name == "stratify" {
			values["schema_name"] = c.schema
		}

		if err := c.Execute(ctx, m.name, values, &msg.Header); err != nil {
			return err
		}
		c.Send(ctx, m.name+"_response", echo, &msg.Header)
		return nil
	}
}
