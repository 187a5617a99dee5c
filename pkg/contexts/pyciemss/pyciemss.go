// Package pyciemss implements the pyciemss context: simulation and
// optimization of a configured model with the PyCIEMSS library.
package pyciemss

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
)

const (
	Slug          = "pyciemss"
	Language      = "python3"
	VarName       = "model"
	DefaultSchema = "petrinet"
	// Resource is the HMI collection holding model configurations.
	Resource = "model-configurations"
)

//go:embed procedures
var procedures embed.FS

// Kind registers the context.
func Kind() contexts.Kind {
	return contexts.Kind{
		Slug:        Slug,
		Language:    Language,
		Description: "Simulate and optimize a configured model with PyCIEMSS.",
		Procedures:  procedures,
		New:         New,
	}
}

// Context is a pyciemss instance.
type Context struct {
	*contexts.Base
	configID string
	schema   string
}

// New creates an instance that is not set up yet.
func New(env contexts.Env) (contexts.Context, error) {
	c := &Context{Base: contexts.NewBase(Slug, Language, env), schema: DefaultSchema}
	c.State().VarName = VarName

	c.Register("get_optimize", nil, c.codeCell("optimize"))
	c.Register("get_simulate", nil, c.codeCell("simulate"))
	c.Register("save_results", nil, c.saveResults)

	err := c.SetTools(
		agent.CodeCellTool("optimize_code", Language,
			"Write code that finds the smallest intervention on a parameter keeping an observable under a risk bound.",
			[]agent.Param{
				{Name: "intervened_parameter", Type: "string", Description: "Parameter the intervention changes."},
				{Name: "start_time", Type: "float", Description: "Time the intervention starts."},
				{Name: "initial_guess", Type: "float", Description: "Initial guess for the intervention value."},
				{Name: "lower_bound", Type: "float", Description: "Lowest allowed intervention value."},
				{Name: "upper_bound", Type: "float", Description: "Highest allowed intervention value."},
				{Name: "observable", Type: "string", Description: "Observable the risk bound applies to."},
				{Name: "risk_bound", Type: "float", Description: "Threshold the observable must stay under."},
				{Name: "end_time", Type: "float", Description: "End of the simulated horizon."},
				{Name: "num_samples", Type: "int", Description: "Samples per evaluation."},
			},
			c.CodeCell("optimize"),
		),
		agent.CodeCellTool("simulate_code", Language,
			"Write code that samples trajectories of the model.",
			[]agent.Param{
				{Name: "end_time", Type: "float", Description: "End of the simulated horizon."},
				{Name: "logging_step_size", Type: "float", Description: "Interval between logged time points."},
				{Name: "num_samples", Type: "int", Description: "Number of sampled trajectories."},
				{Name: "solver_method", Type: "string", Description: "ODE solver."},
			},
			c.CodeCell("simulate"),
		),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Setup imports pyciemss and, when config carries model_config_id, binds
// that configuration.
func (c *Context) Setup(ctx context.Context, config map[string]any, parent *domain.Header) error {
	var load string
	if id := contexts.String(config, "model_config_id", ""); id != "" {
		record, err := c.Fetch(ctx, c.Env().HMI, "HMI_SERVER_URL", Resource, id)
		if err != nil {
			return err
		}
		amr, ok := record["configuration"].(map[string]any)
		if !ok || len(amr) == 0 {
			return fmt.Errorf("%w: model config %q has no configuration", domain.ErrDocumentNotFound, id)
		}
		if header, ok := amr["header"].(map[string]any); ok {
			if s, ok := header["schema_name"].(string); ok && s != "" {
				c.schema = s
			}
		}

		load, err = c.Render(ctx, "load_config", map[string]any{"model": amr, "schema_name": c.schema})
		if err != nil {
			return err
		}
		c.configID = id
		c.State().Load(id, domain.Document(amr))
	}

	setup, err := c.Render(ctx, "setup", nil)
	if err != nil {
		return err
	}
	if load != "" {
		setup += "\n" + load
	}
	if err := c.Run(ctx, setup, parent); err != nil {
		return err
	}

	c.State().Config = config
	c.MarkReady()
	return nil
}

// AutoContext describes the session for the agent.
func (c *Context) AutoContext() string {
	var b strings.Builder
	b.WriteString("You are a scientist running simulations and optimizations with the PyCIEMSS library in a Python kernel.\n")
	if c.configID != "" {
		fmt.Fprintf(&b, "The model configuration %q (%s) is loaded in the variable `%s`.\n", c.configID, c.schema, VarName)
	} else {
		b.WriteString("No model configuration is loaded yet.\n")
	}
	return b.String()
}

// codeCell renders name from the message content and relays the code for
// the user to run.
func (c *Context) codeCell(name string) contexts.ActionFunc {
	return func(ctx context.Context, msg domain.Message) error {
		code, err := c.Render(ctx, name, msg.Content)
		if err != nil {
			return err
		}
		c.Send(ctx, "code_cell", map[string]any{
			"language": Language,
			"code":     strings.TrimSpace(code),
		}, &msg.Header)
		return nil
	}
}

func (c *Context) saveResults(ctx context.Context, msg domain.Message) error {
	eval, err := c.Evaluate(ctx, "save_results", nil, &msg.Header)
	if err != nil {
		return err
	}
	c.Send(ctx, "save_results_response", map[string]any{"results": eval.Return}, &msg.Header)
	return nil
}
