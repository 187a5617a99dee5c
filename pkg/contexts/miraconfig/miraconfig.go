// Package miraconfig implements the mira_config_edit context: editing the
// parameter and initial values of a stored model configuration.
package miraconfig

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
	Slug     = "mira_config_edit"
	Language = "python3"
	VarName  = "model_config"
	// Resource is the data service collection holding configurations.
	Resource = "model_configurations"
)

//go:embed procedures
var procedures embed.FS

// Kind registers the context.
func Kind() contexts.Kind {
	return contexts.Kind{
		Slug:        Slug,
		Language:    Language,
		Description: "Edit the parameter and initial values of a model configuration and save it back.",
		Procedures:  procedures,
		New:         New,
	}
}

// Context is a mira_config_edit instance.
type Context struct {
	*contexts.Base
	// record is the configuration as fetched, used as the base of saved copies.
	record domain.Document
}

// New creates an instance that is not set up yet.
func New(env contexts.Env) (contexts.Context, error) {
	c := &Context{Base: contexts.NewBase(Slug, Language, env)}
	c.State().VarName = VarName

	c.Register("model_configuration_preview_request", nil, func(ctx context.Context, msg domain.Message) error {
		return c.preview(ctx, &msg.Header)
	})
	c.Register("save_model_config_request", nil, c.save)

	err := c.SetTools(
		agent.CodeCellTool("update_parameter_value", Language,
			"Set the value of one parameter of the configuration. Returns code for the user to run.",
			[]agent.Param{
				{Name: "parameter_id", Type: "string", Description: "Parameter to change.", Required: true},
				{Name: "value", Type: "float", Description: "New value.", Required: true},
			},
			c.CodeCell("update_parameter_value"),
		),
		agent.CodeCellTool("update_initial_value", Language,
			"Set the initial value of one state. Returns code for the user to run.",
			[]agent.Param{
				{Name: "target", Type: "string", Description: "State whose initial value changes.", Required: true},
				{Name: "value", Type: "float", Description: "New initial value.", Required: true},
			},
			c.CodeCell("update_initial_value"),
		),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Setup fetches the configuration {id} and binds its AMR.
func (c *Context) Setup(ctx context.Context, config map[string]any, parent *domain.Header) error {
	id := contexts.String(config, "id", "")
	if id == "" {
		return &domain.MissingFieldError{Action: "setup", Fields: []string{"id"}}
	}

	record, err := c.Fetch(ctx, c.Env().Data, "DATA_SERVICE_URL", Resource, id)
	if err != nil {
		return err
	}
	amr, ok := record["configuration"].(map[string]any)
	if !ok || len(amr) == 0 {
		return fmt.Errorf("%w: model config %q has no configuration", domain.ErrDocumentNotFound, id)
	}

	state := c.State()
	state.Config = config
	state.Load(id, domain.Document(amr))
	c.record = record

	setup, err := c.Render(ctx, "setup", nil)
	if err != nil {
		return err
	}
	load, err := c.Render(ctx, "load_model", map[string]any{"model": amr})
	if err != nil {
		return err
	}
	if err := c.Run(ctx, setup+"\n"+load, parent); err != nil {
		return err
	}

	c.MarkReady()
	return c.preview(ctx, parent)
}

// AutoContext describes the configuration for the agent.
func (c *Context) AutoContext() string {
	var b strings.Builder
	b.WriteString("You are a scientific modeler editing a model configuration with the MIRA library.\n")
	fmt.Fprintf(&b, "The configured model is held in the variable `%s` of a Python kernel.\n", VarName)
	if name, ok := c.record["name"].(string); ok && name != "" {
		fmt.Fprintf(&b, "The configuration is named %q.\n", name)
	}
	return b.String()
}

func (c *Context) preview(ctx context.Context, parent *domain.Header) error {
	eval, err := c.Evaluate(ctx, "model_preview", nil, parent)
	if err != nil {
		return err
	}
	doc := eval.ReturnMap()
	if doc == nil {
		return fmt.Errorf("model_preview returned %T, want a document", eval.Return)
	}
	c.State().Replace(domain.Document(doc))
	c.Send(ctx, "model_configuration_preview", map[string]any{
		"configuration": doc,
		"diff":          c.State().Changes(),
	}, parent)
	return nil
}

// save stores the edited configuration as a new record. Content may carry
// name and description for the copy.
func (c *Context) save(ctx context.Context, msg domain.Message) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := contexts.Decode(msg.Content, &req); err != nil {
		return err
	}

	eval, err := c.Evaluate(ctx, "model_config_json", nil, &msg.Header)
	if err != nil {
		return err
	}
	amr := eval.ReturnMap()
	if amr == nil {
		return fmt.Errorf("model_config_json returned %T, want a document", eval.Return)
	}

	record := c.record.Clone()
	delete(record, "id")
	record["configuration"] = amr
	if req.Name != "" {
		record["name"] = req.Name
	}
	if req.Description != "" {
		record["description"] = req.Description
	}

	store, err := contexts.Store(c.Env().Data, "DATA_SERVICE_URL")
	if err != nil {
		return err
	}
	created, err := store.Create(ctx, Resource, record)
	if err != nil {
		return err
	}

	c.Send(ctx, "save_model_config_response", map[string]any{
		"model_configuration_id": created["id"],
		"created":                map[string]any(created),
	}, &msg.Header)
	return nil
}

