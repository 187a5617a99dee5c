// Package miramodel implements the mira_model_edit context: editing an
// epidemiological model held as a MIRA template model in a Python kernel.
package miramodel

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
)

const (
	Slug     = "mira_model_edit"
	Language = "python3"
	// VarName is the kernel variable the model is bound to.
	VarName = "model"
	// DefaultSchema is assumed when the model header names no schema.
	DefaultSchema = "petrinet"
)

//go:embed procedures
var procedures embed.FS

// Kind registers the context.
func Kind() contexts.Kind {
	return contexts.Kind{
		Slug:        Slug,
		Language:    Language,
		Description: "Edit a MIRA epidemiological model: rename, add templates and parameters, stratify.",
		Procedures:  procedures,
		New:         New,
	}
}

// Context is a mira_model_edit instance.
type Context struct {
	*contexts.Base
	schema string
}

// New creates an instance that is not set up yet.
func New(env contexts.Env) (contexts.Context, error) {
	c := &Context{
		Base:   contexts.NewBase(Slug, Language, env),
		schema: DefaultSchema,
	}
	c.State().VarName = VarName

	for _, m := range mutations {
		c.Register(m.name, m.required, c.mutate(m))
	}
	c.Register("reset_model", nil, c.resetModel)
	c.Register("model_preview_request", nil, func(ctx context.Context, msg domain.Message) error {
		return c.preview(ctx, &msg.Header)
	})

	if err := c.SetTools(c.tools()...); err != nil {
		return nil, err
	}
	return c, nil
}

// Setup loads the model. Config is either {id, type} to fetch it from the data
// service, or {model_url} to let the kernel download it.
func (c *Context) Setup(ctx context.Context, config map[string]any, parent *domain.Header) error {
	state := c.State()
	state.Config = config

	if url := contexts.String(config, "model_url", ""); url != "" {
		values := map[string]any{"model_url": url}
		if creds := c.Env().Credentials; creds != nil {
			if user, pass, ok := creds.BasicAuth(); ok {
				values["auth"] = []any{user, pass}
			}
		}
		if err := c.bind(ctx, "load_mira_model", values, parent); err != nil {
			return err
		}
		state.DocumentID = url
	} else {
		id := contexts.String(config, "id", "")
		if id == "" {
			return &domain.MissingFieldError{Action: "setup", Fields: []string{"id"}}
		}
		itemType := contexts.String(config, "type", "model")
		doc, err := c.Fetch(ctx, c.Env().Data, "DATA_SERVICE_URL", contexts.Plural(itemType), id)
		if err != nil {
			return err
		}
		amr := doc
		if itemType != "model" {
			if inner, ok := doc["configuration"].(map[string]any); ok {
				amr = inner
			}
		}
		state.Load(id, amr)
		c.schema = schemaName(amr)
		if err := c.bind(ctx, "load_model", map[string]any{"model": map[string]any(amr)}, parent); err != nil {
			return err
		}
	}

	c.MarkReady()
	return c.preview(ctx, parent)
}

// bind runs setup and a loader as a single submission.
func (c *Context) bind(ctx context.Context, loader string, values map[string]any, parent *domain.Header) error {
	setup, err := c.Render(ctx, "setup", nil)
	if err != nil {
		return err
	}
	load, err := c.Render(ctx, loader, values)
	if err != nil {
		return err
	}
	return c.Run(ctx, setup+"\n"+load, parent)
}

// PostExecute refreshes the preview after user code ran.
func (c *Context) PostExecute(ctx context.Context, parent *domain.Header) error {
	if !c.State().Ready {
		return nil
	}
	return c.preview(ctx, parent)
}

// AutoContext describes the loaded model for the agent.
func (c *Context) AutoContext() string {
	var b strings.Builder
	b.WriteString("You are a scientific modeler whose goal is to use the MIRA modeling library to edit a model.\n")
	fmt.Fprintf(&b, "The model is a %s held in the variable `%s` of a Python kernel.\n", c.schema, VarName)
	if name := modelName(c.State().Document); name != "" {
		fmt.Fprintf(&b, "The model is named %q.\n", name)
	}
	b.WriteString("Only use the tools you were given; do not guess template or state names.\n")
	return b.String()
}

// preview evaluates the working model, caches it and relays it with the
// changes made since load.
func (c *Context) preview(ctx context.Context, parent *domain.Header) error {
	eval, err := c.Evaluate(ctx, "model_preview", nil, parent)
	if err != nil {
		return err
	}
	doc := eval.ReturnMap()
	if doc == nil {
		return fmt.Errorf("model_preview returned %T, want a document", eval.Return)
	}

	state := c.State()
	if state.Original == nil {
		state.Load(state.DocumentID, domain.Document(doc))
	} else {
		state.Replace(domain.Document(doc))
	}
	c.Send(ctx, "model_preview", map[string]any{
		"model": doc,
		"diff":  state.Changes(),
	}, parent)
	return nil
}

func (c *Context) resetModel(ctx context.Context, msg domain.Message) error {
	if err := c.Execute(ctx, "reset_model", nil, &msg.Header); err != nil {
		return err
	}
	c.State().Reset()
	c.Send(ctx, "reset_model_response", map[string]any{"document_id": c.State().DocumentID}, &msg.Header)
	return nil
}

func schemaName(doc domain.Document) string {
	if header, ok := doc["header"].(map[string]any); ok {
		if s, ok := header["schema_name"].(string); ok && s != "" {
			return s
		}
	}
	return DefaultSchema
}

func modelName(doc domain.Document) string {
	if header, ok := doc["header"].(map[string]any); ok {
		if s, ok := header["name"].(string); ok {
			return s
		}
	}
	if s, ok := doc["name"].(string); ok {
		return s
	}
	return ""
}
