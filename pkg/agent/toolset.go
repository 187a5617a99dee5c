package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

type entry struct {
	tool     Tool
	types    schema.Schema
	compiled *jsonschema.Schema
	doc      map[string]any
}

// Toolset is an immutable, validated set of tools.
type Toolset struct {
	tools   map[string]*entry
	order   []string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Toolset) {
		s.logger = logger
	}
}

// WithMetrics counts invocations per tool and outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Toolset) {
		s.metrics = m
	}
}

// NewToolset compiles the argument schema of every tool.
func NewToolset(tools []Tool, opts ...Option) (*Toolset, error) {
	s := &Toolset{
		tools:  make(map[string]*entry, len(tools)),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool without name")
		}
		if _, dup := s.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s: missing handler", t.Name)
		}

		doc, err := t.InputSchema()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		compiled, err := jsonschema.CompileString(t.Name+".schema.json", string(raw))
		if err != nil {
			return nil, fmt.Errorf("tool %s: compile schema: %w", t.Name, err)
		}

		types := make(schema.Schema, len(t.Params))
		for _, p := range t.Params {
			types[p.Name], _ = schema.ParseType(p.Type)
		}

		s.tools[t.Name] = &entry{tool: t, types: types, compiled: compiled, doc: doc}
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

// Tools returns the tools in declaration order.
func (s *Toolset) Tools() []Tool {
	out := make([]Tool, len(s.order))
	for i, name := range s.order {
		out[i] = s.tools[name].tool
	}
	return out
}

// Tool returns the named tool.
func (s *Toolset) Tool(name string) (Tool, bool) {
	e, ok := s.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Schema returns the JSON Schema of the named tool's arguments.
func (s *Toolset) Schema(name string) (map[string]any, bool) {
	e, ok := s.tools[name]
	if !ok {
		return nil, false
	}
	return e.doc, true
}

// Invoke validates args and runs the named tool. Missing optional arguments
// receive their declared default before the handler runs.
func (s *Toolset) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	e, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
	}

	res, err := s.invoke(ctx, e, args)
	s.metrics.ObserveTool(name, err)
	if err != nil {
		s.logger.Warn("tool failed", "tool", name, "err", err)
		return nil, err
	}
	s.logger.Debug("tool invoked", "tool", name, "stop", res.Stop)
	return res, nil
}

func (s *Toolset) invoke(ctx context.Context, e *entry, args map[string]any) (*Result, error) {
	if err := validate(e.compiled, args); err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrInvalidParameter, e.tool.Name, err)
	}

	resolved := make(map[string]any, len(e.tool.Params))
	maps.Copy(resolved, args)
	present := make([]string, 0, len(e.tool.Params))
	for _, p := range e.tool.Params {
		if _, ok := resolved[p.Name]; !ok && p.Default != nil {
			resolved[p.Name] = p.Default
		}
		if _, ok := resolved[p.Name]; ok {
			present = append(present, p.Name)
		}
	}
	if err := schema.ValidateFields(e.types, resolved, present...); err != nil {
		return nil, fmt.Errorf("%w: tool %s: %v", domain.ErrInvalidParameter, e.tool.Name, err)
	}

	value, err := e.tool.Handler(ctx, resolved)
	if err != nil {
		return nil, err
	}

	res := &Result{Tool: e.tool.Name}
	if e.tool.Kind != KindCodeCell {
		res.Value = value
		return res, nil
	}

	code, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("tool %s: code cell handler returned %T", e.tool.Name, value)
	}
	cell := domain.NewCodeCell(e.tool.Language, code)
	res.CodeCell = &cell
	res.Stop = true
	return res, nil
}

func validate(compiled *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return compiled.Validate(decoded)
}
