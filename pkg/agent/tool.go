package agent

import (
	"context"
	"fmt"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/schema"
)

// Kind tells how a tool's output reaches the user.
type Kind string

const (
	// KindDirect tools return their value to the agent loop.
	KindDirect Kind = "direct"
	// KindCodeCell tools return code for the user to run; the loop stops.
	KindCodeCell Kind = "code_cell"
)

// Param declares one tool argument. Type uses the schema type syntax
// ("string", "?float", "[string]", "object", "any").
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Handler runs a tool. For KindCodeCell tools the returned value must be the code string.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named operation with a described input schema.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
	Kind        Kind    `json:"kind"`
	// Language of the produced code cell; ignored for direct tools.
	Language string  `json:"language,omitempty"`
	Handler  Handler `json:"-"`
}

// Result is the outcome of a tool invocation.
type Result struct {
	Tool     string           `json:"tool"`
	Value    any              `json:"value,omitempty"`
	CodeCell *domain.CodeCell `json:"code_cell,omitempty"`
	Stop     bool             `json:"stop"`
}

// InputSchema returns the JSON Schema of the tool's arguments.
// Unknown arguments are rejected.
func (t Tool) InputSchema() (map[string]any, error) {
	properties := make(map[string]any, len(t.Params))
	required := make([]any, 0, len(t.Params))

	for _, p := range t.Params {
		typ, err := schema.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("tool %s: param %s: %w", t.Name, p.Name, err)
		}

		prop := map[string]any{}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if jt := schema.JSONType(typ); jt != "" {
			if _, nullable := typ.(*schema.NullableType); nullable {
				prop["type"] = []any{jt, "null"}
			} else {
				prop["type"] = jt
			}
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}, nil
}

// CodeCellTool declares a tool that renders code for review.
func CodeCellTool(name, language, description string, params []Param, h Handler) Tool {
	return Tool{Name: name, Description: description, Params: params, Kind: KindCodeCell, Language: language, Handler: h}
}

// DirectTool declares a tool whose value is returned to the agent loop.
func DirectTool(name, description string, params []Param, h Handler) Tool {
	return Tool{Name: name, Description: description, Params: params, Kind: KindDirect, Handler: h}
}
