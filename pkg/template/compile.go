package template

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
	"text/template/parse"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/schema"
)

// Compiled is a parsed template ready to be executed many times.
type Compiled struct {
	tpl      domain.Template
	parsed   *template.Template
	fields   []string
	schema   schema.Schema
	maxValue int
}

// Compile parses the template body and resolves declared parameter types.
func Compile(tpl domain.Template) (*Compiled, error) {
	parsed, err := template.New(tpl.Name).
		Funcs(Funcs()).
		Option("missingkey=error").
		Parse(tpl.Text)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", tpl.Name, err)
	}

	s := make(schema.Schema, len(tpl.Params))
	for _, p := range tpl.Params {
		typ, err := schema.ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("template %q: param %q: %w", tpl.Name, p.Name, err)
		}
		if p.HasDefault && p.Default == nil {
			typ = schema.Nullable(typ)
		}
		s[p.Name] = typ
	}

	return &Compiled{
		tpl:      tpl,
		parsed:   parsed,
		fields:   referencedFields(parsed),
		schema:   s,
		maxValue: DefaultMaxValueSize,
	}, nil
}

// Template returns the definition this was compiled from.
func (c *Compiled) Template() domain.Template {
	return c.tpl
}

// Placeholders returns every top-level field the body references, sorted.
func (c *Compiled) Placeholders() []string {
	return append([]string(nil), c.fields...)
}

// Execute renders the template with values. It never emits partial output:
// any unresolved placeholder or invalid value is an error.
func (c *Compiled) Execute(values map[string]any) (string, error) {
	data, err := c.Resolve(values)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := c.parsed.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template %q: %w", c.tpl.Name, err)
	}
	return buf.String(), nil
}

// Resolve merges defaults with the supplied values, sanitises them and checks
// that every placeholder is bound and every declared type is satisfied.
// Numbers are converted to their declared type, so a default and the same
// value decoded from JSON render identically.
func (c *Compiled) Resolve(values map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(c.tpl.Params)+len(values))
	for _, p := range c.tpl.Params {
		if p.HasDefault {
			data[p.Name] = p.Default
		}
	}
	for k, v := range values {
		clean, err := SanitizeValue(v, c.maxValue)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w: %s: %w", c.tpl.Name, domain.ErrInvalidParameter, k, err)
		}
		data[k] = clean
	}

	var missing []string
	for _, p := range c.tpl.Params {
		if _, ok := data[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	for _, f := range c.fields {
		if _, declared := c.tpl.Param(f); declared {
			continue
		}
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.MissingSubstitutionError{Template: c.tpl.Name, Params: missing}
	}

	schema.Normalize(c.schema, data)
	if err := schema.Validate(c.schema, data); err != nil {
		return nil, fmt.Errorf("template %q: %w: %w", c.tpl.Name, domain.ErrInvalidParameter, err)
	}
	return data, nil
}

// referencedFields collects the root-level fields used by the template body.
// Fields under range and with blocks are relative to a different dot and are
// only collected when written as $.field.
func referencedFields(t *template.Template) []string {
	seen := make(map[string]struct{})
	for _, tt := range t.Templates() {
		if tt.Tree != nil {
			walk(tt.Tree.Root, seen, true)
		}
	}

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func walk(node parse.Node, seen map[string]struct{}, rootDot bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, seen, rootDot)
		}
	case *parse.ActionNode:
		walk(n.Pipe, seen, rootDot)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walk(c, seen, rootDot)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walk(a, seen, rootDot)
		}
	case *parse.FieldNode:
		if rootDot && len(n.Ident) > 0 {
			seen[n.Ident[0]] = struct{}{}
		}
	case *parse.VariableNode:
		if len(n.Ident) > 1 && n.Ident[0] == "$" {
			seen[n.Ident[1]] = struct{}{}
		}
	case *parse.ChainNode:
		walk(n.Node, seen, rootDot)
	case *parse.IfNode:
		walk(n.Pipe, seen, rootDot)
		walk(n.List, seen, rootDot)
		walk(n.ElseList, seen, rootDot)
	case *parse.RangeNode:
		walk(n.Pipe, seen, rootDot)
		walk(n.List, seen, false)
		walk(n.ElseList, seen, rootDot)
	case *parse.WithNode:
		walk(n.Pipe, seen, rootDot)
		walk(n.List, seen, false)
		walk(n.ElseList, seen, rootDot)
	case *parse.TemplateNode:
		walk(n.Pipe, seen, rootDot)
	}
}
