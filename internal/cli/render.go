package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aretw0/kernelctx/internal/presentation/tui"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/template"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Templater is the part of the Host the template commands need.
type Templater interface {
	Renderer(slug string) (*template.Renderer, error)
}

// ParseValues merges a YAML or JSON values file with key=value pairs.
// Pairs win over the file. Each value is read as a YAML scalar or flow
// collection, so 3 is a number and [a, b] a list.
func ParseValues(file string, pairs []string) (map[string]any, error) {
	values := make(map[string]any)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read values: %w", err)
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse values %s: %w", file, err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q, want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}
	return values, nil
}

// RenderTemplate fills template name of context slug with values.
func RenderTemplate(ctx context.Context, host Templater, slug, name string, values map[string]any) (*domain.CodeCell, error) {
	r, err := host.Renderer(slug)
	if err != nil {
		return nil, err
	}
	tpl, err := r.Template(ctx, name)
	if err != nil {
		return nil, err
	}
	code, err := r.Render(ctx, name, values)
	if err != nil {
		return nil, err
	}
	cell := domain.NewCodeCell(tpl.Language, code)
	return &cell, nil
}

// WriteCode prints a rendered cell. Terminals get syntax highlighting unless
// raw is set; pipes always get the plain code.
func WriteCode(w io.Writer, cell *domain.CodeCell, raw bool) error {
	if !raw && isTerminal(w) {
		out, err := tui.RenderCode(cell.Language, cell.Content)
		if err == nil {
			_, err = io.WriteString(w, out)
			return err
		}
	}
	content := cell.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	_, err := io.WriteString(w, content)
	return err
}

// WriteTemplates lists the templates of context slug with their parameters.
func WriteTemplates(ctx context.Context, w io.Writer, host Templater, slug string) error {
	r, err := host.Renderer(slug)
	if err != nil {
		return err
	}
	names, err := r.List(ctx)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		tpl, err := r.Template(ctx, name)
		if err != nil {
			return err
		}
		params := make([]string, 0, len(tpl.Params))
		for _, p := range tpl.Params {
			if p.HasDefault {
				params = append(params, p.Name+"?")
				continue
			}
			params = append(params, p.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, tpl.Language, strings.Join(params, ","))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
