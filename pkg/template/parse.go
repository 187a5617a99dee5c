package template

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is assumed when a template does not declare one.
const DefaultLanguage = "python3"

var delimiter = []byte("---")

// Parse reads a template resource: optional frontmatter followed by the body.
// If the frontmatter has no name, it is derived from fallbackName (extension stripped).
func Parse(fallbackName string, raw []byte) (domain.Template, error) {
	front, body, err := splitFrontmatter(raw)
	if err != nil {
		return domain.Template{}, fmt.Errorf("template %q: %w", fallbackName, err)
	}

	meta := map[string]any{}
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, &meta); err != nil {
			return domain.Template{}, fmt.Errorf("template %q: invalid frontmatter: %w", fallbackName, err)
		}
	}

	tpl, err := FromMetadata(meta, string(body))
	if err != nil {
		return domain.Template{}, fmt.Errorf("template %q: %w", fallbackName, err)
	}
	if tpl.Name == "" {
		tpl.Name = TrimName(fallbackName)
	}
	return tpl, nil
}

// FromMetadata builds a template from already-decoded frontmatter and a body.
func FromMetadata(meta map[string]any, body string) (domain.Template, error) {
	var tpl domain.Template
	if err := mapstructure.Decode(meta, &tpl); err != nil {
		return domain.Template{}, fmt.Errorf("invalid metadata: %w", err)
	}

	rawParams, _ := meta["params"].([]any)
	params, err := DecodeParams(rawParams)
	if err != nil {
		return domain.Template{}, err
	}
	tpl.Params = params
	tpl.Text = body
	if tpl.Language == "" {
		tpl.Language = DefaultLanguage
	}
	return tpl, nil
}

// DecodeParams decodes a frontmatter params list. A param whose mapping has a
// "default" key has a declared default, even when the value is null.
func DecodeParams(raw []any) ([]domain.TemplateParam, error) {
	params := make([]domain.TemplateParam, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, item := range raw {
		m, ok := toStringMap(item)
		if !ok {
			return nil, fmt.Errorf("param %d: expected mapping, got %T", i, item)
		}

		var p domain.TemplateParam
		if err := mapstructure.Decode(m, &p); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("param %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("param %q declared twice", p.Name)
		}
		seen[p.Name] = true

		_, p.HasDefault = m["default"]
		params = append(params, p)
	}
	return params, nil
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func splitFrontmatter(raw []byte) ([]byte, []byte, error) {
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(raw, append(append([]byte{}, delimiter...), '\n')) {
		return nil, raw, nil
	}

	rest := raw[len(delimiter)+1:]
	if bytes.HasPrefix(rest, append(append([]byte{}, delimiter...), '\n')) {
		return nil, rest[len(delimiter)+1:], nil
	}
	end := bytes.Index(rest, append([]byte{'\n'}, delimiter...))
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated frontmatter")
	}

	front := rest[:end]
	body := rest[end+1+len(delimiter):]
	body = bytes.TrimPrefix(body, []byte("\n"))
	return front, body, nil
}

// TrimName strips directories and the extension from a resource name.
func TrimName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
