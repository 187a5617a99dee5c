package memory

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/template"
)

// Templates implements ports.TemplateSource using an in-memory map.
// Safe for concurrent use.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]domain.Template
}

// NewTemplates creates a source holding the given templates.
func NewTemplates(templates ...domain.Template) *Templates {
	t := &Templates{templates: make(map[string]domain.Template, len(templates))}
	for _, tpl := range templates {
		t.templates[tpl.Name] = tpl
	}
	return t
}

// NewTemplatesFromFS parses every .md and .tmpl file under dir in fsys.
// It is meant for procedures embedded with go:embed.
func NewTemplatesFromFS(fsys fs.FS, dir string) (*Templates, error) {
	t := NewTemplates()
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".md", ".tmpl":
		default:
			return nil
		}

		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		tpl, err := template.Parse(p, raw)
		if err != nil {
			return err
		}
		tpl.Source = p
		if existing, dup := t.templates[tpl.Name]; dup {
			return fmt.Errorf("collision detected: template %q is defined in both %q and %q", tpl.Name, existing.Source, p)
		}
		t.templates[tpl.Name] = tpl
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", dir, err)
	}
	return t, nil
}

// Put adds or replaces a template.
func (t *Templates) Put(tpl domain.Template) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[tpl.Name] = tpl
}

// Get retrieves a template by name.
func (t *Templates) Get(ctx context.Context, name string) (domain.Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tpl, ok := t.templates[strings.TrimSpace(name)]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
	}
	return tpl, nil
}

// List returns all template names in deterministic order.
func (t *Templates) List(ctx context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.templates))
	for name := range t.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
