package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// Renderer fills named templates from a TemplateSource.
// Parsed templates are cached and reparsed whenever the source returns a
// different definition for the same name.
type Renderer struct {
	source   ports.TemplateSource
	logger   *slog.Logger
	metrics  *observability.Metrics
	maxValue int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fingerprint string
	compiled    *Compiled
}

// Option configures the Renderer.
type Option func(*Renderer)

// WithLogger configures a logger for the Renderer.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// WithMetrics records one sample per render.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Renderer) {
		r.metrics = m
	}
}

// WithMaxValueSize bounds the size of a single string substitution.
func WithMaxValueSize(limit int) Option {
	return func(r *Renderer) {
		r.maxValue = limit
	}
}

// NewRenderer creates a Renderer over source.
func NewRenderer(source ports.TemplateSource, opts ...Option) *Renderer {
	r := &Renderer{
		source:   source,
		logger:   logging.NewNop(),
		maxValue: DefaultMaxValueSize,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the code string for template name filled with values.
func (r *Renderer) Render(ctx context.Context, name string, values map[string]any) (string, error) {
	compiled, err := r.compiled(ctx, name)
	if err != nil {
		r.metrics.ObserveRender(name, err)
		return "", err
	}

	code, err := compiled.Execute(values)
	r.metrics.ObserveRender(name, err)
	if err != nil {
		r.logger.Debug("render failed", "template", name, "err", err)
		return "", err
	}
	return code, nil
}

// Template returns the definition of a template.
func (r *Renderer) Template(ctx context.Context, name string) (domain.Template, error) {
	compiled, err := r.compiled(ctx, name)
	if err != nil {
		return domain.Template{}, err
	}
	return compiled.Template(), nil
}

// List returns the names of the available templates.
func (r *Renderer) List(ctx context.Context) ([]string, error) {
	return r.source.List(ctx)
}

// Invalidate drops a cached template. An empty name drops every entry.
func (r *Renderer) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		r.cache = make(map[string]cacheEntry)
		return
	}
	delete(r.cache, TrimName(name))
}

// Watch invalidates cached templates when a watchable source reports changes.
// The returned channel relays the changed names. It returns nil if the source
// does not support watching.
func (r *Renderer) Watch(ctx context.Context) (<-chan string, error) {
	w, ok := r.source.(ports.Watchable)
	if !ok {
		return nil, nil
	}
	events, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case name, ok := <-events:
				if !ok {
					return
				}
				r.Invalidate(name)
				r.logger.Info("template reloaded", "template", name)
				select {
				case out <- name:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Renderer) compiled(ctx context.Context, name string) (*Compiled, error) {
	tpl, err := r.source.Get(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load template %q: %w", name, err)
	}

	fp := fingerprint(tpl)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[name]; ok && entry.fingerprint == fp {
		return entry.compiled, nil
	}

	compiled, err := Compile(tpl)
	if err != nil {
		return nil, err
	}
	compiled.maxValue = r.maxValue
	r.cache[name] = cacheEntry{fingerprint: fp, compiled: compiled}
	return compiled, nil
}

func fingerprint(tpl domain.Template) string {
	return fmt.Sprintf("%s\x00%s\x00%#v", tpl.Language, tpl.Text, tpl.Params)
}
