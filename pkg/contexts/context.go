package contexts

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// ProceduresDir is the directory, inside a Kind's Procedures filesystem, that
// holds the embedded templates.
const ProceduresDir = "procedures"

// Context is one live context instance.
type Context interface {
	ID() string
	Slug() string
	Language() string
	// AutoContext describes the context for the agent's system prompt.
	AutoContext() string
	Setup(ctx context.Context, config map[string]any, parent *domain.Header) error
	Handle(ctx context.Context, msg domain.Message) error
	Invoke(ctx context.Context, tool string, args map[string]any) (*agent.Result, error)
	PostExecute(ctx context.Context, parent *domain.Header) error
	Actions() []string
	Tools() []agent.Tool
	State() *domain.SessionState
}

// Renderer turns a named template and values into code.
type Renderer interface {
	Render(ctx context.Context, name string, values map[string]any) (string, error)
}

// Relay publishes events for a context instance.
type Relay interface {
	Send(ctx context.Context, contextID, msgType string, content map[string]any, parent *domain.Header)
	SendError(ctx context.Context, contextID string, err error, parent *domain.Header)
}

// Env holds the collaborators handed to a context instance.
type Env struct {
	ID          string
	Renderer    Renderer
	Interpreter ports.Interpreter
	Relay       Relay
	// Data is the data service (models, model configurations).
	Data ports.DocumentStore
	// HMI is the HMI server (datasets, model configurations).
	HMI ports.DocumentStore
	// Credentials are forwarded to code that fetches documents itself.
	Credentials ports.Credentials
	Hooks       domain.LifecycleHooks
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Factory builds a context instance.
type Factory func(env Env) (Context, error)

// Kind describes a registered context type.
type Kind struct {
	Slug        string
	Language    string
	Description string
	// Procedures holds the embedded templates under ProceduresDir.
	Procedures fs.FS
	New        Factory
}

// Templates loads the kind's embedded procedures.
func (k Kind) Templates() (*memory.Templates, error) {
	if k.Procedures == nil {
		return memory.NewTemplates(), nil
	}
	return memory.NewTemplatesFromFS(k.Procedures, ProceduresDir)
}

// Registry maps slugs to context kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates a registry holding kinds.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a kind. Slugs must be unique.
func (r *Registry) Register(k Kind) error {
	if k.Slug == "" {
		return fmt.Errorf("context kind has no slug")
	}
	if k.New == nil {
		return fmt.Errorf("context kind %s has no factory", k.Slug)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[k.Slug]; dup {
		return fmt.Errorf("context kind %s registered twice", k.Slug)
	}
	r.kinds[k.Slug] = k
	return nil
}

// Kind looks up a kind by slug.
func (r *Registry) Kind(slug string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[slug]
	return k, ok
}

// Kinds returns every registered kind, sorted by slug.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// New builds an instance of the kind registered under slug.
func (r *Registry) New(slug string, env Env) (Context, error) {
	k, ok := r.Kind(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContext, slug)
	}
	return k.New(env)
}
