package kernelctx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	loamAdapter "github.com/aretw0/kernelctx/pkg/adapters/loam"
	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/kernel"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/aretw0/kernelctx/pkg/session"
	"github.com/aretw0/kernelctx/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// InterpreterFactory opens a new interpreter session for a kernel language.
type InterpreterFactory func(ctx context.Context, language string) (ports.Interpreter, error)

// Host owns the live context instances and wires every collaborator into
// them. Operations on one instance run one at a time; different instances
// proceed in parallel.
type Host struct {
	registry     *contexts.Registry
	sessions     *session.Manager
	relay        *relay.Relay
	interpreters InterpreterFactory
	data         ports.DocumentStore
	hmi          ports.DocumentStore
	credentials  ports.Credentials
	templatesDir string
	hooks        domain.LifecycleHooks
	metrics      *observability.Metrics
	tracer       trace.TracerProvider
	logger       *slog.Logger

	mu        sync.RWMutex
	instances map[string]*instance
	renderers map[string]*template.Renderer
}

type instance struct {
	context contexts.Context
	proxy   *kernel.Proxy
	// saved is the UpdatedAt of the last persisted snapshot.
	saved time.Time
}

// Option defines a functional option for configuring the Host.
type Option func(*Host)

// WithRegistry replaces the built-in context kinds.
func WithRegistry(r *contexts.Registry) Option {
	return func(h *Host) {
		h.registry = r
	}
}

// WithSessions sets the session manager that locks and persists instances.
func WithSessions(m *session.Manager) Option {
	return func(h *Host) {
		h.sessions = m
	}
}

// WithRelay sets where context events are sent.
func WithRelay(r *relay.Relay) Option {
	return func(h *Host) {
		h.relay = r
	}
}

// WithInterpreters sets how kernel sessions are opened.
func WithInterpreters(f InterpreterFactory) Option {
	return func(h *Host) {
		h.interpreters = f
	}
}

// WithDataStore sets the data service client.
func WithDataStore(s ports.DocumentStore) Option {
	return func(h *Host) {
		h.data = s
	}
}

// WithHMIStore sets the HMI server client.
func WithHMIStore(s ports.DocumentStore) Option {
	return func(h *Host) {
		h.hmi = s
	}
}

// WithCredentials sets the credentials contexts pass to remote services.
func WithCredentials(c ports.Credentials) Option {
	return func(h *Host) {
		h.credentials = c
	}
}

// WithTemplatesDir overrides embedded procedures with the files found in
// dir/<slug>. Missing subdirectories are ignored.
func WithTemplatesDir(dir string) Option {
	return func(h *Host) {
		h.templatesDir = dir
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(h *Host) {
		h.hooks = hooks
	}
}

// WithMetrics records renders, calls, actions and tools.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithTracerProvider traces interpreter calls with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Host) {
		h.tracer = tp
	}
}

// WithLogger sets a custom structured logger for the Host.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// New creates a Host. Without options it serves the built-in contexts, keeps
// snapshots in memory and relays events to an in-memory broker. Setup fails
// until an InterpreterFactory is configured.
func New(opts ...Option) *Host {
	h := &Host{
		instances: make(map[string]*instance),
		renderers: make(map[string]*template.Renderer),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	if h.registry == nil {
		h.registry = DefaultRegistry()
	}
	if h.sessions == nil {
		h.sessions = session.NewManager(memory.NewStore(), session.WithLogger(h.logger))
	}
	if h.relay == nil {
		h.relay = relay.New(relay.NewBroker(), relay.WithLogger(h.logger), relay.WithMetrics(h.metrics))
	}
	return h
}

// Contexts returns the registered context kinds.
func (h *Host) Contexts() []contexts.Kind {
	return h.registry.Kinds()
}

// Instances returns the ids of the live instances, sorted.
func (h *Host) Instances() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.instances))
	for id := range h.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Renderer returns the template renderer of a context kind.
func (h *Host) Renderer(slug string) (*template.Renderer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.renderers[slug]; ok {
		return r, nil
	}

	kind, ok := h.registry.Kind(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContext, slug)
	}
	embedded, err := kind.Templates()
	if err != nil {
		return nil, err
	}

	var layers template.Layered
	if h.templatesDir != "" {
		dir := filepath.Join(h.templatesDir, slug)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			src, err := loamAdapter.Open(dir)
			if err != nil {
				return nil, fmt.Errorf("templates for %s: %w", slug, err)
			}
			layers = append(layers, src)
			h.logger.Info("template overrides enabled", "context", slug, "dir", dir)
		}
	}
	layers = append(layers, embedded)

	r := template.NewRenderer(layers, template.WithLogger(h.logger), template.WithMetrics(h.metrics))
	h.renderers[slug] = r
	return r, nil
}

// WatchTemplates reloads overridden templates of every kind when their files
// change, until ctx is done.
func (h *Host) WatchTemplates(ctx context.Context) error {
	for _, kind := range h.registry.Kinds() {
		r, err := h.Renderer(kind.Slug)
		if err != nil {
			return err
		}
		changes, err := r.Watch(ctx)
		if err != nil {
			return fmt.Errorf("watch %s templates: %w", kind.Slug, err)
		}
		go func() {
			for range changes {
			}
		}()
	}
	return nil
}

// Setup creates an instance of the context slug, runs its setup and returns
// the new instance id. A failed setup leaves nothing behind.
func (h *Host) Setup(ctx context.Context, slug string, config map[string]any, parent *domain.Header) (string, error) {
	kind, ok := h.registry.Kind(slug)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownContext, slug)
	}
	renderer, err := h.Renderer(slug)
	if err != nil {
		return "", err
	}
	if h.interpreters == nil {
		return "", &domain.ConfigurationError{Key: "JUPYTER_URL"}
	}

	interp, err := h.interpreters(ctx, kind.Language)
	if err != nil {
		return "", fmt.Errorf("start %s interpreter: %w", kind.Language, err)
	}
	proxyOpts := []kernel.Option{
		kernel.WithHooks(h.hooks),
		kernel.WithMetrics(h.metrics),
		kernel.WithLogger(h.logger),
	}
	if h.tracer != nil {
		proxyOpts = append(proxyOpts, kernel.WithTracerProvider(h.tracer))
	}
	proxy := kernel.NewProxy(interp, proxyOpts...)

	id := uuid.NewString()
	c, err := kind.New(contexts.Env{
		ID:          id,
		Renderer:    renderer,
		Interpreter: proxy,
		Relay:       h.relay,
		Data:        h.data,
		HMI:         h.hmi,
		Credentials: h.credentials,
		Hooks:       h.hooks,
		Metrics:     h.metrics,
		Logger:      h.logger,
	})
	if err != nil {
		h.closeProxy(id, proxy)
		return "", err
	}

	err = h.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		if err := c.Setup(ctx, config, parent); err != nil {
			return err
		}
		return h.sessions.Store().Save(ctx, c.State())
	})
	if err != nil {
		h.closeProxy(id, proxy)
		h.logger.Warn("context setup failed", "context", slug, "err", err)
		return "", err
	}

	h.mu.Lock()
	h.instances[id] = &instance{context: c, proxy: proxy, saved: c.State().UpdatedAt}
	h.mu.Unlock()

	h.logger.Info("context ready", "context", slug, "context_id", id)
	h.relay.Send(ctx, id, "context_setup_response", map[string]any{
		"context":    slug,
		"context_id": id,
		"language":   kind.Language,
		"actions":    c.Actions(),
	}, parent)
	return id, nil
}

// Dispatch hands an inbound message to the instance's action handler.
func (h *Host) Dispatch(ctx context.Context, id string, msg domain.Message) error {
	return h.with(ctx, id, func(ctx context.Context, c contexts.Context) error {
		return c.Handle(ctx, msg)
	})
}

// InvokeTool runs one agent tool of the instance.
func (h *Host) InvokeTool(ctx context.Context, id, tool string, args map[string]any) (*agent.Result, error) {
	var res *agent.Result
	err := h.with(ctx, id, func(ctx context.Context, c contexts.Context) error {
		var err error
		res, err = c.Invoke(ctx, tool, args)
		return err
	})
	return res, err
}

// PostExecute runs the instance's hook for code the user executed directly.
func (h *Host) PostExecute(ctx context.Context, id string, parent *domain.Header) error {
	return h.with(ctx, id, func(ctx context.Context, c contexts.Context) error {
		return c.PostExecute(ctx, parent)
	})
}

// Tools returns the agent tools of the instance.
func (h *Host) Tools(id string) ([]agent.Tool, error) {
	inst, err := h.instance(id)
	if err != nil {
		return nil, err
	}
	return inst.context.Tools(), nil
}

// AutoContext returns the agent description of the instance.
func (h *Host) AutoContext(ctx context.Context, id string) (string, error) {
	var text string
	err := h.with(ctx, id, func(ctx context.Context, c contexts.Context) error {
		text = c.AutoContext()
		return nil
	})
	return text, err
}

// Snapshot returns the last persisted state of an instance.
func (h *Host) Snapshot(ctx context.Context, id string) (*domain.SessionState, error) {
	return h.sessions.Store().Load(ctx, id)
}

// Close stops an instance, shuts down its interpreter and forgets its snapshot.
func (h *Host) Close(ctx context.Context, id string) error {
	h.mu.Lock()
	inst, ok := h.instances[id]
	delete(h.instances, id)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownContext, id)
	}

	return h.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		if err := inst.proxy.Close(); err != nil {
			h.logger.Warn("interpreter close failed", "context_id", id, "err", err)
		}
		h.logger.Info("context closed", "context", inst.context.Slug(), "context_id", id)
		return h.sessions.Store().Delete(ctx, id)
	})
}

// Shutdown closes every interpreter. Snapshots are kept.
func (h *Host) Shutdown(ctx context.Context) {
	h.mu.Lock()
	instances := h.instances
	h.instances = make(map[string]*instance)
	h.mu.Unlock()

	for id, inst := range instances {
		_ = h.sessions.WithLock(ctx, id, func(ctx context.Context) error {
			h.closeProxy(id, inst.proxy)
			return nil
		})
	}
}

func (h *Host) instance(id string) (*instance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContext, id)
	}
	return inst, nil
}

// with runs fn under the instance lock and persists the state if fn changed it.
func (h *Host) with(ctx context.Context, id string, fn func(ctx context.Context, c contexts.Context) error) error {
	inst, err := h.instance(id)
	if err != nil {
		return err
	}
	return h.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		err := fn(ctx, inst.context)
		perr := h.persist(ctx, inst)
		if err != nil {
			if perr != nil {
				h.logger.Error("snapshot save failed", "context_id", id, "err", perr)
			}
			return err
		}
		return perr
	})
}

func (h *Host) persist(ctx context.Context, inst *instance) error {
	state := inst.context.State()
	if !state.UpdatedAt.After(inst.saved) {
		return nil
	}
	if err := h.sessions.Store().Save(ctx, state); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	inst.saved = state.UpdatedAt
	return nil
}

func (h *Host) closeProxy(id string, proxy *kernel.Proxy) {
	if err := proxy.Close(); err != nil {
		h.logger.Warn("interpreter close failed", "context_id", id, "err", err)
	}
}
