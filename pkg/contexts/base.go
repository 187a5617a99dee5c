package contexts

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// ActionFunc handles one inbound message. Required fields have already been
// checked when it runs.
type ActionFunc func(ctx context.Context, msg domain.Message) error

type action struct {
	required []string
	run      ActionFunc
}

// Base carries what every context shares. Concrete contexts embed it and add
// Setup, AutoContext and, optionally, PostExecute.
type Base struct {
	env      Env
	slug     string
	language string
	logger   *slog.Logger
	state    *domain.SessionState
	actions  map[string]action
	tools    *agent.Toolset
}

// NewBase creates the shared part of a context instance.
func NewBase(slug, language string, env Env) *Base {
	logger := env.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With("context", slug, "context_id", env.ID)
	return &Base{
		env:      env,
		slug:     slug,
		language: language,
		logger:   logger,
		state:    domain.NewSessionState(env.ID, slug),
		actions:  make(map[string]action),
	}
}

func (b *Base) ID() string { return b.env.ID }
func (b *Base) Slug() string { return b.slug }
func (b *Base) Language() string { return b.language }
func (b *Base) State() *domain.SessionState { return b.state }
func (b *Base) Logger() *slog.Logger { return b.logger }
func (b *Base) Env() Env { return b.env }

// Register declares a message action. required lists the content fields that
// must be present and non-null.
func (b *Base) Register(name string, required []string, fn ActionFunc) {
	b.actions[name] = action{required: required, run: fn}
}

// Actions returns the registered action names, sorted.
func (b *Base) Actions() []string {
	names := make([]string, 0, len(b.actions))
	for name := range b.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetTools builds the context's agent toolset.
func (b *Base) SetTools(tools ...agent.Tool) error {
	ts, err := agent.NewToolset(tools, agent.WithLogger(b.logger), agent.WithMetrics(b.env.Metrics))
	if err != nil {
		return fmt.Errorf("%s: %w", b.slug, err)
	}
	b.tools = ts
	return nil
}

// Tools returns the declared agent tools.
func (b *Base) Tools() []agent.Tool {
	if b.tools == nil {
		return nil
	}
	return b.tools.Tools()
}

// MarkReady records that setup completed.
func (b *Base) MarkReady() {
	b.state.Ready = true
	b.state.UpdatedAt = time.Now()
}

// PostExecute does nothing by default.
func (b *Base) PostExecute(ctx context.Context, parent *domain.Header) error {
	return nil
}

// Handle runs the action named by the message type. Any error is relayed as an
// error event tagged with the message header, then returned.
func (b *Base) Handle(ctx context.Context, msg domain.Message) error {
	name := msg.Action()
	parent := msg.Header

	evt := &domain.ActionEvent{
		Timestamp: time.Now(),
		Context:   b.slug,
		ContextID: b.env.ID,
		Action:    name,
	}
	if b.env.Hooks.OnActionStart != nil {
		b.env.Hooks.OnActionStart(ctx, evt)
	}

	err := b.dispatch(ctx, name, msg)

	evt.Err = err
	if b.env.Hooks.OnActionEnd != nil {
		b.env.Hooks.OnActionEnd(ctx, evt)
	}
	b.env.Metrics.ObserveAction(b.slug, name, err)

	if err != nil {
		b.logger.Warn("action failed", "action", name, "msg_id", parent.MsgID, "err", err)
		b.env.Relay.SendError(ctx, b.env.ID, err, &parent)
	}
	return err
}

func (b *Base) dispatch(ctx context.Context, name string, msg domain.Message) error {
	a, ok := b.actions[name]
	if !ok {
		return fmt.Errorf("%w: %s does not handle %q", domain.ErrUnknownAction, b.slug, name)
	}
	if !b.state.Ready {
		return fmt.Errorf("%w: %s", domain.ErrContextNotReady, b.env.ID)
	}
	if missing := Missing(msg.Content, a.required...); len(missing) > 0 {
		return &domain.MissingFieldError{Action: name, Fields: missing}
	}
	return a.run(ctx, msg)
}

// Invoke runs an agent tool.
func (b *Base) Invoke(ctx context.Context, tool string, args map[string]any) (*agent.Result, error) {
	if b.tools == nil {
		return nil, fmt.Errorf("%w: %s has no tools", domain.ErrUnknownTool, b.slug)
	}
	if !b.state.Ready {
		return nil, fmt.Errorf("%w: %s", domain.ErrContextNotReady, b.env.ID)
	}
	return b.tools.Invoke(ctx, tool, args)
}

// Render fills a template. The session variable name is supplied as var_name
// unless values already carry one.
func (b *Base) Render(ctx context.Context, name string, values map[string]any) (string, error) {
	data := make(map[string]any, len(values)+1)
	if b.state.VarName != "" {
		data["var_name"] = b.state.VarName
	}
	maps.Copy(data, values)
	return b.env.Renderer.Render(ctx, name, data)
}

// Execute renders a template and runs it for its side effects.
func (b *Base) Execute(ctx context.Context, name string, values map[string]any, parent *domain.Header) error {
	code, err := b.Render(ctx, name, values)
	if err != nil {
		return err
	}
	return b.env.Interpreter.Execute(ctx, code, parent)
}

// Evaluate renders a template and returns the value it produces.
func (b *Base) Evaluate(ctx context.Context, name string, values map[string]any, parent *domain.Header) (*domain.Evaluation, error) {
	code, err := b.Render(ctx, name, values)
	if err != nil {
		return nil, err
	}
	return b.env.Interpreter.Evaluate(ctx, code, parent)
}

// Run submits already rendered code.
func (b *Base) Run(ctx context.Context, code string, parent *domain.Header) error {
	return b.env.Interpreter.Execute(ctx, code, parent)
}

// Send relays an event for this instance.
func (b *Base) Send(ctx context.Context, msgType string, content map[string]any, parent *domain.Header) {
	b.env.Relay.Send(ctx, b.env.ID, msgType, content, parent)
}

// Fetch retrieves a document from store. setting names the configuration key
// reported when the store is not configured.
func (b *Base) Fetch(ctx context.Context, store ports.DocumentStore, setting, kind, id string) (domain.Document, error) {
	if store == nil {
		return nil, &domain.ConfigurationError{Key: setting}
	}
	doc, err := store.Fetch(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", kind, id, err)
	}
	b.logger.Info("document fetched", "kind", kind, "id", id)
	return doc, nil
}

// Store returns store, or a ConfigurationError naming setting when it is nil.
func Store(store ports.DocumentStore, setting string) (ports.DocumentStore, error) {
	if store == nil {
		return nil, &domain.ConfigurationError{Key: setting}
	}
	return store, nil
}

// CodeCell returns a tool handler that renders template name with the tool
// arguments and hands back the code instead of running it.
func (b *Base) CodeCell(name string) agent.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		code, err := b.Render(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(code), nil
	}
}
