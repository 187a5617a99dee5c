// Package kernel provides the ordered execute/evaluate proxy in front of a remote interpreter.
package kernel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/kernelctx/pkg/kernel"

// Proxy serializes calls to one interpreter session. Calls are issued one at a
// time so the interpreter sees them in the order the proxy accepted them.
type Proxy struct {
	mu      sync.Mutex
	interp  ports.Interpreter
	hooks   domain.LifecycleHooks
	metrics *observability.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	closed  bool
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHooks registers lifecycle hooks for every call.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(p *Proxy) {
		p.hooks = h
	}
}

// WithMetrics records call latency and outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Proxy) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Proxy) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// NewProxy wraps interp.
func NewProxy(interp ports.Interpreter, opts ...Option) *Proxy {
	p := &Proxy{
		interp: interp,
		logger: logging.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute submits code for its side effects.
func (p *Proxy) Execute(ctx context.Context, code string, parent *domain.Header) error {
	_, err := p.call(ctx, domain.CallExecute, code, parent)
	return err
}

// Evaluate submits code and returns the value of the return slot.
func (p *Proxy) Evaluate(ctx context.Context, code string, parent *domain.Header) (*domain.Evaluation, error) {
	return p.call(ctx, domain.CallEvaluate, code, parent)
}

// Close closes the underlying interpreter. Later calls fail with ErrInterpreterClosed.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.interp.Close()
}

func (p *Proxy) call(ctx context.Context, kind domain.CallKind, code string, parent *domain.Header) (*domain.Evaluation, error) {
	ctx, span := p.tracer.Start(ctx, "kernel."+string(kind),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kernel.call", string(kind)),
			attribute.Int("kernel.code_size", len(code)),
		),
	)
	defer span.End()
	if parent != nil {
		span.SetAttributes(attribute.String("kernel.parent_msg_id", parent.MsgID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domain.ErrInterpreterClosed
	}

	evt := &domain.CallEvent{Timestamp: time.Now(), Kind: kind, Parent: parent, Code: code}
	if p.hooks.OnCall != nil {
		p.hooks.OnCall(ctx, evt)
	}

	var (
		result *domain.Evaluation
		err    error
	)
	switch kind {
	case domain.CallEvaluate:
		result, err = p.interp.Evaluate(ctx, code, parent)
	default:
		err = p.interp.Execute(ctx, code, parent)
	}

	evt.Duration = time.Since(evt.Timestamp)
	evt.Err = err
	p.metrics.ObserveCall(string(kind), evt.Duration, err)
	if p.hooks.OnCallReturn != nil {
		p.hooks.OnCallReturn(ctx, evt)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if result == nil && kind == domain.CallEvaluate {
		result = &domain.Evaluation{}
	}
	return result, nil
}
