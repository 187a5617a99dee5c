package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
)

// FailureHandler is called when the publisher rejects an event.
type FailureHandler func(err error, evt domain.Event)

// Relay stamps events and hands them to a Publisher.
type Relay struct {
	publisher ports.Publisher
	channel   string
	logger    *slog.Logger
	metrics   *observability.Metrics
	onFailure FailureHandler
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel sets the channel used for events that do not name one.
func WithChannel(channel string) Option {
	return func(r *Relay) {
		r.channel = channel
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithMetrics counts relayed events.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithFailureHandler replaces the default fatal failure handler.
func WithFailureHandler(h FailureHandler) Option {
	return func(r *Relay) {
		r.onFailure = h
	}
}

// New creates a Relay over publisher.
func New(publisher ports.Publisher, opts ...Option) *Relay {
	r := &Relay{
		publisher: publisher,
		channel:   domain.DefaultChannel,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.onFailure == nil {
		r.onFailure = r.exit
	}
	return r
}

// Publish delivers evt. Channel and Timestamp are filled in when empty.
func (r *Relay) Publish(ctx context.Context, evt domain.Event) {
	if evt.Channel == "" {
		evt.Channel = r.channel
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Content == nil {
		evt.Content = map[string]any{}
	}

	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.onFailure(err, evt)
		return
	}

	r.metrics.ObserveEvent(evt.Channel, evt.Type)
	r.logger.Debug("event relayed", "context_id", evt.ContextID, "msg_type", evt.Type, "msg_id", parentID(evt.Parent))
}

// Send builds and publishes an event of msgType for a context instance.
func (r *Relay) Send(ctx context.Context, contextID, msgType string, content map[string]any, parent *domain.Header) {
	r.Publish(ctx, domain.Event{
		Type:      msgType,
		ContextID: contextID,
		Content:   content,
		Parent:    parent,
	})
}

// SendError publishes an error event describing err.
func (r *Relay) SendError(ctx context.Context, contextID string, err error, parent *domain.Header) {
	r.Send(ctx, contextID, domain.EventTypeError, ErrorContent(err), parent)
}

func (r *Relay) exit(err error, evt domain.Event) {
	r.logger.Error("relay transport failed", "context_id", evt.ContextID, "msg_type", evt.Type, "err", err)
	os.Exit(1)
}

// ErrorContent renders err in the shape of a kernel error reply.
// Remote exceptions keep their original name, value and traceback.
func ErrorContent(err error) map[string]any {
	var remote *domain.RemoteEvaluationError
	if errors.As(err, &remote) {
		return map[string]any{
			"ename":     remote.Name,
			"evalue":    remote.Value,
			"traceback": stringsToAny(remote.Traceback),
		}
	}

	content := map[string]any{
		"ename":     errorName(err),
		"evalue":    err.Error(),
		"traceback": []any{},
	}
	var missing *domain.MissingFieldError
	if errors.As(err, &missing) {
		content["fields"] = stringsToAny(missing.Fields)
	}
	return content
}

func errorName(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingField):
		return "MissingField"
	case errors.Is(err, domain.ErrMissingSubstitution):
		return "MissingSubstitution"
	case errors.Is(err, domain.ErrInvalidParameter):
		return "InvalidParameter"
	case errors.Is(err, domain.ErrTemplateNotFound):
		return "TemplateNotFound"
	case errors.Is(err, domain.ErrDocumentNotFound):
		return "DocumentNotFound"
	case errors.Is(err, domain.ErrRemoteFetch):
		return "RemoteFetchError"
	case errors.Is(err, domain.ErrUnknownAction):
		return "UnknownAction"
	case errors.Is(err, domain.ErrContextNotReady):
		return "ContextNotReady"
	case errors.Is(err, domain.ErrUnknownContext):
		return "UnknownContext"
	case errors.Is(err, domain.ErrUnknownTool):
		return "UnknownTool"
	case errors.Is(err, domain.ErrSnapshotNotFound):
		return "SnapshotNotFound"
	case errors.Is(err, domain.ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, domain.ErrInterpreterClosed):
		return "InterpreterClosed"
	default:
		return "Error"
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func parentID(h *domain.Header) string {
	if h == nil {
		return ""
	}
	return h.MsgID
}
