package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/aretw0/kernelctx/pkg/template"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

//go:embed openapi.yaml
var rawSpec []byte

// Host is the part of kernelctx.Host the API serves.
type Host interface {
	Contexts() []contexts.Kind
	Setup(ctx context.Context, slug string, config map[string]any, parent *domain.Header) (string, error)
	Dispatch(ctx context.Context, id string, msg domain.Message) error
	InvokeTool(ctx context.Context, id, tool string, args map[string]any) (*agent.Result, error)
	PostExecute(ctx context.Context, id string, parent *domain.Header) error
	Tools(id string) ([]agent.Tool, error)
	Snapshot(ctx context.Context, id string) (*domain.SessionState, error)
	Close(ctx context.Context, id string) error
	Renderer(slug string) (*template.Renderer, error)
}

// Subscriber is the source of the SSE event stream.
type Subscriber interface {
	Subscribe(contextID string) (<-chan domain.Event, func())
}

// Server serves a Host over HTTP.
type Server struct {
	host    Host
	events  Subscriber
	metrics *observability.Metrics
	tracer  trace.TracerProvider
	origins []string
	logger  *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithEvents enables GET /events on the given subscriber.
func WithEvents(s Subscriber) Option {
	return func(srv *Server) {
		srv.events = s
	}
}

// WithMetrics serves m on GET /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(srv *Server) {
		srv.metrics = m
	}
}

// WithTracerProvider traces every request.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(srv *Server) {
		srv.tracer = tp
	}
}

// WithAllowedOrigins restricts CORS. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) {
		srv.origins = origins
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// NewHandler creates the HTTP handler for host.
func NewHandler(host Host, opts ...Option) (http.Handler, error) {
	s := &Server{
		host:    host,
		origins: []string{"*"},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	validate, err := validator(rawSpec)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	if s.tracer != nil {
		r.Use(telemetry(s.tracer))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent"},
		MaxAge:         300,
	}))

	r.Get("/health", s.getHealth)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(rawSpec)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(validate)

		r.Route("/contexts", func(r chi.Router) {
			r.Get("/", s.listContexts)
			r.Post("/", s.setupContext)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getContext)
				r.Delete("/", s.closeContext)
				r.Post("/messages", s.sendMessage)
				r.Get("/tools", s.listTools)
				r.Post("/tools/{tool}", s.invokeTool)
				r.Post("/post-execute", s.postExecute)
			})
		})
		r.Get("/templates", s.listTemplates)
		r.Post("/templates/{name}/render", s.renderTemplate)
		r.Get("/events", s.subscribeEvents)
	})

	return r, nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type kindView struct {
	Slug        string `json:"slug"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
}

func (s *Server) listContexts(w http.ResponseWriter, r *http.Request) {
	kinds := s.host.Contexts()
	out := make([]kindView, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindView{Slug: k.Slug, Language: k.Language, Description: k.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

type setupRequest struct {
	Context string         `json:"context"`
	Config  map[string]any `json:"config"`
	Parent  *domain.Header `json:"parent_header"`
}

func (s *Server) setupContext(w http.ResponseWriter, r *http.Request) {
	var body setupRequest
	if !s.decode(w, r, &body) {
		return
	}

	id, err := s.host.Setup(r.Context(), body.Context, body.Config, body.Parent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"context_id": id, "context": body.Context})
}

func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	state, err := s.host.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) closeContext(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if !s.decode(w, r, &msg) {
		return
	}
	if msg.Header.MsgID == "" {
		msg.Header.MsgID = uuid.NewString()
	}
	if msg.Content == nil {
		msg.Content = map[string]any{}
	}

	// Failures have already been relayed as error events.
	if err := s.host.Dispatch(r.Context(), chi.URLParam(r, "id"), msg); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg_id": msg.Header.MsgID})
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        agent.Kind     `json:"kind"`
	Language    string         `json:"language,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.host.Tools(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]toolView, 0, len(tools))
	for _, t := range tools {
		schema, err := t.InputSchema()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, toolView{Name: t.Name, Description: t.Description, Kind: t.Kind, Language: t.Language, InputSchema: schema})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) invokeTool(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if !s.decodeOptional(w, r, &args) {
		return
	}

	res, err := s.host.InvokeTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tool"), args)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) postExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Parent *domain.Header `json:"parent_header"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	if err := s.host.PostExecute(r.Context(), chi.URLParam(r, "id"), body.Parent); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("context")
	renderer, err := s.host.Renderer(slug)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	names, err := renderer.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": slug, "templates": names})
}

func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Context string         `json:"context"`
		Values  map[string]any `json:"values"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	name := chi.URLParam(r, "name")
	renderer, err := s.host.Renderer(body.Context)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tpl, err := renderer.Template(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code, err := renderer.Render(r.Context(), name, body.Values)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewCodeCell(tpl.Language, code))
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"ename": "InvalidRequest", "evalue": err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
	writeJSON(w, http.StatusBadRequest, map[string]any{"ename": "InvalidRequest", "evalue": err.Error()})
	return false
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, relay.ErrorContent(err))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownContext),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, domain.ErrUnknownTool),
		errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrMissingSubstitution),
		errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrContextNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRemoteEvaluation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRemoteFetch), errors.Is(err, domain.ErrInterpreterClosed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
