package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/kernelctx"
	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/agent"
	"github.com/aretw0/kernelctx/pkg/contexts"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ContextsURI is the resource listing the available context kinds.
const ContextsURI = "kernelctx://contexts"

// Host is the part of kernelctx.Host exposed over MCP.
type Host interface {
	Contexts() []contexts.Kind
	Setup(ctx context.Context, slug string, config map[string]any, parent *domain.Header) (string, error)
	Dispatch(ctx context.Context, id string, msg domain.Message) error
	InvokeTool(ctx context.Context, id, tool string, args map[string]any) (*agent.Result, error)
	Tools(id string) ([]agent.Tool, error)
}

// Subscriber lets send_message report the events a message produced.
type Subscriber interface {
	Subscribe(contextID string) (<-chan domain.Event, func())
}

// SetupResponse is returned by setup_context.
type SetupResponse struct {
	ContextID string   `json:"context_id" jsonschema_description:"Identifier of the new context instance"`
	Context   string   `json:"context" jsonschema_description:"Context kind"`
	Tools     []string `json:"tools" jsonschema_description:"Tools registered for this context kind"`
}

// MessageResponse is returned by send_message.
type MessageResponse struct {
	MsgID  string         `json:"msg_id" jsonschema_description:"Correlation identifier of the message"`
	Events []domain.Event `json:"events" jsonschema_description:"Events the context relayed while handling the message"`
}

// ContextsResponse is returned by list_contexts.
type ContextsResponse struct {
	Contexts []KindInfo `json:"contexts"`
}

// KindInfo describes a context kind.
type KindInfo struct {
	Slug        string `json:"slug"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
}

// Server exposes a Host as an MCP server. Context tools are registered as
// "<slug>.<tool>" the first time an instance of the kind is set up.
type Server struct {
	host      Host
	events    Subscriber
	logger    *slog.Logger
	mcpServer *server.MCPServer

	mu         sync.Mutex
	registered map[string]bool
}

// Option configures the Server.
type Option func(*Server)

// WithEvents makes send_message return the events of the message.
func WithEvents(s Subscriber) Option {
	return func(srv *Server) {
		srv.events = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(host Host, opts ...Option) *Server {
	s := &Server{
		host:       host,
		logger:     logging.NewNop(),
		registered: make(map[string]bool),
		mcpServer: server.NewMCPServer("kernelctx-mcp", strings.TrimSpace(kernelctx.Version),
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
	})
	mux := http.NewServeMux()
	mux.Handle("/sse", withCORS(sseServer.SSEHandler()))
	mux.Handle("/message", withCORS(sseServer.MessageHandler()))

	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_contexts",
		mcp.WithDescription("List the context kinds that can be set up."),
		mcp.WithOutputSchema[ContextsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListContexts))

	s.mcpServer.AddTool(mcp.NewTool("setup_context",
		mcp.WithDescription("Set up a context instance on a new kernel session and register its tools."),
		mcp.WithString("context", mcp.Required(), mcp.Description("Context kind slug")),
		mcp.WithObject("config", mcp.Description("Context configuration, e.g. {\"id\": \"<model id>\"}")),
		mcp.WithOutputSchema[SetupResponse](),
	), mcp.NewStructuredToolHandler(s.handleSetup))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send an action message to a context instance."),
		mcp.WithString("context_id", mcp.Required(), mcp.Description("Context instance identifier")),
		mcp.WithString("msg_type", mcp.Required(), mcp.Description("Action name, e.g. replace_state_name")),
		mcp.WithObject("content", mcp.Description("Action fields")),
		mcp.WithOutputSchema[MessageResponse](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))
}

func (s *Server) handleListContexts(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (ContextsResponse, error) {
	kinds := s.host.Contexts()
	out := ContextsResponse{Contexts: make([]KindInfo, 0, len(kinds))}
	for _, k := range kinds {
		out.Contexts = append(out.Contexts, KindInfo{Slug: k.Slug, Language: k.Language, Description: k.Description})
	}
	return out, nil
}

func (s *Server) handleSetup(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (SetupResponse, error) {
	slug, _ := args["context"].(string)
	config, _ := args["config"].(map[string]any)

	id, err := s.host.Setup(ctx, slug, config, nil)
	if err != nil {
		return SetupResponse{}, fmt.Errorf("setup failed: %w", err)
	}
	names, err := s.registerContextTools(slug, id)
	if err != nil {
		return SetupResponse{}, err
	}
	return SetupResponse{ContextID: id, Context: slug, Tools: names}, nil
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (MessageResponse, error) {
	id, _ := args["context_id"].(string)
	msgType, _ := args["msg_type"].(string)
	content, _ := args["content"].(map[string]any)
	if content == nil {
		content = map[string]any{}
	}

	msg := domain.Message{
		Header:  domain.NewHeader(msgType, "mcp-"+uuid.NewString()),
		Content: content,
	}

	var events <-chan domain.Event
	if s.events != nil {
		ch, cancel := s.events.Subscribe(id)
		defer cancel()
		events = ch
	}

	err := s.host.Dispatch(ctx, id, msg)
	resp := MessageResponse{MsgID: msg.Header.MsgID, Events: drain(events, msg.Header.MsgID)}
	if err != nil {
		return resp, fmt.Errorf("%s failed: %w", msgType, err)
	}
	return resp, nil
}

// drain collects the buffered events answering msgID. Relays publish before
// Dispatch returns, so everything is already queued.
func drain(events <-chan domain.Event, msgID string) []domain.Event {
	out := []domain.Event{}
	if events == nil {
		return out
	}
	for {
		select {
		case evt := <-events:
			if evt.Parent != nil && evt.Parent.MsgID == msgID {
				out = append(out, evt)
			}
		default:
			return out
		}
	}
}

// registerContextTools adds the tools of slug, read from instance id, unless
// an earlier instance already did.
func (s *Server) registerContextTools(slug, id string) ([]string, error) {
	tools, err := s.host.Tools(id)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, ToolName(slug, t.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered[slug] {
		return names, nil
	}

	serverTools := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		schema, err := inputSchema(t)
		if err != nil {
			return nil, err
		}
		serverTools = append(serverTools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(ToolName(slug, t.Name), describe(t), schema),
			Handler: s.contextToolHandler(t.Name),
		})
	}
	s.mcpServer.AddTools(serverTools...)
	s.registered[slug] = true
	s.logger.Info("context tools registered", "context", slug, "count", len(serverTools))
	return names, nil
}

func (s *Server) contextToolHandler(tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		id, _ := args["context_id"].(string)
		if id == "" {
			return mcp.NewToolResultError("context_id is required"), nil
		}
		toolArgs := make(map[string]any, len(args))
		for k, v := range args {
			if k != "context_id" {
				toolArgs[k] = v
			}
		}

		res, err := s.host.InvokeTool(ctx, id, tool, toolArgs)
		if err != nil {
			s.logger.Warn("MCP tool failed", "tool", tool, "context_id", id, "err", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if res.CodeCell != nil {
			return mcp.NewToolResultText(res.CodeCell.Content), nil
		}
		data, err := json.Marshal(res.Value)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(ContextsURI, "Context kinds",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		resp, _ := s.handleListContexts(ctx, mcp.CallToolRequest{}, nil)
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode contexts: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      ContextsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// ToolName is the MCP name of a context tool.
func ToolName(slug, tool string) string {
	return slug + "." + tool
}

// inputSchema is the tool's argument schema plus the context_id selector.
func inputSchema(t agent.Tool) (json.RawMessage, error) {
	schema, err := t.InputSchema()
	if err != nil {
		return nil, err
	}
	props, _ := schema["properties"].(map[string]any)
	props["context_id"] = map[string]any{
		"type":        "string",
		"description": "Context instance identifier returned by setup_context",
	}
	required, _ := schema["required"].([]any)
	schema["required"] = append([]any{"context_id"}, required...)
	return json.Marshal(schema)
}

func describe(t agent.Tool) string {
	if t.Kind == agent.KindCodeCell {
		return t.Description + " Returns code for the user to review and run."
	}
	return t.Description
}
