package cli

import (
	"context"
	"fmt"

	"github.com/aretw0/kernelctx/pkg/adapters/mcp"
)

// MCP transports.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// MCPOptions selects the MCP transport.
type MCPOptions struct {
	Transport string
	Addr      string
	BaseURL   string
}

// ServeMCP exposes the runtime's Host as an MCP server until ctx is done
// (sse) or stdin is closed (stdio).
func ServeMCP(ctx context.Context, rt *Runtime, opts MCPOptions) error {
	srv := mcp.NewServer(rt.Host, mcp.WithEvents(rt.Broker), mcp.WithLogger(rt.Logger))

	switch opts.Transport {
	case "", TransportStdio:
		rt.Logger.Info("starting MCP server", "transport", TransportStdio)
		return srv.ServeStdio()
	case TransportSSE:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost" + opts.Addr
		}
		return srv.ServeSSE(ctx, opts.Addr, baseURL)
	default:
		return fmt.Errorf("unknown transport %q (supported: %s, %s)", opts.Transport, TransportStdio, TransportSSE)
	}
}
