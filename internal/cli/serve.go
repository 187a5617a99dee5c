package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	api "github.com/aretw0/kernelctx/pkg/adapters/http"
)

// ShutdownTimeout bounds the graceful shutdown of the servers.
const ShutdownTimeout = 5 * time.Second

// Serve runs the HTTP API on ln until ctx is done, then drains in-flight
// requests.
func Serve(ctx context.Context, rt *Runtime, ln net.Listener) error {
	handler, err := api.NewHandler(rt.Host,
		api.WithEvents(rt.Broker),
		api.WithMetrics(rt.Metrics),
		api.WithTracerProvider(rt.Tracer),
		api.WithAllowedOrigins(rt.Config.HTTP.AllowedOrigins...),
		api.WithLogger(rt.Logger),
	)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErrors := make(chan error, 1)
	go func() {
		rt.Logger.Info("http server listening", "addr", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	rt.Logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Warn("graceful shutdown did not complete", "timeout", ShutdownTimeout, "err", err)
		return srv.Close()
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func ListenAndServe(ctx context.Context, rt *Runtime) error {
	ln, err := net.Listen("tcp", rt.Config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rt.Config.HTTP.Addr, err)
	}
	return Serve(ctx, rt, ln)
}
