package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/kernelctx"
	"github.com/aretw0/kernelctx/internal/config"
	"github.com/aretw0/kernelctx/internal/telemetry"
	"github.com/aretw0/kernelctx/pkg/adapters/file"
	"github.com/aretw0/kernelctx/pkg/adapters/jupyter"
	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/kernelctx/pkg/adapters/redis"
	"github.com/aretw0/kernelctx/pkg/adapters/storage"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/persistence/middleware"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/aretw0/kernelctx/pkg/session"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is a Host with every collaborator built from the configuration.
type Runtime struct {
	Config  *config.Config
	Host    *kernelctx.Host
	Broker  *relay.Broker
	Metrics *observability.Metrics
	Tracer  trace.TracerProvider
	Logger  *slog.Logger

	redis   *goredis.Client
	closers []func(context.Context) error
}

// Build wires a Host from cfg. Extra options are applied after the
// configured ones. Close releases what Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...kernelctx.Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &Runtime{
		Config:  cfg,
		Metrics: observability.NewMetrics(),
		Logger:  logger,
	}

	tp, shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: strings.TrimSpace(kernelctx.Version),
		Insecure:       cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}
	rt.Tracer = tp
	rt.closers = append(rt.closers, shutdownTracing)

	if cfg.Redis.Addr != "" {
		rt.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return rt.redis.Close() })
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
		}
	}

	snapshots, err := rt.snapshotStore()
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	sessionOpts := []session.Option{session.WithLogger(logger), session.WithLockTTL(cfg.Redis.LockTTL)}
	if rt.redis != nil {
		locker := redisAdapter.NewLocker(rt.redis, redisAdapter.DefaultPrefix, redisAdapter.WithLockLogger(logger))
		sessionOpts = append(sessionOpts, session.WithLocker(locker))
	}

	rt.Broker = relay.NewBroker(relay.WithBrokerLogger(logger))
	var publisher ports.Publisher = rt.Broker
	if rt.redis != nil && cfg.Redis.Channel != "" {
		publisher = relay.Fanout{rt.Broker, redisAdapter.NewPublisher(rt.redis, cfg.Redis.Channel)}
		logger.Info("relaying events to redis", "channel", cfg.Redis.Channel)
	}

	creds := storage.StaticCredentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
	hostOpts := []kernelctx.Option{
		kernelctx.WithSessions(session.NewManager(snapshots, sessionOpts...)),
		kernelctx.WithRelay(relay.New(publisher, relay.WithLogger(logger), relay.WithMetrics(rt.Metrics))),
		kernelctx.WithInterpreters(rt.interpreters()),
		kernelctx.WithDataStore(rt.documentStore(cfg.Data, "DATA_SERVICE_URL", creds)),
		kernelctx.WithHMIStore(rt.documentStore(cfg.HMI, "HMI_SERVER_URL", creds)),
		kernelctx.WithCredentials(creds),
		kernelctx.WithTemplatesDir(cfg.Templates.Dir),
		kernelctx.WithLifecycleHooks(observability.Hooks(logger)),
		kernelctx.WithMetrics(rt.Metrics),
		kernelctx.WithTracerProvider(tp),
		kernelctx.WithLogger(logger),
	}
	rt.Host = kernelctx.New(append(hostOpts, extra...)...)

	if cfg.Templates.Watch && cfg.Templates.Dir != "" {
		if err := rt.Host.WatchTemplates(ctx); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		logger.Info("watching template overrides", "dir", cfg.Templates.Dir)
	}
	return rt, nil
}

// Close shuts down every live instance, then the connections Build opened.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Host != nil {
		rt.Host.Shutdown(ctx)
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Redis returns the shared client, or nil when Redis is not configured.
func (rt *Runtime) Redis() *goredis.Client {
	return rt.redis
}

func (rt *Runtime) snapshotStore() (ports.SnapshotStore, error) {
	cfg := rt.Config.Store

	var store ports.SnapshotStore
	switch cfg.Backend {
	case config.StoreFile:
		store = file.New(cfg.Dir)
	case config.StoreRedis:
		store = redisAdapter.NewFromClient(rt.redis, redisAdapter.WithTTL(cfg.TTL))
	default:
		store = memory.NewStore()
	}

	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		redact, err := middleware.NewRedactMiddleware(cfg.Redact)
		if err != nil {
			return nil, fmt.Errorf("store.redact: %w", err)
		}
		mws = append(mws, redact)
	}
	if cfg.EncryptionKey != "" {
		active, err := middleware.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		enc := middleware.EncryptionConfig{ActiveKey: active}
		for _, k := range cfg.FallbackKeys {
			key, err := middleware.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("store.fallback_keys: %w", err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(enc))
	}

	rt.Logger.Info("snapshot store", "backend", cfg.Backend, "encrypted", cfg.EncryptionKey != "")
	return middleware.Chain(store, mws...), nil
}

func (rt *Runtime) documentStore(svc config.ServiceConfig, setting string, creds ports.Credentials) ports.DocumentStore {
	return storage.New(svc.URL,
		storage.WithSettingName(setting),
		storage.WithCredentials(creds),
		storage.WithTimeout(svc.Timeout),
		storage.WithMetrics(rt.Metrics),
		storage.WithLogger(rt.Logger),
		storage.WithTracerProvider(rt.Tracer),
	)
}

func (rt *Runtime) interpreters() kernelctx.InterpreterFactory {
	jc := rt.Config.Jupyter
	if jc.URL == "" {
		return nil
	}
	return func(ctx context.Context, language string) (ports.Interpreter, error) {
		return jupyter.Start(ctx, jc.URL,
			jupyter.WithToken(jc.Token),
			jupyter.WithKernelName(jc.KernelName(language)),
			jupyter.WithLogger(rt.Logger),
		)
	}
}
