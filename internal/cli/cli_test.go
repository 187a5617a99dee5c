package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/kernelctx"
	"github.com/aretw0/kernelctx/internal/config"
	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/internal/testutils"
	redisAdapter "github.com/aretw0/kernelctx/pkg/adapters/redis"
	"github.com/aretw0/kernelctx/pkg/contexts/mimi"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func fakeInterpreters() kernelctx.Option {
	return kernelctx.WithInterpreters(func(ctx context.Context, language string) (ports.Interpreter, error) {
		return testutils.NewInterpreter(), nil
	})
}

func build(t *testing.T, cfg *config.Config, extra ...kernelctx.Option) *Runtime {
	t.Helper()
	rt, err := Build(context.Background(), cfg, logging.NewNop(), extra...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func TestBuild_Defaults(t *testing.T) {
	rt := build(t, config.Default())
	assert.Len(t, rt.Host.Contexts(), 5)
	assert.Nil(t, rt.Redis())

	_, err := rt.Host.Setup(context.Background(), mimi.Slug, nil, nil)
	var cerr *domain.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "JUPYTER_URL", cerr.Key)
}

func TestBuild_InvalidConfiguration(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "postgres"
	_, err := Build(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "invalid configuration")

	cfg = config.Default()
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err = Build(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "connect to redis")
}

func TestBuild_FileStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.StoreFile
	cfg.Store.Dir = t.TempDir()
	rt := build(t, cfg, fakeInterpreters())

	id, err := rt.Host.Setup(context.Background(), mimi.Slug, nil, nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.Store.Dir, id+".json"))
}

func TestBuild_RedisStoreAndEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Store.Backend = config.StoreRedis
	cfg.Store.EncryptionKey = strings.Repeat("ab", 32)
	rt := build(t, cfg, fakeInterpreters())
	require.NotNil(t, rt.Redis())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	tailed := make(chan error, 1)
	go func() { tailed <- TailEvents(ctx, rt, NewEventPrinter(out, "")) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(cfg.Redis.Channel)[cfg.Redis.Channel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	id, err := rt.Host.Setup(ctx, mimi.Slug, nil, nil)
	require.NoError(t, err)

	raw, err := mr.Get(redisAdapter.DefaultPrefix + id)
	require.NoError(t, err)
	assert.Contains(t, raw, "__encrypted__")

	state, err := rt.Host.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, mimi.Slug, state.Context)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "context_setup_response")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-tailed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("TailEvents did not return")
	}
}

func TestTailEvents_RequiresRedis(t *testing.T) {
	rt := build(t, config.Default())
	err := TailEvents(context.Background(), rt, NewEventPrinter(&bytes.Buffer{}, ""))
	assert.ErrorIs(t, err, ErrNoEventChannel)
}

func TestEventPrinter_FiltersByContext(t *testing.T) {
	var buf bytes.Buffer
	p := NewEventPrinter(&buf, "a")
	require.NoError(t, p.Publish(context.Background(), domain.Event{Type: "x_response", ContextID: "a"}))
	require.NoError(t, p.Publish(context.Background(), domain.Event{Type: "y_response", ContextID: "b"}))
	assert.Contains(t, buf.String(), "x_response")
	assert.NotContains(t, buf.String(), "y_response")
}

func TestServe_GracefulShutdown(t *testing.T) {
	rt := build(t, config.Default())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, rt, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeMCP_UnknownTransport(t *testing.T) {
	rt := build(t, config.Default())
	err := ServeMCP(context.Background(), rt, MCPOptions{Transport: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown transport")
}

func TestParseValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_name: m\nsteps: 10\n"), 0o644))

	values, err := ParseValues(path, []string{"steps=20", "states=[S, I]", "label=plain text"})
	require.NoError(t, err)
	assert.Equal(t, "m", values["model_name"])
	assert.Equal(t, 20, values["steps"])
	assert.Equal(t, []any{"S", "I"}, values["states"])
	assert.Equal(t, "plain text", values["label"])

	_, err = ParseValues("", []string{"novalue"})
	assert.Error(t, err)
	_, err = ParseValues(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestRenderAndListTemplates(t *testing.T) {
	rt := build(t, config.Default())
	ctx := context.Background()

	cell, err := RenderTemplate(ctx, rt.Host, mimi.Slug, "plot_var", map[string]any{
		"model_name": "m", "component_name": "c", "variable_name": "v",
	})
	require.NoError(t, err)
	assert.Equal(t, "julia", cell.Language)

	var out bytes.Buffer
	require.NoError(t, WriteCode(&out, cell, false))
	assert.Contains(t, out.String(), "Mimi.plot(m, :c, :v)")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))

	_, err = RenderTemplate(ctx, rt.Host, mimi.Slug, "plot_var", nil)
	assert.True(t, errors.Is(err, domain.ErrMissingSubstitution), "got %v", err)
	_, err = RenderTemplate(ctx, rt.Host, "nope", "plot_var", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownContext)

	out.Reset()
	require.NoError(t, WriteTemplates(ctx, &out, rt.Host, mimi.Slug))
	assert.Contains(t, out.String(), "plot_var\tjulia\t")
}
