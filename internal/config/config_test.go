package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernelctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Data.Timeout)
	assert.Equal(t, "kernelctx:events", cfg.Redis.Channel)
	assert.Equal(t, "julia", cfg.Jupyter.KernelName("julia"))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
jupyter:
  url: http://jupyter:8888
  kernels:
    julia: julia-1.10
data_service:
  url: http://data:8001
  timeout: 5s
store:
  backend: file
  dir: /var/lib/kernelctx
templates:
  dir: ./procedures
  watch: true
`)
	t.Setenv("JUPYTER_URL", "http://override:8888")
	t.Setenv("HMI_SERVER_URL", "http://hmi:3000")
	t.Setenv("AUTH_USERNAME", "alice")
	t.Setenv("AUTH_PASSWORD", "s3cret")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("KERNELCTX_STORAGE_TIMEOUT", "12s")
	t.Setenv("REDIS_LOCK_TTL", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://override:8888", cfg.Jupyter.URL)
	assert.Equal(t, "julia-1.10", cfg.Jupyter.KernelName("julia"))
	assert.Equal(t, "http://data:8001", cfg.Data.URL)
	assert.Equal(t, "http://hmi:3000", cfg.HMI.URL)
	assert.Equal(t, 12*time.Second, cfg.Data.Timeout)
	assert.Equal(t, 12*time.Second, cfg.HMI.Timeout)
	assert.Equal(t, AuthConfig{Username: "alice", Password: "s3cret"}, cfg.Auth)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 2*time.Minute, cfg.Redis.LockTTL)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/kernelctx", cfg.Store.Dir)
	assert.True(t, cfg.Templates.Watch)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_KernelMapping(t *testing.T) {
	t.Setenv("JUPYTER_KERNEL", "beaker, julia=julia-1.9")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "beaker", cfg.Jupyter.KernelName("python3"))
	assert.Equal(t, "julia-1.9", cfg.Jupyter.KernelName("julia"))

	t.Setenv("JUPYTER_KERNEL", "=julia")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "log: [unclosed"))
	assert.Error(t, err)

	t.Setenv("REDIS_DB", "zero")
	_, err = Load("")
	assert.ErrorContains(t, err, "REDIS_DB")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Store.Backend = StoreRedis
	cfg.Store.EncryptionKey = "short"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown log level")
	assert.ErrorContains(t, err, "REDIS_ADDR")
	assert.ErrorContains(t, err, "encryption_key")

	cfg = Default()
	cfg.Store.Backend = "postgres"
	assert.ErrorContains(t, cfg.Validate(), "unknown store backend")

	cfg = Default()
	cfg.Redis.LockTTL = 10 * time.Millisecond
	assert.ErrorContains(t, cfg.Validate(), "redis.lock_ttl")
}
