// Package config loads the command configuration from an optional YAML file
// and the environment. Command-line flags are applied by the commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/persistence/middleware"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the full command configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Jupyter   JupyterConfig   `yaml:"jupyter"`
	Data      ServiceConfig   `yaml:"data_service"`
	HMI       ServiceConfig   `yaml:"hmi_server"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Templates TemplatesConfig `yaml:"templates"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type JupyterConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Kernels maps a context language to a kernel spec name when they differ.
	Kernels map[string]string `yaml:"kernels"`
}

// KernelName returns the kernel spec to start for language.
func (j JupyterConfig) KernelName(language string) string {
	if k, ok := j.Kernels[language]; ok && k != "" {
		return k
	}
	return language
}

type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Channel carries relayed events between processes. Empty disables it.
	Channel string `yaml:"channel"`
	// LockTTL bounds how long an instance lock outlives a crashed holder.
	// Live holders extend it while they work.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type StoreConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
	// EncryptionKey is a base64 or hex AES-256 key. Empty stores snapshots in clear.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
	// Redact lists regular expressions of setup config keys masked before saving.
	Redact []string `yaml:"redact"`
}

type TemplatesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Data: ServiceConfig{Timeout: 30 * time.Second},
		HMI:  ServiceConfig{Timeout: 30 * time.Second},
		Redis: RedisConfig{
			Channel: "kernelctx:events",
			LockTTL: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Dir:     ".kernelctx/contexts",
			Redact:  []string{"(?i)token", "(?i)password", "(?i)secret"},
		},
		Telemetry: TelemetryConfig{ServiceName: "kernelctx", Insecure: true},
	}
}

// Load reads path (if not empty), then applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envStr("KERNELCTX_LOG_LEVEL", &c.Log.Level)
	envStr("KERNELCTX_HTTP_ADDR", &c.HTTP.Addr)

	envStr("JUPYTER_URL", &c.Jupyter.URL)
	envStr("JUPYTER_TOKEN", &c.Jupyter.Token)
	if v, ok := os.LookupEnv("JUPYTER_KERNEL"); ok && v != "" {
		kernels, err := parseKernels(v)
		if err != nil {
			return fmt.Errorf("JUPYTER_KERNEL: %w", err)
		}
		if c.Jupyter.Kernels == nil {
			c.Jupyter.Kernels = make(map[string]string)
		}
		for lang, name := range kernels {
			c.Jupyter.Kernels[lang] = name
		}
	}

	envStr("DATA_SERVICE_URL", &c.Data.URL)
	envStr("HMI_SERVER_URL", &c.HMI.URL)
	var timeout time.Duration
	if err := envDuration("KERNELCTX_STORAGE_TIMEOUT", &timeout); err != nil {
		return err
	}
	if timeout > 0 {
		c.Data.Timeout, c.HMI.Timeout = timeout, timeout
	}

	envStr("AUTH_USERNAME", &c.Auth.Username)
	envStr("AUTH_PASSWORD", &c.Auth.Password)

	envStr("REDIS_ADDR", &c.Redis.Addr)
	envStr("REDIS_PASSWORD", &c.Redis.Password)
	if err := envInt("REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	if err := envDuration("REDIS_LOCK_TTL", &c.Redis.LockTTL); err != nil {
		return err
	}

	envStr("KERNELCTX_STORE", &c.Store.Backend)
	envStr("KERNELCTX_STORE_DIR", &c.Store.Dir)
	envStr("KERNELCTX_ENCRYPTION_KEY", &c.Store.EncryptionKey)

	envStr("KERNELCTX_TEMPLATES_DIR", &c.Templates.Dir)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("store backend redis requires redis.addr (REDIS_ADDR)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Redis.LockTTL < time.Second {
		errs = append(errs, fmt.Errorf("redis.lock_ttl must be at least 1s, got %s", c.Redis.LockTTL))
	}
	if c.Store.EncryptionKey != "" {
		if _, err := middleware.ParseKey(c.Store.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("store.encryption_key: %w", err))
		}
	}
	for i, k := range c.Store.FallbackKeys {
		if _, err := middleware.ParseKey(k); err != nil {
			errs = append(errs, fmt.Errorf("store.fallback_keys[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// parseKernels reads "language=kernel" pairs separated by commas. A bare
// name applies to python3.
func parseKernels(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lang, name, ok := strings.Cut(part, "=")
		if !ok {
			out["python3"] = part
			continue
		}
		lang, name = strings.TrimSpace(lang), strings.TrimSpace(name)
		if lang == "" || name == "" {
			return nil, fmt.Errorf("invalid kernel mapping %q", part)
		}
		out[lang] = name
	}
	return out, nil
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
