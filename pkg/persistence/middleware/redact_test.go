package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewRedactMiddleware([]string{"password", "token"})
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	state := domain.NewSessionState("r1", "pyciemss")
	state.Config = map[string]any{
		"model_config_id": "cfg-1",
		"auth_password":   "secret123",
		"nested":          map[string]any{"api_token": "t", "keep": "x"},
	}
	require.NoError(t, store.Save(ctx, state))

	assert.Equal(t, "secret123", state.Config["auth_password"], "in-memory state must not be modified")

	stored, err := underlying.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "cfg-1", stored.Config["model_config_id"])
	assert.Equal(t, middleware.Mask, stored.Config["auth_password"])
	nested := stored.Config["nested"].(map[string]any)
	assert.Equal(t, middleware.Mask, nested["api_token"])
	assert.Equal(t, "x", nested["keep"])
}

func TestRedactMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewRedactMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	underlying := memory.NewStore()
	redact, err := middleware.NewRedactMiddleware([]string{"password"})
	require.NoError(t, err)
	key := generateKey(t)
	store := middleware.Chain(underlying, redact, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	ctx := context.Background()

	state := domain.NewSessionState("c1", "mimi")
	state.Config = map[string]any{"password": "p"}
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Config["password"])
}
