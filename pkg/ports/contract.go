package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	id := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewSessionState(id, "mira_model_edit")
		state.VarName = "model"
		state.Load("sir-model", domain.Document{"name": "SIR", "count": 3})

		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "mira_model_edit", loaded.Context)
		assert.Equal(t, "sir-model", loaded.DocumentID)
		assert.Equal(t, "model", loaded.VarName)
		assert.Equal(t, "SIR", loaded.Document["name"])
		assert.Equal(t, "SIR", loaded.Original["name"])
		// JSON-backed stores turn numbers into float64.
		assert.NotNil(t, loaded.Document["count"])
		assert.True(t, loaded.Ready)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+id)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, domain.NewSessionState(id, "pyciemss")))
		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1, id2 := id+"-1", id+"-2"
		require.NoError(t, store.Save(ctx, domain.NewSessionState(id1, "mimi")))
		require.NoError(t, store.Save(ctx, domain.NewSessionState(id2, "mimi")))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
