package ports

import (
	"context"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// SnapshotStore persists context session state between requests.
type SnapshotStore interface {
	// Save persists the state under its ID.
	Save(ctx context.Context, state *domain.SessionState) error

	// Load retrieves the state for an ID.
	// Returns domain.ErrSnapshotNotFound if it does not exist.
	Load(ctx context.Context, id string) (*domain.SessionState, error)

	// Delete removes the state for an ID.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of every stored state.
	List(ctx context.Context) ([]string, error)
}
