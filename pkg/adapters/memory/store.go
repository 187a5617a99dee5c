package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.SessionState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.SessionState),
	}
}

// Save keeps a deep copy of the state.
func (s *Store) Save(ctx context.Context, state *domain.SessionState) error {
	copied := copyState(state)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[state.ID] = copied
	return nil
}

// Load returns a copy so callers cannot mutate the stored snapshot.
func (s *Store) Load(ctx context.Context, id string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return copyState(state), nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// List returns the stored IDs, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func copyState(state *domain.SessionState) *domain.SessionState {
	c := *state
	c.Document = state.Document.Clone()
	c.Original = state.Original.Clone()
	c.Config = domain.Document(state.Config).Clone()
	return &c
}
