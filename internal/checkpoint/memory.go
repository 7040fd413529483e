package checkpoint

import (
	"context"
	"sync"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// MemoryStore is an in-memory Store, safe for concurrent use, for tests
// and single-process deployments without a configured database.
type MemoryStore struct {
	mu       sync.RWMutex
	cursors  map[string]int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]int64)}
}

func (s *MemoryStore) Get(_ context.Context, symbol bar.Symbol) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cursors[symbol.String()]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, symbol bar.Symbol, cursorNanos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[symbol.String()] = cursorNanos
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, symbol bar.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, symbol.String())
	return nil
}
