package graphstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/driftlab/lineage/pkg/types"
)

// DefaultMaxEntries bounds how many graphs the memory store retains.
const DefaultMaxEntries = 100

// MemoryStore implements GraphStore using in-memory storage.
// Graphs are ephemeral build artifacts; the store evicts the oldest
// entry once MaxEntries is exceeded.
type MemoryStore struct {
	mu         sync.RWMutex
	graphs     map[string]*types.Graph
	order      []string // insertion order, oldest first
	maxEntries int
}

// NewMemoryStore creates a new in-memory graph store.
// A maxEntries of zero or less uses DefaultMaxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		graphs:     make(map[string]*types.Graph),
		maxEntries: maxEntries,
	}
}

// Put saves a graph and returns its assigned ID.
func (s *MemoryStore) Put(ctx context.Context, graph *types.Graph) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := graph.ID
	if id == "" {
		id = uuid.New().String()
		graph.ID = id
	}

	if _, exists := s.graphs[id]; !exists {
		s.order = append(s.order, id)
	}
	s.graphs[id] = graph

	// Evict oldest entries beyond the cap
	for len(s.order) > s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.graphs, oldest)
	}

	return id, nil
}

// Get retrieves a graph by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	graph, ok := s.graphs[id]
	if !ok {
		return nil, ErrGraphNotFound
	}
	return graph, nil
}

// Delete removes a graph.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graphs[id]; !ok {
		return ErrGraphNotFound
	}
	delete(s.graphs, id)
	for i, entry := range s.order {
		if entry == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all stored graph IDs, oldest first.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance
var _ GraphStore = (*MemoryStore)(nil)
