package batchstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlab/lineage/pkg/types"
)

// memoryBatch holds all state for a single batch in memory.
type memoryBatch struct {
	mu          sync.RWMutex
	id          string
	actionType  string
	graphID     string
	state       *types.ActionState
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
	createdAt   time.Time
	updatedAt   time.Time
}

// MemoryStore is an in-memory implementation of BatchStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*memoryBatch
	config  *Config
}

// NewMemoryStore creates a new in-memory BatchStore.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		batches: make(map[string]*memoryBatch),
		config:  cfg,
	}
}

func (s *MemoryStore) CreateBatch(ctx context.Context, actionType, graphID string, state *types.ActionState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batchID := uuid.New().String()
	now := time.Now().UTC()

	s.batches[batchID] = &memoryBatch{
		id:          batchID,
		actionType:  actionType,
		graphID:     graphID,
		state:       state.Clone(),
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
		createdAt:   now,
		updatedAt:   now,
	}

	return batchID, nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (*types.Batch, error) {
	s.mu.RLock()
	batch, ok := s.batches[batchID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBatchNotFound
	}

	batch.mu.RLock()
	defer batch.mu.RUnlock()

	return &types.Batch{
		ID:         batch.id,
		ActionType: batch.actionType,
		GraphID:    batch.graphID,
		State:      batch.state.Clone(),
		CreatedAt:  batch.createdAt,
		UpdatedAt:  batch.updatedAt,
	}, nil
}

func (s *MemoryStore) ListBatches(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, batchID string, state *types.ActionState) error {
	s.mu.RLock()
	batch, ok := s.batches[batchID]
	s.mu.RUnlock()

	if !ok {
		return ErrBatchNotFound
	}

	batch.mu.Lock()
	defer batch.mu.Unlock()

	batch.state = state.Clone()
	batch.updatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, batchID string, input *types.EventInput) (*types.Event, error) {
	s.mu.RLock()
	batch, ok := s.batches[batchID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBatchNotFound
	}

	batch.mu.Lock()

	eventID := fmt.Sprintf("%d", batch.nextSeq)
	batch.nextSeq++

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		batch.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        eventID,
		BatchID:   batchID,
		Type:      input.Type,
		NodeKey:   input.NodeKey,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}

	// Append to ring buffer
	if int64(len(batch.events)) >= batch.maxEvents {
		// Remove oldest event
		batch.events = batch.events[1:]
	}
	batch.events = append(batch.events, event)
	batch.updatedAt = time.Now().UTC()

	// Copy subscribers to notify outside lock
	subs := make([]chan *types.Event, 0, len(batch.subscribers))
	for ch := range batch.subscribers {
		subs = append(subs, ch)
	}
	batch.mu.Unlock()

	// Notify subscribers (non-blocking)
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, skip
		}
	}

	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, batchID string, lastEventID string) ([]*types.Event, error) {
	s.mu.RLock()
	batch, ok := s.batches[batchID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBatchNotFound
	}

	batch.mu.RLock()
	defer batch.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(batch.events))
		copy(result, batch.events)
		return result, nil
	}

	// Find events after lastEventID
	var result []*types.Event
	found := false
	for _, evt := range batch.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}

	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, batchID string) (<-chan *types.Event, func(), error) {
	s.mu.RLock()
	batch, ok := s.batches[batchID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBatchNotFound
	}

	// Create buffered channel for subscriber
	ch := make(chan *types.Event, 100)

	batch.mu.Lock()
	batch.subscribers[ch] = struct{}{}
	batch.mu.Unlock()

	cleanup := func() {
		batch.mu.Lock()
		delete(batch.subscribers, ch)
		batch.mu.Unlock()
		// Don't close the channel here - let the sender handle that
	}

	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	batchCount := len(s.batches)
	s.mu.RUnlock()

	return map[string]interface{}{
		"adapter":     "memory",
		"batch_count": batchCount,
		"max_events":  s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Close all subscriber channels
	for _, batch := range s.batches {
		batch.mu.Lock()
		for ch := range batch.subscribers {
			close(ch)
		}
		batch.subscribers = nil
		batch.mu.Unlock()
	}

	return nil
}

// Verify interface compliance
var _ BatchStore = (*MemoryStore)(nil)
