// Package batchstore provides batch state persistence and event streaming.
package batchstore

import (
	"context"
	"errors"

	"github.com/driftlab/lineage/pkg/types"
)

// Common errors returned by BatchStore implementations.
var (
	ErrBatchNotFound = errors.New("batch not found")
)

// BatchStore defines the interface for batch state persistence and event
// streaming. Implementations must be safe for concurrent use.
type BatchStore interface {
	// Batch lifecycle
	CreateBatch(ctx context.Context, actionType, graphID string, state *types.ActionState) (string, error)
	GetBatch(ctx context.Context, batchID string) (*types.Batch, error)
	ListBatches(ctx context.Context) ([]string, error)
	UpdateState(ctx context.Context, batchID string, state *types.ActionState) error

	// Event streaming
	// AppendEvent adds an event to the batch's event stream and returns the
	// created event.
	AppendEvent(ctx context.Context, batchID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// If lastEventID is empty, returns all events from the beginning.
	GetEventsSince(ctx context.Context, batchID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the batch.
	// The cleanup function must be called when done to release resources.
	Subscribe(ctx context.Context, batchID string) (<-chan *types.Event, func(), error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Cleanup
	Close() error
}

// Config holds configuration for BatchStore implementations.
type Config struct {
	// Maximum number of events to keep per batch (ring buffer)
	EventMaxLen int64

	// TTL for batches in seconds (0 = no expiry)
	TTLSeconds int64
}

// DefaultConfig returns sensible defaults for BatchStore configuration.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTLSeconds:  7 * 24 * 60 * 60, // 7 days
	}
}
