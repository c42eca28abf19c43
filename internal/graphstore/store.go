// Package graphstore provides in-memory persistence for built lineage graphs.
package graphstore

import (
	"context"
	"errors"

	"github.com/driftlab/lineage/pkg/types"
)

// Common errors returned by GraphStore implementations.
var (
	ErrGraphNotFound = errors.New("graph not found")
)

// GraphStore defines the interface for graph persistence.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// Put saves a graph and returns its assigned ID.
	Put(ctx context.Context, graph *types.Graph) (string, error)

	// Get retrieves a graph by ID. Returns ErrGraphNotFound if not found.
	Get(ctx context.Context, id string) (*types.Graph, error)

	// Delete removes a graph. Returns ErrGraphNotFound if not found.
	Delete(ctx context.Context, id string) error

	// List returns all stored graph IDs.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources.
	Close() error
}
