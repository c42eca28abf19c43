// Package runner drives batch actions over selected lineage nodes against an
// external job API.
package runner

import (
	"context"
	"errors"

	"github.com/driftlab/lineage/pkg/types"
)

// ErrBatchInFlight is returned when a Run* entry point is invoked while
// another batch is still using the same runner.
var ErrBatchInFlight = errors.New("batch already in flight")

// RunClient is the contract with the external job API. Implementations must
// be safe for concurrent use.
type RunClient interface {
	// SubmitRun submits a named operation with JSON-serializable parameters
	// and returns an opaque run identifier. With nowait the call returns as
	// soon as the run is accepted.
	SubmitRun(ctx context.Context, runType string, params map[string]any, nowait bool) (string, error)

	// WaitRun blocks until the remote run has made progress or resolved.
	// The returned record is terminal for this poll when it carries either
	// an error or a result.
	WaitRun(ctx context.Context, runID string) (*types.RunRecord, error)

	// CancelRun requests best-effort cancellation of an in-flight run.
	CancelRun(ctx context.Context, runID string) error
}

// Observer is notified synchronously after each state mutation, before the
// next suspension point. It receives a snapshot safe to retain.
type Observer func(state *types.ActionState)

// SkipFunc decides whether a node is eligible for a multi-nodes action.
// A non-empty return value is the human-readable skip reason.
type SkipFunc func(node *types.Node) string

// MultiNodesParams builds the submission parameters for the single run
// covering all candidate nodes.
type MultiNodesParams func(nodes []*types.Node) map[string]any

// PerNodeParams builds the submission parameters for one node, or returns a
// non-empty skip reason when the node cannot be processed.
type PerNodeParams func(node *types.Node) (params map[string]any, skipReason string)
