package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driftlab/lineage/internal/metrics"
	"github.com/driftlab/lineage/pkg/types"
)

// Runner executes one batch action at a time against a RunClient, mutating a
// single ActionState in place. A batch always reaches a terminal state:
// transport failures during submission or polling are mapped to node-level
// failure records instead of being raised to the caller.
//
// The runner is not re-entrant; starting a second batch while one is in
// flight returns ErrBatchInFlight.
type Runner struct {
	client   RunClient
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	state  *types.ActionState
	active atomic.Bool
}

// New creates a runner with a fresh ActionState.
func New(client RunClient, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client: client,
		logger: logger,
		state:  types.NewActionState(),
	}
}

// OnChange registers the observer notified after each state mutation.
// Must be set before starting a batch.
func (r *Runner) OnChange(obs Observer) {
	r.observer = obs
}

// Snapshot returns a deep copy of the current action state.
func (r *Runner) Snapshot() *types.ActionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Reset restores the action state to its initial shape regardless of the
// current state. Callers must reset between batches once a batch has reached
// completed or canceled.
func (r *Runner) Reset() {
	r.mutate(func(s *types.ActionState) {
		s.Reset()
	})
}

// Cancel requests cooperative cancellation: the overall status is set to
// canceling unconditionally, and the in-flight remote run, if any, receives a
// best-effort cancellation request. The batch itself stops at its next
// checkpoint (end of the current node, or once the single multi-nodes run
// resolves).
func (r *Runner) Cancel(ctx context.Context) {
	var current *types.RunRecord
	r.mutate(func(s *types.ActionState) {
		s.Status = types.BatchStatusCanceling
		current = s.CurrentRun
	})
	if current != nil {
		if err := r.client.CancelRun(ctx, current.RunID); err != nil {
			r.logger.Warn("cancel remote run", "run_id", current.RunID, "error", err)
		}
	}
}

// RunForNodes executes a multi-nodes batch: nodes failing the skip predicate
// are recorded as skipped, and exactly one remote run is submitted for the
// remaining candidates and polled to resolution. The run's outcome (success
// or failure) is propagated to every candidate; the batch itself still ends
// completed unless a cancellation was requested.
func (r *Runner) RunForNodes(ctx context.Context, actionType string, nodes []*types.Node, skip SkipFunc, getParams MultiNodesParams) error {
	if !r.active.CompareAndSwap(false, true) {
		return ErrBatchInFlight
	}
	defer r.active.Store(false)

	var candidates []*types.Node
	canceling := false
	r.mutate(func(s *types.ActionState) {
		s.Mode = types.BatchModeMultiNodes
		// A cancellation requested before the first mutation survives it.
		if s.Status != types.BatchStatusCanceling {
			s.Status = types.BatchStatusRunning
		} else {
			canceling = true
		}
		s.Actions = make(map[string]*types.NodeAction, len(nodes))
		s.Total = 1
		s.Completed = 0
		for _, node := range nodes {
			action := &types.NodeAction{Mode: types.BatchModeMultiNodes, Status: types.NodeActionPending}
			if reason := skip(node); reason != "" {
				action.Status = types.NodeActionSkipped
				action.SkipReason = reason
			} else {
				candidates = append(candidates, node)
			}
			s.Actions[node.Key] = action
		}
	})

	if len(candidates) > 0 && !canceling {
		r.submitAndPoll(ctx, actionType, getParams(candidates), candidates)
	}

	r.mutate(func(s *types.ActionState) {
		if s.Status == types.BatchStatusCanceling {
			s.Status = types.BatchStatusCanceled
		} else {
			s.Status = types.BatchStatusCompleted
			s.Completed = s.Total
		}
		metrics.BatchesTotal.WithLabelValues(string(s.Mode), string(s.Status)).Inc()
	})
	return nil
}

// RunPerNode executes a per-node batch: nodes are processed strictly
// sequentially, each with its own remote run polled to resolution. A failure
// on one node does not halt the rest. Cancellation takes effect at the
// checkpoint after the current node.
func (r *Runner) RunPerNode(ctx context.Context, actionType string, nodes []*types.Node, getParams PerNodeParams) error {
	if !r.active.CompareAndSwap(false, true) {
		return ErrBatchInFlight
	}
	defer r.active.Store(false)

	r.mutate(func(s *types.ActionState) {
		s.Mode = types.BatchModePerNode
		if s.Status != types.BatchStatusCanceling {
			s.Status = types.BatchStatusRunning
		}
		s.Actions = make(map[string]*types.NodeAction, len(nodes))
		s.Total = len(nodes)
		s.Completed = 0
		for _, node := range nodes {
			s.Actions[node.Key] = &types.NodeAction{Mode: types.BatchModePerNode, Status: types.NodeActionPending}
		}
	})

	for _, node := range nodes {
		params, skipReason := getParams(node)
		if skipReason != "" {
			r.mutate(func(s *types.ActionState) {
				action := s.Actions[node.Key]
				action.Status = types.NodeActionSkipped
				action.SkipReason = skipReason
			})
		} else {
			r.submitAndPoll(ctx, actionType, params, []*types.Node{node})
		}

		canceled := false
		r.mutate(func(s *types.ActionState) {
			s.Completed++
			if s.Status == types.BatchStatusCanceling {
				s.Status = types.BatchStatusCanceled
				canceled = true
			}
		})
		if canceled {
			metrics.BatchesTotal.WithLabelValues(string(types.BatchModePerNode), string(types.BatchStatusCanceled)).Inc()
			return nil
		}
	}

	r.mutate(func(s *types.ActionState) {
		if s.Status == types.BatchStatusCanceling {
			s.Status = types.BatchStatusCanceled
		} else {
			s.Status = types.BatchStatusCompleted
		}
		metrics.BatchesTotal.WithLabelValues(string(s.Mode), string(s.Status)).Inc()
	})
	return nil
}

// submitAndPoll submits one remote run for the given nodes and polls it to
// resolution, propagating running/success/failure to each node's action
// record. Transport errors resolve the run locally with the error text so
// the failure stays visible per node.
func (r *Runner) submitAndPoll(ctx context.Context, actionType string, params map[string]any, nodes []*types.Node) {
	runID, err := r.client.SubmitRun(ctx, actionType, params, true)
	if err != nil {
		r.logger.Warn("submit run", "type", actionType, "error", err)
		r.resolveNodes(nodes, &types.RunRecord{Type: actionType, Error: err.Error()}, types.NodeActionFailure)
		return
	}

	run := &types.RunRecord{RunID: runID, Type: actionType}
	r.mutate(func(s *types.ActionState) {
		s.CurrentRun = run
		for _, node := range nodes {
			action := s.Actions[node.Key]
			action.Status = types.NodeActionRunning
			action.Run = run
		}
	})

	for {
		record, err := r.client.WaitRun(ctx, runID)
		if err != nil {
			r.logger.Warn("poll run", "run_id", runID, "error", err)
			run.Error = err.Error()
			r.resolveNodes(nodes, run, types.NodeActionFailure)
			break
		}
		metrics.RemotePollsTotal.Inc()

		run.Error = record.Error
		run.Result = record.Result
		if run.Error != "" {
			r.resolveNodes(nodes, run, types.NodeActionFailure)
			break
		}
		if len(run.Result) > 0 {
			r.resolveNodes(nodes, run, types.NodeActionSuccess)
			break
		}

		r.mutate(func(s *types.ActionState) {
			for _, node := range nodes {
				s.Actions[node.Key].Status = types.NodeActionRunning
			}
		})
	}

	r.mutate(func(s *types.ActionState) {
		s.CurrentRun = nil
	})
}

func (r *Runner) resolveNodes(nodes []*types.Node, run *types.RunRecord, status types.NodeActionStatus) {
	r.mutate(func(s *types.ActionState) {
		for _, node := range nodes {
			action := s.Actions[node.Key]
			action.Status = status
			action.Run = run
		}
	})
	metrics.NodeActionsTotal.WithLabelValues(string(status)).Add(float64(len(nodes)))
}

// mutate applies fn under the state lock and notifies the observer with a
// snapshot before the next suspension point.
func (r *Runner) mutate(fn func(s *types.ActionState)) {
	r.mu.Lock()
	fn(r.state)
	var snapshot *types.ActionState
	if r.observer != nil {
		snapshot = r.state.Clone()
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer(snapshot)
	}
}
