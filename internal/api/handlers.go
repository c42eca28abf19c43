package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/driftlab/lineage/internal/actions"
	"github.com/driftlab/lineage/internal/batchstore"
	"github.com/driftlab/lineage/internal/config"
	"github.com/driftlab/lineage/internal/graph"
	"github.com/driftlab/lineage/internal/graphstore"
	"github.com/driftlab/lineage/internal/metrics"
	"github.com/driftlab/lineage/internal/runner"
	"github.com/driftlab/lineage/internal/snapshot"
	"github.com/driftlab/lineage/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	graphs    graphstore.GraphStore
	batches   batchstore.BatchStore
	runner    *runner.Runner
	source    *snapshot.S3Source  // optional, enables key-based builds
	validator *snapshot.Validator // optional, enables schema validation
	skipEval  *actions.SkipEvaluator
	config    *config.Config
	logger    *slog.Logger

	// One batch may be in flight at a time across the whole service.
	batchActive   atomic.Bool
	activeMu      sync.Mutex
	activeBatchID string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(graphs graphstore.GraphStore, batches batchstore.BatchStore, run *runner.Runner, source *snapshot.S3Source, v *snapshot.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		graphs:    graphs,
		batches:   batches,
		runner:    run,
		source:    source,
		validator: v,
		skipEval:  actions.NewSkipEvaluator(),
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Check BatchStore health
	info, err := h.batches.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "batchstore unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ready",
		"batchstore": info,
	})
}

// --- Graph Management ---

// BuildGraphRequest is the request body for building a graph. Snapshots may
// be supplied inline or, when object storage is configured, by object key.
type BuildGraphRequest struct {
	Base    json.RawMessage `json:"base,omitempty"`
	Current json.RawMessage `json:"current,omitempty"`
	Diff    json.RawMessage `json:"diff,omitempty"`

	BaseKey    string `json:"base_key,omitempty"`
	CurrentKey string `json:"current_key,omitempty"`
	DiffKey    string `json:"diff_key,omitempty"`
}

// BuildGraphResponse is the response body after building a graph.
type BuildGraphResponse struct {
	GraphID     string   `json:"graph_id"`
	Nodes       int      `json:"nodes"`
	Edges       int      `json:"edges"`
	ModifiedSet []string `json:"modified_set"`
}

// BuildGraph handles POST /api/v1/graphs
func (h *Handlers) BuildGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BuildGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	base, err := h.resolveSnapshot(ctx, req.Base, req.BaseKey)
	if err != nil {
		h.respondError(w, r, http.StatusUnprocessableEntity, "invalid base snapshot", err)
		return
	}
	current, err := h.resolveSnapshot(ctx, req.Current, req.CurrentKey)
	if err != nil {
		h.respondError(w, r, http.StatusUnprocessableEntity, "invalid current snapshot", err)
		return
	}
	diff, err := h.resolveDiff(ctx, req.Diff, req.DiffKey)
	if err != nil {
		h.respondError(w, r, http.StatusUnprocessableEntity, "invalid diff overlay", err)
		return
	}

	start := time.Now()
	g := graph.Build(base, current, diff)
	metrics.GraphBuildsTotal.Inc()
	metrics.GraphBuildDuration.Observe(time.Since(start).Seconds())
	for _, node := range g.Nodes {
		status := string(node.ChangeStatus)
		if status == "" {
			status = "unchanged"
		}
		metrics.GraphNodesTotal.WithLabelValues(status).Inc()
	}

	graphID, err := h.graphs.Put(ctx, g)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to store graph", err)
		return
	}

	h.logger.Info("graph built",
		slog.String("graph_id", graphID),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
		slog.Int("modified", len(g.ModifiedSet)),
	)

	h.respondJSON(w, http.StatusCreated, BuildGraphResponse{
		GraphID:     graphID,
		Nodes:       len(g.Nodes),
		Edges:       len(g.Edges),
		ModifiedSet: g.ModifiedSet,
	})
}

// resolveSnapshot returns a snapshot from an inline document or an object key.
func (h *Handlers) resolveSnapshot(ctx context.Context, inline json.RawMessage, key string) (*types.Snapshot, error) {
	switch {
	case len(inline) > 0:
		if h.validator != nil {
			if result := h.validator.ValidateSnapshotJSON(inline); !result.Valid {
				return nil, fmt.Errorf("schema validation failed: %s", result.Errors[0].Message)
			}
		}
		return snapshot.Decode(inline)
	case key != "":
		if h.source == nil {
			return nil, errors.New("object storage not configured")
		}
		return h.source.FetchSnapshot(ctx, key)
	default:
		return nil, nil
	}
}

// resolveDiff mirrors resolveSnapshot for the diff overlay.
func (h *Handlers) resolveDiff(ctx context.Context, inline json.RawMessage, key string) (map[string]types.NodeDiff, error) {
	switch {
	case len(inline) > 0:
		if h.validator != nil {
			if result := h.validator.ValidateDiffJSON(inline); !result.Valid {
				return nil, fmt.Errorf("schema validation failed: %s", result.Errors[0].Message)
			}
		}
		return snapshot.DecodeDiff(inline)
	case key != "":
		if h.source == nil {
			return nil, errors.New("object storage not configured")
		}
		return h.source.FetchDiff(ctx, key)
	default:
		return nil, nil
	}
}

// GetGraph handles GET /api/v1/graphs/{id}
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	graphID := mux.Vars(r)["id"]

	g, err := h.graphs.Get(ctx, graphID)
	if err != nil {
		if errors.Is(err, graphstore.ErrGraphNotFound) {
			h.respondError(w, r, http.StatusNotFound, "graph not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get graph", err)
		return
	}

	h.respondJSON(w, http.StatusOK, g)
}

// ListGraphs handles GET /api/v1/graphs
func (h *Handlers) ListGraphs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.graphs.List(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list graphs", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"graphs": ids})
}

// DeleteGraph handles DELETE /api/v1/graphs/{id}
func (h *Handlers) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	graphID := mux.Vars(r)["id"]

	if err := h.graphs.Delete(r.Context(), graphID); err != nil {
		if errors.Is(err, graphstore.ErrGraphNotFound) {
			h.respondError(w, r, http.StatusNotFound, "graph not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to delete graph", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Node Selection ---

// Selector describes one traversal from a set of seed nodes. Degree nil
// means unbounded; an explicit 0 selects the seeds alone.
type Selector struct {
	Seeds     []string `json:"seeds"`
	Direction string   `json:"direction"` // "upstream", "downstream", or "both"
	Degree    *int     `json:"degree,omitempty"`
}

// SelectRequest combines one or more selectors with a set operation.
type SelectRequest struct {
	Selectors    []Selector `json:"selectors"`
	Op           string     `json:"op,omitempty"` // "union" (default) or "intersect"
	ModifiedOnly bool       `json:"modified_only,omitempty"`
}

// SelectResponse is the response body for a selection.
type SelectResponse struct {
	Keys []string `json:"keys"`
}

// SelectNodes handles POST /api/v1/graphs/{id}/select
func (h *Handlers) SelectNodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	graphID := mux.Vars(r)["id"]

	g, err := h.graphs.Get(ctx, graphID)
	if err != nil {
		if errors.Is(err, graphstore.ErrGraphNotFound) {
			h.respondError(w, r, http.StatusNotFound, "graph not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get graph", err)
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Selectors) == 0 {
		h.respondError(w, r, http.StatusBadRequest, "at least one selector is required", nil)
		return
	}

	sets := make([]map[string]struct{}, 0, len(req.Selectors))
	for i, sel := range req.Selectors {
		degree := graph.MaxTraversalDegree
		if sel.Degree != nil {
			degree = *sel.Degree
		}
		var set map[string]struct{}
		switch sel.Direction {
		case "upstream":
			set = graph.SelectUpstream(g, sel.Seeds, degree)
		case "downstream":
			set = graph.SelectDownstream(g, sel.Seeds, degree)
		case "both", "":
			set = graph.Union(
				graph.SelectUpstream(g, sel.Seeds, degree),
				graph.SelectDownstream(g, sel.Seeds, degree),
			)
		default:
			h.respondError(w, r, http.StatusBadRequest,
				fmt.Sprintf("selector %d: unknown direction %q", i, sel.Direction), nil)
			return
		}
		sets = append(sets, set)
	}

	var combined map[string]struct{}
	switch req.Op {
	case "", "union":
		combined = graph.Union(sets...)
	case "intersect":
		combined = graph.Intersect(sets...)
	default:
		h.respondError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown op %q", req.Op), nil)
		return
	}

	keys := make([]string, 0, len(combined))
	for key := range combined {
		if req.ModifiedOnly {
			node, ok := g.Nodes[key]
			if !ok || node.ChangeStatus == "" {
				continue
			}
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h.respondJSON(w, http.StatusOK, SelectResponse{Keys: keys})
}

// --- Batch Actions ---

// StartBatchRequest is the request body for starting a batch action.
type StartBatchRequest struct {
	ActionType     string            `json:"action_type"`
	NodeKeys       []string          `json:"node_keys"`
	SkipExpression string            `json:"skip_expression,omitempty"`
	SkipReason     string            `json:"skip_reason,omitempty"`
	PrimaryKeys    map[string]string `json:"primary_keys,omitempty"`
}

// StartBatchResponse is the response body after starting a batch action.
type StartBatchResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	SSEURL  string `json:"sse_url"`
}

// StartBatch handles POST /api/v1/graphs/{id}/batches
func (h *Handlers) StartBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	graphID := mux.Vars(r)["id"]

	g, err := h.graphs.Get(ctx, graphID)
	if err != nil {
		if errors.Is(err, graphstore.ErrGraphNotFound) {
			h.respondError(w, r, http.StatusNotFound, "graph not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get graph", err)
		return
	}

	var req StartBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def, err := actions.Lookup(req.ActionType)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "unknown action type", err)
		return
	}
	if len(req.NodeKeys) == 0 {
		h.respondError(w, r, http.StatusBadRequest, "node_keys must not be empty", nil)
		return
	}

	nodes := make([]*types.Node, 0, len(req.NodeKeys))
	for _, key := range req.NodeKeys {
		node, ok := g.Nodes[key]
		if !ok {
			h.respondError(w, r, http.StatusBadRequest, fmt.Sprintf("node %q not in graph", key), nil)
			return
		}
		nodes = append(nodes, node)
	}

	exprSkip, err := h.skipEval.SkipFunc(req.SkipExpression, req.SkipReason)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid skip expression", err)
		return
	}

	// One active batch at a time across the service.
	if !h.batchActive.CompareAndSwap(false, true) {
		h.respondError(w, r, http.StatusConflict, "a batch is already in flight", runner.ErrBatchInFlight)
		return
	}

	state := types.NewActionState()
	state.Mode = def.Mode
	state.Total = len(nodes)
	if def.Mode == types.BatchModeMultiNodes {
		state.Total = 1
	}
	for _, node := range nodes {
		state.Actions[node.Key] = &types.NodeAction{Mode: def.Mode, Status: types.NodeActionPending}
	}

	batchID, err := h.batches.CreateBatch(ctx, req.ActionType, graphID, state)
	if err != nil {
		h.batchActive.Store(false)
		metrics.BatchStoreOperations.WithLabelValues("create", "error").Inc()
		h.respondError(w, r, http.StatusInternalServerError, "failed to create batch", err)
		return
	}
	metrics.BatchStoreOperations.WithLabelValues("create", "success").Inc()

	h.activeMu.Lock()
	h.activeBatchID = batchID
	h.activeMu.Unlock()

	h.runner.Reset()
	h.runner.OnChange(h.batchObserver(batchID))

	go h.executeBatch(batchID, def, nodes, exprSkip, req.PrimaryKeys)

	h.respondJSON(w, http.StatusAccepted, StartBatchResponse{
		BatchID: batchID,
		Status:  string(types.BatchStatusRunning),
		SSEURL:  "/api/v1/batches/" + batchID + "/events",
	})
}

// executeBatch drives one batch to a terminal state in the background.
func (h *Handlers) executeBatch(batchID string, def actions.Definition, nodes []*types.Node, exprSkip runner.SkipFunc, primaryKeys map[string]string) {
	ctx := context.Background()

	metrics.BatchesActive.Inc()
	defer metrics.BatchesActive.Dec()
	defer func() {
		h.activeMu.Lock()
		h.activeBatchID = ""
		h.activeMu.Unlock()
		h.batchActive.Store(false)
	}()

	var err error
	switch def.Mode {
	case types.BatchModeMultiNodes:
		skip := func(node *types.Node) string {
			if reason := exprSkip(node); reason != "" {
				return reason
			}
			return actions.RowCountSkip(node)
		}
		err = h.runner.RunForNodes(ctx, def.Type, nodes, skip, actions.RowCountParams)
	case types.BatchModePerNode:
		getParams := actions.ValueDiffParams(primaryKeys)
		withExpr := func(node *types.Node) (map[string]any, string) {
			if reason := exprSkip(node); reason != "" {
				return nil, reason
			}
			return getParams(node)
		}
		err = h.runner.RunPerNode(ctx, def.Type, nodes, withExpr)
	}
	if err != nil {
		h.logger.Error("batch execution failed", "batch_id", batchID, "error", err)
	}

	if _, err := h.batches.AppendEvent(ctx, batchID, &types.EventInput{
		Type: types.EventTypeStreamEnd,
		Data: types.BatchStatusEvent{Status: h.runner.Snapshot().Status},
	}); err != nil {
		h.logger.Warn("append stream end event", "batch_id", batchID, "error", err)
	}
}

// batchObserver persists each runner state mutation and derives progress
// events from the deltas between consecutive snapshots.
func (h *Handlers) batchObserver(batchID string) runner.Observer {
	var prev *types.ActionState
	return func(state *types.ActionState) {
		ctx := context.Background()

		if err := h.batches.UpdateState(ctx, batchID, state); err != nil {
			metrics.BatchStoreOperations.WithLabelValues("update", "error").Inc()
			h.logger.Warn("persist batch state", "batch_id", batchID, "error", err)
		} else {
			metrics.BatchStoreOperations.WithLabelValues("update", "success").Inc()
		}

		if prev == nil || prev.Status != state.Status {
			h.appendEvent(ctx, batchID, &types.EventInput{
				Type: types.EventTypeBatchStatus,
				Data: types.BatchStatusEvent{Status: state.Status},
			})
		}

		for key, action := range state.Actions {
			var before types.NodeActionStatus
			if prev != nil {
				if prevAction, ok := prev.Actions[key]; ok {
					before = prevAction.Status
				}
			}
			if action.Status == before {
				continue
			}
			data := types.NodeStatusEvent{Status: action.Status, SkipReason: action.SkipReason}
			if action.Run != nil {
				data.RunID = action.Run.RunID
				data.Error = action.Run.Error
			}
			h.appendEvent(ctx, batchID, &types.EventInput{
				Type:    types.EventTypeNodeStatus,
				NodeKey: key,
				Data:    data,
			})
		}

		if prev == nil || prev.Completed != state.Completed {
			h.appendEvent(ctx, batchID, &types.EventInput{
				Type: types.EventTypeProgress,
				Data: types.ProgressEvent{Completed: state.Completed, Total: state.Total},
			})
		}

		prev = state
	}
}

func (h *Handlers) appendEvent(ctx context.Context, batchID string, input *types.EventInput) {
	if _, err := h.batches.AppendEvent(ctx, batchID, input); err != nil {
		h.logger.Warn("append batch event", "batch_id", batchID, "type", string(input.Type), "error", err)
	}
}

// GetBatch handles GET /api/v1/batches/{id}
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := mux.Vars(r)["id"]

	batch, err := h.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, batchstore.ErrBatchNotFound) {
			h.respondError(w, r, http.StatusNotFound, "batch not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get batch", err)
		return
	}

	h.respondJSON(w, http.StatusOK, batch)
}

// ListBatches handles GET /api/v1/batches
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	ids, err := h.batches.ListBatches(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to list batches", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"batches": ids})
}

// CancelBatch handles POST /api/v1/batches/{id}/cancel
func (h *Handlers) CancelBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := mux.Vars(r)["id"]

	batch, err := h.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, batchstore.ErrBatchNotFound) {
			h.respondError(w, r, http.StatusNotFound, "batch not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get batch", err)
		return
	}

	// Cancelling a finished batch is benign.
	if batch.State != nil && batch.State.Status.Terminal() {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": string(batch.State.Status)})
		return
	}

	h.activeMu.Lock()
	active := h.activeBatchID == batchID
	h.activeMu.Unlock()
	if !active {
		h.respondError(w, r, http.StatusConflict, "batch is not running", nil)
		return
	}

	h.runner.Cancel(ctx)
	h.respondJSON(w, http.StatusOK, map[string]string{"status": string(types.BatchStatusCanceling)})
}

// --- BatchStore Diagnostics ---

// BatchStoreInfo handles GET /api/v1/batchstore/info
func (h *Handlers) BatchStoreInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.batches.AdapterInfo(r.Context())
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to get batchstore info", err)
		return
	}
	h.respondJSON(w, http.StatusOK, info)
}

// BatchStoreSelfCheck handles GET /api/v1/batchstore/selfcheck
func (h *Handlers) BatchStoreSelfCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Simple self-check: create a batch, append an event, read it back
	start := time.Now()

	state := types.NewActionState()
	batchID, err := h.batches.CreateBatch(ctx, "_selfcheck", "", state)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "selfcheck failed: create", err)
		return
	}

	_, err = h.batches.AppendEvent(ctx, batchID, &types.EventInput{
		Type: types.EventTypeHello,
		Data: map[string]string{"message": "selfcheck"},
	})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "selfcheck failed: append", err)
		return
	}

	events, err := h.batches.GetEventsSince(ctx, batchID, "")
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "selfcheck failed: read", err)
		return
	}

	state.Status = types.BatchStatusCompleted
	if err := h.batches.UpdateState(ctx, batchID, state); err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "selfcheck failed: update", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"latency_ms":  time.Since(start).Milliseconds(),
		"event_count": len(events),
	})
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)
	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"cause": err.Error()}
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, details)
}
