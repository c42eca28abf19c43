package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/driftlab/lineage/pkg/types"
)

// mockClient implements RunClient for tests.
type mockClient struct {
	mu      sync.Mutex
	submits []string // submitted run types, in order
	polls   map[string]int
	cancels []string

	submitFunc func(runType string, params map[string]any) (string, error)
	waitFunc   func(runID string, poll int) (*types.RunRecord, error)
	cancelFunc func(runID string) error
}

func newMockClient() *mockClient {
	return &mockClient{polls: make(map[string]int)}
}

func (m *mockClient) SubmitRun(ctx context.Context, runType string, params map[string]any, nowait bool) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, runType)
	n := len(m.submits)
	m.mu.Unlock()

	if m.submitFunc != nil {
		return m.submitFunc(runType, params)
	}
	return fmt.Sprintf("run-%d", n), nil
}

func (m *mockClient) WaitRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	m.mu.Lock()
	m.polls[runID]++
	poll := m.polls[runID]
	m.mu.Unlock()

	if m.waitFunc != nil {
		return m.waitFunc(runID, poll)
	}
	return &types.RunRecord{RunID: runID, Result: []byte(`{"ok":true}`)}, nil
}

func (m *mockClient) CancelRun(ctx context.Context, runID string) error {
	m.mu.Lock()
	m.cancels = append(m.cancels, runID)
	m.mu.Unlock()

	if m.cancelFunc != nil {
		return m.cancelFunc(runID)
	}
	return nil
}

func nodesOf(keys ...string) []*types.Node {
	out := make([]*types.Node, 0, len(keys))
	for _, key := range keys {
		out = append(out, &types.Node{Key: key, ResourceType: "model"})
	}
	return out
}

func noSkip(*types.Node) string { return "" }

func allParams(nodes []*types.Node) map[string]any {
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	return map[string]any{"node_keys": keys}
}

func TestRunForNodes_SkipAccounting(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	skip := func(node *types.Node) string {
		if node.Key == "seed1" || node.Key == "seed2" {
			return "not a model"
		}
		return ""
	}

	err := r.RunForNodes(context.Background(), "row_count", nodesOf("m1", "seed1", "m2", "seed2"), skip, allParams)
	if err != nil {
		t.Fatalf("RunForNodes: %v", err)
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if state.Total != 1 || state.Completed != 1 {
		t.Errorf("completed/total = %d/%d, want 1/1", state.Completed, state.Total)
	}

	skipped := 0
	for key, action := range state.Actions {
		if action.Status == types.NodeActionSkipped {
			skipped++
			if action.SkipReason == "" {
				t.Errorf("node %s skipped without reason", key)
			}
		}
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}

	for _, key := range []string{"m1", "m2"} {
		if got := state.Actions[key].Status; got != types.NodeActionSuccess {
			t.Errorf("node %s status = %s, want success", key, got)
		}
	}
	if len(client.submits) != 1 {
		t.Errorf("submits = %d, want exactly one run", len(client.submits))
	}
}

func TestRunForNodes_RunErrorStillCompletes(t *testing.T) {
	client := newMockClient()
	client.waitFunc = func(runID string, poll int) (*types.RunRecord, error) {
		if poll < 3 {
			return &types.RunRecord{RunID: runID}, nil // still pending
		}
		return &types.RunRecord{RunID: runID, Error: "query timed out"}, nil
	}
	r := New(client, nil)

	if err := r.RunForNodes(context.Background(), "row_count", nodesOf("a", "b"), noSkip, allParams); err != nil {
		t.Fatalf("RunForNodes: %v", err)
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCompleted {
		t.Fatalf("status = %s, want completed despite run failure", state.Status)
	}
	for _, key := range []string{"a", "b"} {
		action := state.Actions[key]
		if action.Status != types.NodeActionFailure {
			t.Errorf("node %s status = %s, want failure", key, action.Status)
		}
		if action.Run == nil || action.Run.Error != "query timed out" {
			t.Errorf("node %s missing run error", key)
		}
	}
}

func TestRunForNodes_TransportErrorsSurfaceAsFailure(t *testing.T) {
	t.Run("submit error", func(t *testing.T) {
		client := newMockClient()
		client.submitFunc = func(string, map[string]any) (string, error) {
			return "", errors.New("connection refused")
		}
		r := New(client, nil)

		if err := r.RunForNodes(context.Background(), "row_count", nodesOf("a"), noSkip, allParams); err != nil {
			t.Fatalf("RunForNodes: %v", err)
		}
		state := r.Snapshot()
		if state.Status != types.BatchStatusCompleted {
			t.Fatalf("status = %s, want completed", state.Status)
		}
		action := state.Actions["a"]
		if action.Status != types.NodeActionFailure || action.Run == nil || action.Run.Error == "" {
			t.Errorf("transport failure not visible on node: %+v", action)
		}
	})

	t.Run("poll error", func(t *testing.T) {
		client := newMockClient()
		client.waitFunc = func(string, int) (*types.RunRecord, error) {
			return nil, errors.New("gateway unreachable")
		}
		r := New(client, nil)

		if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("a"), func(*types.Node) (map[string]any, string) {
			return map[string]any{}, ""
		}); err != nil {
			t.Fatalf("RunPerNode: %v", err)
		}
		state := r.Snapshot()
		if state.Status != types.BatchStatusCompleted {
			t.Fatalf("status = %s, want completed", state.Status)
		}
		if state.Actions["a"].Status != types.NodeActionFailure {
			t.Errorf("node status = %s, want failure", state.Actions["a"].Status)
		}
	})
}

func TestRunForNodes_CancelDuringPoll(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	client.waitFunc = func(runID string, poll int) (*types.RunRecord, error) {
		if poll == 1 {
			// Cancellation arrives mid-poll; the loop must keep polling
			// until the run resolves.
			r.Cancel(context.Background())
			return &types.RunRecord{RunID: runID}, nil
		}
		return &types.RunRecord{RunID: runID, Result: []byte(`{}`)}, nil
	}

	if err := r.RunForNodes(context.Background(), "row_count", nodesOf("a"), noSkip, allParams); err != nil {
		t.Fatalf("RunForNodes: %v", err)
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCanceled {
		t.Fatalf("status = %s, want canceled", state.Status)
	}
	// The run itself resolved before the checkpoint, so the node keeps its
	// own outcome.
	if state.Actions["a"].Status != types.NodeActionSuccess {
		t.Errorf("node status = %s, want success", state.Actions["a"].Status)
	}
	if len(client.cancels) != 1 {
		t.Errorf("remote cancels = %d, want 1", len(client.cancels))
	}
}

func TestRunPerNode_SequentialOrder(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	var order []string
	getParams := func(node *types.Node) (map[string]any, string) {
		order = append(order, node.Key)
		return map[string]any{"node": node.Key}, ""
	}

	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("n1", "n2", "n3"), getParams); err != nil {
		t.Fatalf("RunPerNode: %v", err)
	}

	want := []string{"n1", "n2", "n3"}
	for i, key := range want {
		if order[i] != key {
			t.Fatalf("processing order = %v, want %v", order, want)
		}
	}
	if len(client.submits) != 3 {
		t.Errorf("submits = %d, want 3", len(client.submits))
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if state.Completed != 3 || state.Total != 3 {
		t.Errorf("completed/total = %d/%d, want 3/3", state.Completed, state.Total)
	}
}

func TestRunPerNode_CancelCheckpoint(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	client.waitFunc = func(runID string, poll int) (*types.RunRecord, error) {
		if runID == "run-2" && poll == 1 {
			// Cancel while node 2's run is in flight.
			r.Cancel(context.Background())
		}
		return &types.RunRecord{RunID: runID, Result: []byte(`{}`)}, nil
	}

	getParams := func(node *types.Node) (map[string]any, string) {
		return map[string]any{"node": node.Key}, ""
	}
	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("n1", "n2", "n3"), getParams); err != nil {
		t.Fatalf("RunPerNode: %v", err)
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCanceled {
		t.Fatalf("status = %s, want canceled", state.Status)
	}
	if got := state.Actions["n1"].Status; got != types.NodeActionSuccess {
		t.Errorf("n1 status = %s, want success", got)
	}
	// Node 2 completes its own run to resolution before the batch stops.
	if got := state.Actions["n2"].Status; got != types.NodeActionSuccess {
		t.Errorf("n2 status = %s, want success", got)
	}
	// Node 3 is never reached.
	if got := state.Actions["n3"].Status; got != types.NodeActionPending {
		t.Errorf("n3 status = %s, want pending", got)
	}
	if state.Completed != 2 {
		t.Errorf("completed = %d, want 2", state.Completed)
	}
	if len(client.submits) != 2 {
		t.Errorf("submits = %d, want 2 (n3 abandoned)", len(client.submits))
	}
}

func TestRunPerNode_FailureDoesNotHaltBatch(t *testing.T) {
	client := newMockClient()
	client.submitFunc = func(runType string, params map[string]any) (string, error) {
		if params["node"] == "bad" {
			return "", errors.New("boom")
		}
		return "run-ok", nil
	}
	r := New(client, nil)

	getParams := func(node *types.Node) (map[string]any, string) {
		return map[string]any{"node": node.Key}, ""
	}
	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("bad", "good"), getParams); err != nil {
		t.Fatalf("RunPerNode: %v", err)
	}

	state := r.Snapshot()
	if state.Status != types.BatchStatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if state.Actions["bad"].Status != types.NodeActionFailure {
		t.Errorf("bad status = %s, want failure", state.Actions["bad"].Status)
	}
	if state.Actions["good"].Status != types.NodeActionSuccess {
		t.Errorf("good status = %s, want success", state.Actions["good"].Status)
	}
}

func TestRunPerNode_SkipReason(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	getParams := func(node *types.Node) (map[string]any, string) {
		if node.Key == "no_pk" {
			return nil, "no primary key configured"
		}
		return map[string]any{"node": node.Key}, ""
	}
	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("no_pk", "ok"), getParams); err != nil {
		t.Fatalf("RunPerNode: %v", err)
	}

	state := r.Snapshot()
	action := state.Actions["no_pk"]
	if action.Status != types.NodeActionSkipped || action.SkipReason != "no primary key configured" {
		t.Errorf("skip not recorded: %+v", action)
	}
	if state.Completed != 2 {
		t.Errorf("completed = %d, want 2 (skips count)", state.Completed)
	}
}

func TestRunner_NotReentrant(t *testing.T) {
	client := newMockClient()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client.waitFunc = func(runID string, poll int) (*types.RunRecord, error) {
		started <- struct{}{}
		<-release
		return &types.RunRecord{RunID: runID, Result: []byte(`{}`)}, nil
	}
	r := New(client, nil)

	done := make(chan error, 1)
	go func() {
		done <- r.RunForNodes(context.Background(), "row_count", nodesOf("a"), noSkip, allParams)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never started")
	}

	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("b"), func(*types.Node) (map[string]any, string) {
		return map[string]any{}, ""
	}); !errors.Is(err, ErrBatchInFlight) {
		t.Errorf("second batch error = %v, want ErrBatchInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first batch: %v", err)
	}
}

func TestRunner_Reset(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	if err := r.RunForNodes(context.Background(), "row_count", nodesOf("a"), noSkip, allParams); err != nil {
		t.Fatalf("RunForNodes: %v", err)
	}
	r.Reset()

	state := r.Snapshot()
	if state.Status != types.BatchStatusPending || state.Mode != types.BatchModePerNode {
		t.Errorf("reset state = %s/%s, want pending/per_node", state.Status, state.Mode)
	}
	if state.Completed != 0 || state.Total != 0 || len(state.Actions) != 0 || state.CurrentRun != nil {
		t.Errorf("reset did not zero the state: %+v", state)
	}
}

func TestRunner_ObserverSeesOrderedTransitions(t *testing.T) {
	client := newMockClient()
	client.waitFunc = func(runID string, poll int) (*types.RunRecord, error) {
		if poll < 2 {
			return &types.RunRecord{RunID: runID}, nil
		}
		return &types.RunRecord{RunID: runID, Result: []byte(`{}`)}, nil
	}
	r := New(client, nil)

	var seen []types.NodeActionStatus
	r.OnChange(func(state *types.ActionState) {
		if action, ok := state.Actions["a"]; ok {
			if len(seen) == 0 || seen[len(seen)-1] != action.Status {
				seen = append(seen, action.Status)
			}
		}
	})

	if err := r.RunPerNode(context.Background(), "value_diff", nodesOf("a"), func(*types.Node) (map[string]any, string) {
		return map[string]any{}, ""
	}); err != nil {
		t.Fatalf("RunPerNode: %v", err)
	}

	want := []types.NodeActionStatus{types.NodeActionPending, types.NodeActionRunning, types.NodeActionSuccess}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seen, want)
		}
	}
}

func TestCancel_FromPendingIsBenign(t *testing.T) {
	client := newMockClient()
	r := New(client, nil)

	r.Cancel(context.Background())
	if got := r.Snapshot().Status; got != types.BatchStatusCanceling {
		t.Errorf("status = %s, want canceling", got)
	}
	if len(client.cancels) != 0 {
		t.Errorf("no remote run should be canceled, got %d", len(client.cancels))
	}

	r.Reset()
	if got := r.Snapshot().Status; got != types.BatchStatusPending {
		t.Errorf("status after reset = %s, want pending", got)
	}
}
