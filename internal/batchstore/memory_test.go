package batchstore

import (
	"context"
	"testing"
	"time"

	"github.com/driftlab/lineage/pkg/types"
)

func newState() *types.ActionState {
	state := types.NewActionState()
	state.Total = 2
	for _, key := range []string{"model.app.orders", "model.app.items"} {
		state.Actions[key] = &types.NodeAction{
			Mode:   types.BatchModePerNode,
			Status: types.NodeActionPending,
		}
	}
	return state
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	batchID, err := store.CreateBatch(ctx, "value_diff", "graph-1", newState())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if batchID == "" {
		t.Fatal("expected batch ID to be generated")
	}

	batch, err := store.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if batch.ActionType != "value_diff" {
		t.Errorf("action type = %q", batch.ActionType)
	}
	if batch.GraphID != "graph-1" {
		t.Errorf("graph ID = %q", batch.GraphID)
	}
	if batch.State == nil || batch.State.Total != 2 {
		t.Errorf("state = %+v", batch.State)
	}
	if batch.CreatedAt.IsZero() || batch.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	if _, err := store.GetBatch(ctx, "missing"); err != ErrBatchNotFound {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	batchID, _ := store.CreateBatch(ctx, "row_count", "g", newState())

	first, _ := store.GetBatch(ctx, batchID)
	first.State.Status = types.BatchStatusCompleted
	first.State.Actions["model.app.orders"].Status = types.NodeActionSuccess

	second, _ := store.GetBatch(ctx, batchID)
	if second.State.Status != types.BatchStatusPending {
		t.Error("mutating a returned batch leaked into the store")
	}
	if second.State.Actions["model.app.orders"].Status != types.NodeActionPending {
		t.Error("mutating a returned action leaked into the store")
	}
}

func TestMemoryStore_UpdateState(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	batchID, _ := store.CreateBatch(ctx, "row_count", "g", newState())

	state := newState()
	state.Status = types.BatchStatusRunning
	state.Completed = 1
	if err := store.UpdateState(ctx, batchID, state); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	batch, _ := store.GetBatch(ctx, batchID)
	if batch.State.Status != types.BatchStatusRunning || batch.State.Completed != 1 {
		t.Errorf("state = %+v", batch.State)
	}

	if err := store.UpdateState(ctx, "missing", state); err != ErrBatchNotFound {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestMemoryStore_ListBatches(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.CreateBatch(ctx, "row_count", "g", newState())
	}

	ids, err := store.ListBatches(ctx)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 batches, got %d", len(ids))
	}
}

func TestMemoryStore_Events(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	batchID, _ := store.CreateBatch(ctx, "row_count", "g", newState())

	for i := 0; i < 3; i++ {
		if _, err := store.AppendEvent(ctx, batchID, &types.EventInput{
			Type: types.EventTypeBatchStatus,
			Data: map[string]any{"seq": i},
		}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	t.Run("all events from the beginning", func(t *testing.T) {
		events, err := store.GetEventsSince(ctx, batchID, "")
		if err != nil {
			t.Fatalf("GetEventsSince failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		if events[0].ID != "1" || events[2].ID != "3" {
			t.Errorf("event IDs = %s..%s", events[0].ID, events[2].ID)
		}
	})

	t.Run("events after a given ID", func(t *testing.T) {
		events, err := store.GetEventsSince(ctx, batchID, "2")
		if err != nil {
			t.Fatalf("GetEventsSince failed: %v", err)
		}
		if len(events) != 1 || events[0].ID != "3" {
			t.Errorf("events = %+v", events)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		if _, err := store.GetEventsSince(ctx, "missing", ""); err != ErrBatchNotFound {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_EventRingBuffer(t *testing.T) {
	store := NewMemoryStore(&Config{EventMaxLen: 2})
	defer store.Close()
	ctx := context.Background()

	batchID, _ := store.CreateBatch(ctx, "row_count", "g", newState())
	for i := 0; i < 5; i++ {
		store.AppendEvent(ctx, batchID, &types.EventInput{Type: types.EventTypeProgress})
	}

	events, _ := store.GetEventsSince(ctx, batchID, "")
	if len(events) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(events))
	}
	if events[0].ID != "4" || events[1].ID != "5" {
		t.Errorf("retained IDs = %s, %s", events[0].ID, events[1].ID)
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()
	ctx := context.Background()

	batchID, _ := store.CreateBatch(ctx, "row_count", "g", newState())

	ch, cleanup, err := store.Subscribe(ctx, batchID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cleanup()

	store.AppendEvent(ctx, batchID, &types.EventInput{
		Type:    types.EventTypeNodeStatus,
		NodeKey: "model.app.orders",
	})

	select {
	case evt := <-ch:
		if evt.Type != types.EventTypeNodeStatus || evt.NodeKey != "model.app.orders" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	if _, _, err := store.Subscribe(ctx, "missing"); err != ErrBatchNotFound {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestMemoryStore_AdapterInfo(t *testing.T) {
	store := NewMemoryStore(nil)
	defer store.Close()

	info, err := store.AdapterInfo(context.Background())
	if err != nil {
		t.Fatalf("AdapterInfo failed: %v", err)
	}
	if info["adapter"] != "memory" {
		t.Errorf("adapter = %v", info["adapter"])
	}
}
