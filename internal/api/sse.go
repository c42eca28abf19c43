package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/driftlab/lineage/internal/batchstore"
	"github.com/driftlab/lineage/internal/metrics"
	"github.com/driftlab/lineage/pkg/types"
)

// StreamBatchEvents handles GET /api/v1/batches/{id}/events
// It implements Server-Sent Events (SSE) for streaming batch progress.
func (h *Handlers) StreamBatchEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := mux.Vars(r)["id"]
	startTime := time.Now()

	// Extract request ID for logging
	requestID := GetRequestID(ctx, r)

	// Track active SSE connections
	metrics.SSEActiveConnections.Inc()
	defer metrics.SSEActiveConnections.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("batch_id", batchID),
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Check if batch exists
	batch, err := h.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, batchstore.ErrBatchNotFound) {
			h.respondError(w, r, http.StatusNotFound, "batch not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get batch", err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Check for Last-Event-ID header for resumption
	lastEventID := r.Header.Get("Last-Event-ID")

	// Flush headers
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, &types.Event{
		ID:        "0",
		BatchID:   batchID,
		Type:      types.EventTypeHello,
		Timestamp: time.Now().UTC(),
	})

	// Replay historical events (all of them, or those after Last-Event-ID)
	events, err := h.batches.GetEventsSince(ctx, batchID, lastEventID)
	if err != nil {
		h.logger.Error("failed to get historical events", "error", err, "batch_id", batchID)
	} else {
		for _, evt := range events {
			h.writeSSE(w, flusher, evt)
			if evt.Type == types.EventTypeStreamEnd {
				h.closeStream(batchID, requestID, startTime, "batch_finished")
				return
			}
		}
	}

	// A terminal batch produces no further events; end the stream now.
	if batch.State != nil && batch.State.Status.Terminal() {
		h.sendStreamEnd(w, flusher, batchID, batch.State.Status)
		h.closeStream(batchID, requestID, startTime, "batch_finished")
		return
	}

	// Subscribe to new events
	eventCh, cleanup, err := h.batches.Subscribe(ctx, batchID)
	if err != nil {
		h.logger.Error("failed to subscribe to events", "error", err, "batch_id", batchID)
		return
	}
	defer cleanup()

	// Create a done channel for client disconnect
	done := r.Context().Done()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	// Stream events
	for {
		select {
		case <-done:
			// Client disconnected
			h.closeStream(batchID, requestID, startTime, "client_disconnect")
			return

		case evt, ok := <-eventCh:
			if !ok {
				h.closeStream(batchID, requestID, startTime, "channel_closed")
				return
			}
			h.writeSSE(w, flusher, evt)
			if evt.Type == types.EventTypeStreamEnd {
				h.closeStream(batchID, requestID, startTime, "batch_finished")
				return
			}

		case <-heartbeat.C:
			// Send a heartbeat comment to keep connection alive
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// closeStream records metrics and logs the end of an SSE connection.
func (h *Handlers) closeStream(batchID, requestID string, startTime time.Time, reason string) {
	duration := time.Since(startTime)
	metrics.SSEConnectionDuration.Observe(duration.Seconds())
	h.logger.Info("SSE connection closed",
		slog.String("batch_id", batchID),
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("reason", reason),
	)
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) {
	if evt == nil {
		return
	}
	data := evt.ToSSE()
	_, err := w.Write(data)
	if err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	_, err := w.Write([]byte(": " + comment + "\n\n"))
	if err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}

// sendStreamEnd emits a final event carrying the batch's terminal status.
func (h *Handlers) sendStreamEnd(w http.ResponseWriter, flusher http.Flusher, batchID string, status types.BatchStatus) {
	evt := &types.Event{
		ID:        "final",
		BatchID:   batchID,
		Type:      types.EventTypeStreamEnd,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(types.BatchStatusEvent{Status: status})
	if err == nil {
		evt.Data = data
	}
	h.writeSSE(w, flusher, evt)
}
