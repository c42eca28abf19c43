package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of batch progress event.
type EventType string

const (
	EventTypeHello       EventType = "hello"
	EventTypeBatchStatus EventType = "batch_status"
	EventTypeNodeStatus  EventType = "node_status"
	EventTypeProgress    EventType = "progress"
	EventTypeStreamEnd   EventType = "stream_end"
)

// Event represents a single event in a batch's progress stream.
type Event struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	Type      EventType       `json:"type"`
	NodeKey   string          `json:"node_key,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type    EventType `json:"type"`
	NodeKey string    `json:"node_key,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// BatchStatusEvent is the data payload for batch status change events.
type BatchStatusEvent struct {
	Status BatchStatus `json:"status"`
}

// NodeStatusEvent is the data payload for node status change events.
type NodeStatusEvent struct {
	Status     NodeActionStatus `json:"status"`
	SkipReason string           `json:"skip_reason,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ProgressEvent is the data payload for progress events.
type ProgressEvent struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ToSSE formats the event for the Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
