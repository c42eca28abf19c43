package types

import (
	"encoding/json"
	"time"
)

// BatchStatus represents the overall state of a batch action.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCanceling BatchStatus = "canceling"
	BatchStatusCanceled  BatchStatus = "canceled"
	BatchStatusCompleted BatchStatus = "completed"
)

// Terminal reports whether the status is a terminal state.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCanceled || s == BatchStatusCompleted
}

// BatchMode selects the execution strategy for a batch action.
type BatchMode string

const (
	// BatchModePerNode submits one remote run per node, sequentially.
	BatchModePerNode BatchMode = "per_node"

	// BatchModeMultiNodes submits a single remote run covering all
	// candidate nodes at once.
	BatchModeMultiNodes BatchMode = "multi_nodes"
)

// NodeActionStatus represents the state of one node within a batch action.
type NodeActionStatus string

const (
	NodeActionPending NodeActionStatus = "pending"
	NodeActionRunning NodeActionStatus = "running"
	NodeActionSuccess NodeActionStatus = "success"
	NodeActionFailure NodeActionStatus = "failure"
	NodeActionSkipped NodeActionStatus = "skipped"
)

// RunRecord is the observable state of a remote run tracked by the external
// job API. Presence of either Error or Result marks the run as resolved.
type RunRecord struct {
	RunID  string          `json:"run_id"`
	Type   string          `json:"type,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Resolved reports whether the run has reached a terminal state.
func (r *RunRecord) Resolved() bool {
	return r != nil && (r.Error != "" || len(r.Result) > 0)
}

// NodeAction tracks the progress of a single node within a batch action.
type NodeAction struct {
	Mode       BatchMode        `json:"mode"`
	Status     NodeActionStatus `json:"status"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Run        *RunRecord       `json:"run,omitempty"`
}

// ActionState is the mutable progress record of one batch action invocation.
// It is exclusively owned by a single in-flight batch; callers must Reset it
// before reuse after a terminal state.
type ActionState struct {
	Mode      BatchMode              `json:"mode"`
	Status    BatchStatus            `json:"status"`
	Completed int                    `json:"completed"`
	Total     int                    `json:"total"`
	Actions   map[string]*NodeAction `json:"actions"`

	// CurrentRun references the remote run currently in flight, if any.
	CurrentRun *RunRecord `json:"current_run,omitempty"`
}

// NewActionState returns an ActionState in its initial shape.
func NewActionState() *ActionState {
	s := &ActionState{}
	s.Reset()
	return s
}

// Reset restores the initial shape regardless of the current state.
func (s *ActionState) Reset() {
	s.Mode = BatchModePerNode
	s.Status = BatchStatusPending
	s.Completed = 0
	s.Total = 0
	s.Actions = make(map[string]*NodeAction)
	s.CurrentRun = nil
}

// Clone returns a deep copy of the state, safe to hand to observers.
func (s *ActionState) Clone() *ActionState {
	out := &ActionState{
		Mode:      s.Mode,
		Status:    s.Status,
		Completed: s.Completed,
		Total:     s.Total,
		Actions:   make(map[string]*NodeAction, len(s.Actions)),
	}
	if s.CurrentRun != nil {
		run := *s.CurrentRun
		out.CurrentRun = &run
	}
	for key, action := range s.Actions {
		a := *action
		if action.Run != nil {
			run := *action.Run
			a.Run = &run
		}
		out.Actions[key] = &a
	}
	return out
}

// Batch is a stored batch action with its identifying metadata.
type Batch struct {
	ID         string       `json:"id"`
	ActionType string       `json:"action_type"`
	GraphID    string       `json:"graph_id,omitempty"`
	State      *ActionState `json:"state"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
