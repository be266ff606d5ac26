package streaming

import (
	"encoding/json"
	"time"
)

// Event types published while a research request runs
const (
	EventRouted          = "router_decision"
	EventQueriesPlanned  = "queries_planned"
	EventRoundDispatched = "round_dispatched"
	EventReflection      = "reflection_verdict"
	EventFinalized       = "finalized"
	EventFailed          = "failed"
)

// Event is one progress update for a workflow
type Event struct {
	WorkflowID string                 `json:"workflow_id"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
	StreamID   string                 `json:"stream_id,omitempty"`
}

// Marshal returns JSON for logs and CLI output
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
