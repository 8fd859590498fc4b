package streaming

import (
	"context"
	"slices"
	"time"
)

// StreamEvent is a real-time event emitted while a run executes.
type StreamEvent struct {
	RunID      string    `json:"runId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	NodeID     string    `json:"nodeId,omitempty"`
	EventType  string    `json:"eventType"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	RunID      string   `json:"runId,omitempty"`
	WorkflowID string   `json:"workflowId,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
}

// Matches reports whether e passes every non-empty field of f.
func (f EventFilter) Matches(e StreamEvent) bool {
	switch {
	case f.RunID != "" && f.RunID != e.RunID:
		return false
	case f.WorkflowID != "" && f.WorkflowID != e.WorkflowID:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType):
		return false
	}
	return true
}

// EventHub provides pub/sub for run events. Approval requests reach
// approvers through subscriptions filtered on approval event types.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
