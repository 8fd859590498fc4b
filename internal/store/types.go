package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/schedflow/pkg/schema"
)

// Event is an append-only record of something that happened during a run.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"runId"`
	NodeID    string          `json:"nodeId,omitempty"`
	Type      string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Trigger is a cron schedule that starts a workflow at a designated node.
type Trigger struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflowId"`
	CronExpression string         `json:"cronExpression"`
	StartNodeID    string         `json:"startNodeId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time     `json:"nextRunAt,omitempty"`
	LastRunStatus  string         `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status  *schema.WorkflowStatus `json:"status,omitempty"`
	OwnerID string                 `json:"ownerId,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
	Offset  int                    `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow. Nil fields are left unchanged.
type WorkflowUpdate struct {
	Name   *string                `json:"name,omitempty"`
	Status *schema.WorkflowStatus `json:"status,omitempty"`
	Nodes  []schema.Node          `json:"nodes,omitempty"`
	Edges  []schema.Edge          `json:"edges,omitempty"`
}

// RunUpdate specifies mutable fields of a run. Nil fields are left unchanged.
type RunUpdate struct {
	Status          *schema.RunStatus `json:"status,omitempty"`
	Result          any               `json:"result,omitempty"`
	Error           *string           `json:"error,omitempty"`
	Context         map[string]any    `json:"context,omitempty"`
	ResumeNodeID    *string           `json:"resumeNodeId,omitempty"`
	PendingApprover *string           `json:"pendingApprover,omitempty"`
	FinishedAt      *time.Time        `json:"finishedAt,omitempty"`

	// LoopFrames replaces the stored frames; an empty slice clears them.
	LoopFrames *[]schema.LoopFrame `json:"loopFrames,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID      string            `json:"workflowId,omitempty"`
	Status          *schema.RunStatus `json:"status,omitempty"`
	PendingApprover string            `json:"pendingApprover,omitempty"`
	Limit           int               `json:"limit,omitempty"`
}

// TriggerUpdate specifies mutable fields of a trigger.
type TriggerUpdate struct {
	Enabled        *bool      `json:"enabled,omitempty"`
	CronExpression *string    `json:"cronExpression,omitempty"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LastRunStatus  string     `json:"lastRunStatus,omitempty"`
}

// TriggerFilter specifies criteria for listing triggers.
type TriggerFilter struct {
	WorkflowID string `json:"workflowId,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
