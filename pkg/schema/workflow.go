package schema

import "time"

// WorkflowStatus gates whether a workflow may be triggered by the scheduler.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusArchived:
		return true
	}
	return false
}

// NodeType identifies the behavior of a node.
type NodeType string

const (
	NodeTypeCondition NodeType = "condition"
	NodeTypeLoop      NodeType = "loop"
	NodeTypeParallel  NodeType = "parallel"
	NodeTypeSubflow   NodeType = "subflow"
	NodeTypeApproval  NodeType = "approval"
	NodeTypeAction    NodeType = "action"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeSchedule  NodeType = "schedule"
)

// Workflow is an owned graph of nodes and edges.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	OwnerID   string         `json:"ownerId,omitempty"`
	Status    WorkflowStatus `json:"status"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Node is a unit of work. String leaves in Config may hold {{path}} placeholders.
type Node struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. Label selects condition branches.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}
