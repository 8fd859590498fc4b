package schema

import "time"

// RunStatus is the lifecycle state of a workflow run.
//
//	running -> pending -> running -> {success | error}
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusError
}

// StepStatus is the state of one node visit.
type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusPending StepStatus = "pending"
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
)

// Run is one execution instance of a workflow.
type Run struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	UserID     string    `json:"userId,omitempty"`
	Status     RunStatus `json:"status"`
	Steps      []Step    `json:"steps"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Context is the run context snapshot taken at suspension or completion.
	Context map[string]any `json:"context,omitempty"`
	// ResumeNodeID is where traversal continues after approval. Empty means
	// the approval node had no outgoing edge.
	ResumeNodeID    string `json:"resumeNodeId,omitempty"`
	PendingApprover string `json:"pendingApprover,omitempty"`
	// LoopFrames are the loops still iterating when the run suspended.
	LoopFrames []LoopFrame `json:"loopFrames,omitempty"`

	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// LoopFrame tracks the remaining iterations of an active loop node.
type LoopFrame struct {
	NodeID    string `json:"nodeId"`
	Remaining int    `json:"remaining"`
	Count     int    `json:"count"`
}

// PendingStep returns the step awaiting approval, or nil.
func (r *Run) PendingStep() *Step {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Status == StepStatusPending {
			return &r.Steps[i]
		}
	}
	return nil
}

// Step records the execution of one node.
type Step struct {
	Seq        int            `json:"seq"`
	NodeID     string         `json:"nodeId"`
	Type       NodeType       `json:"type"`
	Label      string         `json:"label,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Status     StepStatus     `json:"status"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Approver   string         `json:"approver,omitempty"`
	ApprovedBy string         `json:"approvedBy,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}
