package store

import (
	"context"

	"github.com/rendis/schedflow/pkg/schema"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// RunStore persists runs and their step records. Steps are appended one row
// at a time so recorded history is never rewritten by a status change.
type RunStore interface {
	CreateRun(ctx context.Context, run *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	AppendStep(ctx context.Context, runID string, step *schema.Step) error
	UpdateStep(ctx context.Context, runID string, step *schema.Step) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)
}

// EventStore is the append-only run event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
}

// TriggerStore persists cron triggers.
type TriggerStore interface {
	CreateTrigger(ctx context.Context, trig *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error
	DeleteTrigger(ctx context.Context, id string) error
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error)
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	WorkflowStore
	RunStore
	EventStore
	TriggerStore

	Migrate(ctx context.Context) error
	Close() error
}
