// Package service holds the workflow operations shared by the HTTP API,
// the MCP tools and the CLI.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/schedflow/internal/actions"
	"github.com/rendis/schedflow/internal/diagram"
	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/scheduler"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

// Engine is the run lifecycle surface the service drives.
type Engine interface {
	StartRun(ctx context.Context, wf *schema.Workflow, trig engine.Trigger) (*schema.Run, error)
	GetRun(ctx context.Context, runID string) (*schema.Run, error)
	Approve(ctx context.Context, runID, approver string) (*schema.Run, error)
	Reject(ctx context.Context, runID, approver, reason string) (*schema.Run, error)
	PendingApprovals(ctx context.Context, approver string) ([]*schema.Run, error)
}

// WorkflowValidator checks a workflow before it is stored.
type WorkflowValidator interface {
	Validate(wf *schema.Workflow) *schema.ValidationResult
}

// ActionCatalog lists the registered action types.
type ActionCatalog interface {
	Catalog() []actions.ActionInfo
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Engine    Engine
	Validator WorkflowValidator
	Actions   ActionCatalog
	Logger    *slog.Logger
}

// Service implements workflow, run and trigger operations.
type Service struct {
	store     store.Store
	engine    Engine
	validator WorkflowValidator
	actions   ActionCatalog
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		engine:    deps.Engine,
		validator: deps.Validator,
		actions:   deps.Actions,
		logger:    logger,
		now:       time.Now,
	}
}

// DefineResult is a stored workflow plus the non-fatal findings of validation.
type DefineResult struct {
	Workflow *schema.Workflow         `json:"workflow"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// --- Workflows ---

// DefineWorkflow validates and stores wf. A missing id is generated and a
// missing status defaults to draft.
func (s *Service) DefineWorkflow(ctx context.Context, wf *schema.Workflow) (*DefineResult, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is required")
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusDraft
	}
	if !wf.Status.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow status %q", wf.Status)
	}

	result := s.validator.Validate(wf)
	if err := result.ToError(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(wf.ID) == "" {
		wf.ID = uuid.New().String()
	}
	now := s.now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workflow defined",
		slog.String("workflow_id", wf.ID),
		slog.Int("nodes", len(wf.Nodes)),
		slog.Int("warnings", len(result.Warnings)))
	return &DefineResult{Workflow: wf, Warnings: result.Warnings}, nil
}

// GetWorkflow returns a stored workflow.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	return s.store.GetWorkflow(ctx, id)
}

// ListWorkflows lists stored workflows.
func (s *Service) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error) {
	return s.store.ListWorkflows(ctx, filter)
}

// SetWorkflowStatus moves a workflow between draft, active and archived.
func (s *Service) SetWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) (*schema.Workflow, error) {
	if !status.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow status %q", status)
	}
	if err := s.store.UpdateWorkflow(ctx, id, store.WorkflowUpdate{Status: &status}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "workflow status changed",
		slog.String("workflow_id", id),
		slog.String("status", string(status)))
	return s.store.GetWorkflow(ctx, id)
}

// Diagram renders a workflow as Mermaid. A non-empty runID overlays the
// step status of that run.
func (s *Service) Diagram(ctx context.Context, workflowID, runID string) (string, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	var run *schema.Run
	if runID != "" {
		run, err = s.engine.GetRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if run.WorkflowID != wf.ID {
			return "", schema.NewErrorf(schema.ErrCodeValidation,
				"run %q does not belong to workflow %q", runID, wf.ID)
		}
	}
	return diagram.RenderMermaid(diagram.Build(wf, run)), nil
}

// --- Runs ---

// StartRun runs a stored workflow. Archived workflows cannot be run. A run
// that ends in error is returned without an error; the error return is for
// request and persistence failures.
func (s *Service) StartRun(ctx context.Context, workflowID string, trig engine.Trigger) (*schema.Run, error) {
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status == schema.WorkflowStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is archived", wf.ID)
	}
	return s.engine.StartRun(ctx, wf, trig)
}

// GetRun returns a run with its steps.
func (s *Service) GetRun(ctx context.Context, runID string) (*schema.Run, error) {
	if runID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	return s.engine.GetRun(ctx, runID)
}

// RunEvents returns the event log of a run after sequence since.
func (s *Service) RunEvents(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(ctx, runID, since)
}

// Approve resumes a run suspended at an approval node.
func (s *Service) Approve(ctx context.Context, runID, approver string) (*schema.Run, error) {
	return s.engine.Approve(ctx, runID, approver)
}

// Reject fails a run suspended at an approval node.
func (s *Service) Reject(ctx context.Context, runID, approver, reason string) (*schema.Run, error) {
	return s.engine.Reject(ctx, runID, approver, reason)
}

// PendingApprovals lists runs waiting on approver.
func (s *Service) PendingApprovals(ctx context.Context, approver string) ([]*schema.Run, error) {
	return s.engine.PendingApprovals(ctx, approver)
}

// --- Triggers ---

// CreateTrigger stores a cron trigger and computes its first fire time.
func (s *Service) CreateTrigger(ctx context.Context, trig *store.Trigger) (*store.Trigger, error) {
	if trig == nil || trig.WorkflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflowId is required")
	}
	if strings.TrimSpace(trig.CronExpression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "cronExpression is required")
	}

	wf, err := s.store.GetWorkflow(ctx, trig.WorkflowID)
	if err != nil {
		return nil, err
	}
	if trig.StartNodeID != "" && !hasNode(wf, trig.StartNodeID) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"start node %q not found in workflow %q", trig.StartNodeID, wf.ID)
	}

	now := s.now().UTC()
	next, err := scheduler.NextRun(trig.CronExpression, now)
	if err != nil {
		return nil, err
	}

	if trig.ID == "" {
		trig.ID = uuid.New().String()
	}
	trig.CreatedAt = now
	trig.NextRunAt = &next

	if err := s.store.CreateTrigger(ctx, trig); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "trigger created",
		slog.String("trigger_id", trig.ID),
		slog.String("workflow_id", trig.WorkflowID),
		slog.String("cron", trig.CronExpression),
		slog.Time("next_run_at", next))
	return trig, nil
}

// ListTriggers lists stored triggers.
func (s *Service) ListTriggers(ctx context.Context, filter store.TriggerFilter) ([]*store.Trigger, error) {
	return s.store.ListTriggers(ctx, filter)
}

// DeleteTrigger removes a trigger.
func (s *Service) DeleteTrigger(ctx context.Context, id string) error {
	return s.store.DeleteTrigger(ctx, id)
}

func hasNode(wf *schema.Workflow, id string) bool {
	for _, n := range wf.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// ListActions returns the action types an action node may reference.
func (s *Service) ListActions() []actions.ActionInfo {
	if s.actions == nil {
		return []actions.ActionInfo{}
	}
	return s.actions.Catalog()
}
