package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/schedflow/internal/logging"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

// Approve resolves the pending approval of runID on behalf of approver and
// continues the run from the approval node's first outgoing edge. The
// approver must equal the identity recorded on the pending step. A request
// that fails its checks leaves the run untouched.
func (e *Engine) Approve(ctx context.Context, runID, approver string) (*schema.Run, error) {
	unlock := e.lockRun(runID)
	defer unlock()

	ctx = logging.WithRunID(ctx, runID)
	run, step, err := e.pendingStep(ctx, runID, approver)
	if err != nil {
		return nil, err
	}
	wf, err := e.loader.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", run.WorkflowID)
	}
	graph := BuildGraph(wf.Nodes, wf.Edges)

	now := e.now().UTC()
	step.ApprovedBy = approver
	step.FinishedAt = &now
	step.Result = map[string]any{
		"approved":   true,
		"approver":   step.Approver,
		"approvedBy": approver,
		"approvedAt": now.Format(time.RFC3339Nano),
	}
	if err := e.stepFSM.Transition(ctx, run, step, schema.StepStatusSuccess,
		map[string]any{"approvedBy": approver}); err != nil {
		return nil, err
	}
	if err := e.runs.UpdateStep(ctx, run.ID, step); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "update approval step").WithCause(err)
	}

	// Seed from the suspension snapshot, then every recorded step output.
	vars := NewRunContext(run.Context)
	for _, s := range run.Steps {
		if s.Status == schema.StepStatusSuccess && s.Result != nil {
			vars.Set(s.NodeID, s.Result)
		}
	}

	resume := run.ResumeNodeID
	frames := run.LoopFrames
	run.PendingApprover = ""
	run.ResumeNodeID = ""
	run.LoopFrames = nil
	if err := e.runFSM.Transition(ctx, run, schema.RunStatusRunning,
		map[string]any{"approvedBy": approver, "resumeNodeId": resume}); err != nil {
		return nil, err
	}
	e.events.emit(ctx, run, step.NodeID, schema.EventApprovalGranted,
		map[string]any{"approver": step.Approver, "approvedBy": approver})

	cleared := ""
	noFrames := []schema.LoopFrame{}
	if err := e.runs.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:          &run.Status,
		PendingApprover: &cleared,
		ResumeNodeID:    &cleared,
		LoopFrames:      &noFrames,
	}); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "resume run").WithCause(err)
	}

	e.logger.InfoContext(ctx, "run resumed",
		slog.String("approved_by", approver),
		slog.String("node_id", step.NodeID),
		slog.String("resume_node_id", resume))

	ctx, span := e.startRunSpan(ctx, wf, run)
	defer span.End()

	state := &runState{run: run, wf: wf, vars: vars}
	err = e.drive(ctx, state, graph, resume, frames)
	finishRunSpan(span, run)
	return run, err
}

// Reject resolves the pending approval of runID as denied. The checks are
// those of Approve. The approval step and the run fail with the message
// "rejected by <approver>[: reason]".
func (e *Engine) Reject(ctx context.Context, runID, approver, reason string) (*schema.Run, error) {
	unlock := e.lockRun(runID)
	defer unlock()

	ctx = logging.WithRunID(ctx, runID)
	run, step, err := e.pendingStep(ctx, runID, approver)
	if err != nil {
		return nil, err
	}

	msg := "rejected by " + approver
	if reason != "" {
		msg += ": " + reason
	}
	now := e.now().UTC()

	step.Error = msg
	step.FinishedAt = &now
	step.Result = map[string]any{"approved": false, "rejectedBy": approver, "reason": reason}
	if err := e.stepFSM.Transition(ctx, run, step, schema.StepStatusError,
		map[string]any{"error": msg}); err != nil {
		return nil, err
	}
	if err := e.runs.UpdateStep(ctx, run.ID, step); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "update approval step").WithCause(err)
	}

	run.Error = msg
	run.FinishedAt = &now
	run.PendingApprover = ""
	run.ResumeNodeID = ""
	run.LoopFrames = nil
	e.events.emit(ctx, run, step.NodeID, schema.EventApprovalRejected,
		map[string]any{"approver": approver, "reason": reason})
	if err := e.runFSM.Transition(ctx, run, schema.RunStatusError, map[string]any{"error": msg}); err != nil {
		return nil, err
	}

	cleared := ""
	noFrames := []schema.LoopFrame{}
	if err := e.runs.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:          &run.Status,
		Error:           &msg,
		FinishedAt:      &now,
		PendingApprover: &cleared,
		ResumeNodeID:    &cleared,
		LoopFrames:      &noFrames,
	}); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "reject run").WithCause(err)
	}

	e.logger.InfoContext(ctx, "run rejected",
		slog.String("rejected_by", approver),
		slog.String("node_id", step.NodeID))
	return run, nil
}

// pendingStep loads runID and checks that approver may act on its pending
// step.
func (e *Engine) pendingStep(ctx context.Context, runID, approver string) (*schema.Run, *schema.Step, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != schema.RunStatusPending {
		return nil, nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %q is %s, not pending", runID, run.Status)
	}
	step := run.PendingStep()
	if step == nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %q has no step awaiting approval", runID)
	}
	if approver == "" || approver != step.Approver {
		return nil, nil, schema.NewErrorf(schema.ErrCodeUnauthorized,
			"approver %q is not authorized to act on run %q", approver, runID).
			WithNode(step.NodeID)
	}
	return run, step, nil
}
