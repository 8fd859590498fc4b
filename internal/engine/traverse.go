package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/rendis/schedflow/internal/expressions"
	"github.com/rendis/schedflow/internal/logging"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

// runState is shared by every traversal of one run.
type runState struct {
	run    *schema.Run
	wf     *schema.Workflow
	vars   *RunContext
	visits atomic.Int64
}

// suspension describes where a traversal stopped at an approval node.
// frames are the loops still iterating at that point.
type suspension struct {
	nodeID   string
	resume   string
	approver string
	frames   []schema.LoopFrame
}

// persistError marks a failure to record run history, as opposed to a
// node failure.
type persistError struct {
	err error
}

func (e *persistError) Error() string { return "persist step: " + e.err.Error() }
func (e *persistError) Unwrap() error { return e.err }

// traversal walks one graph from a start node. The top-level traversal
// writes steps through to the store; nested traversals (parallel branches
// and subflows) collect their steps in memory for the parent step result.
type traversal struct {
	engine  *Engine
	state   *runState
	graph   *Graph
	frames  []schema.LoopFrame
	steps   *[]schema.Step
	persist bool
	nested  bool
	depth   int
}

// child creates a nested traversal sharing the run context.
func (t *traversal) child(graph *Graph, depth int) (*traversal, *[]schema.Step) {
	steps := []schema.Step{}
	return &traversal{
		engine: t.engine,
		state:  t.state,
		graph:  graph,
		steps:  &steps,
		nested: true,
		depth:  depth,
	}, &steps
}

func (t *traversal) walk(ctx context.Context, start string) (*suspension, error) {
	maxSteps := int64(t.engine.config.MaxSteps)
	for current := start; current != ""; {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
		}
		if t.state.visits.Add(1) > maxSteps {
			return nil, schema.NewErrorf(schema.ErrCodeLimitExceeded,
				"run exceeded %d node visits", maxSteps).WithNode(current)
		}

		node, ok := t.graph.Node(current)
		if !ok {
			return nil, t.recordMissing(ctx, current)
		}

		next, susp, err := t.visit(ctx, node)
		if err != nil || susp != nil {
			return susp, err
		}
		current = next
	}
	return nil, nil
}

// visit runs one node and records its step.
func (t *traversal) visit(ctx context.Context, node *schema.Node) (string, *suspension, error) {
	e := t.engine
	run := t.state.run
	ctx = logging.WithNodeID(ctx, node.ID)
	ctx, span := e.startNodeSpan(ctx, run, node)
	defer span.End()

	config := expressions.ResolveMap(node.Config, t.state.vars.Snapshot())
	idx, err := t.begin(ctx, schema.Step{
		NodeID:    node.ID,
		Type:      node.Type,
		Label:     node.Label,
		Config:    config,
		Status:    schema.StepStatusRunning,
		StartedAt: e.now().UTC(),
	})
	if err != nil {
		recordSpanError(span, err)
		return "", nil, err
	}

	out, execErr := t.execute(ctx, node, config)

	step := &(*t.steps)[idx]
	step.Result = out.result
	now := e.now().UTC()

	switch {
	case execErr != nil:
		var flowErr *schema.FlowError
		if !errors.As(execErr, &flowErr) || flowErr.NodeID == "" {
			execErr = wrapNodeError(execErr, node.ID)
		}
		step.Error = schema.Message(execErr)
		step.FinishedAt = &now
		if err := e.stepFSM.Transition(ctx, run, step, schema.StepStatusError,
			map[string]any{"error": step.Error}); err != nil {
			return "", nil, err
		}
		if err := t.finish(ctx, idx); err != nil {
			return "", nil, err
		}
		recordSpanError(span, execErr)
		e.logger.WarnContext(ctx, "node failed",
			slog.String("node_type", string(node.Type)),
			slog.String("error", step.Error))
		return "", nil, execErr

	case out.suspend:
		step.Approver = out.approver
		if err := e.stepFSM.Transition(ctx, run, step, schema.StepStatusPending,
			map[string]any{"approver": out.approver}); err != nil {
			return "", nil, err
		}
		if err := t.finish(ctx, idx); err != nil {
			return "", nil, err
		}
		return "", &suspension{
			nodeID:   node.ID,
			resume:   out.next,
			approver: out.approver,
			frames:   slices.Clone(t.frames),
		}, nil

	default:
		step.FinishedAt = &now
		if err := e.stepFSM.Transition(ctx, run, step, schema.StepStatusSuccess,
			map[string]any{"result": out.result}); err != nil {
			return "", nil, err
		}
		if err := t.finish(ctx, idx); err != nil {
			return "", nil, err
		}
		t.state.vars.Set(node.ID, out.result)
		e.logger.DebugContext(ctx, "node completed",
			slog.String("node_type", string(node.Type)),
			slog.String("next", out.next))
		return out.next, nil, nil
	}
}

// recordMissing appends an error step for a next hop that is not in the
// graph and returns the definition error.
func (t *traversal) recordMissing(ctx context.Context, nodeID string) error {
	e := t.engine
	defErr := schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", nodeID).WithNode(nodeID)
	now := e.now().UTC()
	idx, err := t.begin(ctx, schema.Step{
		NodeID:    nodeID,
		Status:    schema.StepStatusRunning,
		StartedAt: now,
	})
	if err != nil {
		return err
	}
	step := &(*t.steps)[idx]
	step.Error = defErr.Message
	step.FinishedAt = &now
	if err := e.stepFSM.Transition(ctx, t.state.run, step, schema.StepStatusError,
		map[string]any{"error": step.Error}); err != nil {
		return err
	}
	if err := t.finish(ctx, idx); err != nil {
		return err
	}
	return defErr
}

func (t *traversal) begin(ctx context.Context, step schema.Step) (int, error) {
	idx := len(*t.steps)
	step.Seq = idx
	*t.steps = append(*t.steps, step)
	if t.persist {
		if err := t.engine.runs.AppendStep(context.WithoutCancel(ctx), t.state.run.ID, &(*t.steps)[idx]); err != nil {
			return 0, &persistError{err: err}
		}
	}
	t.engine.events.emit(ctx, t.state.run, step.NodeID, schema.EventStepStarted,
		map[string]any{"type": string(step.Type), "seq": idx, "nested": t.nested})
	return idx, nil
}

func (t *traversal) finish(ctx context.Context, idx int) error {
	if !t.persist {
		return nil
	}
	// History is recorded even when the run was cancelled mid-node.
	if err := t.engine.runs.UpdateStep(context.WithoutCancel(ctx), t.state.run.ID, &(*t.steps)[idx]); err != nil {
		return &persistError{err: err}
	}
	return nil
}

// drive runs the top-level traversal of state from start and settles the
// run into its resulting status. frames restores the loops of a resumed run.
func (e *Engine) drive(ctx context.Context, state *runState, graph *Graph, start string, frames []schema.LoopFrame) error {
	t := &traversal{
		engine:  e,
		state:   state,
		graph:   graph,
		frames:  frames,
		steps:   &state.run.Steps,
		persist: true,
	}
	susp, err := t.walk(ctx, start)
	return e.settle(ctx, state, susp, err)
}

func (e *Engine) settle(ctx context.Context, state *runState, susp *suspension, walkErr error) error {
	ctx = context.WithoutCancel(ctx)
	run := state.run
	now := e.now().UTC()
	update := store.RunUpdate{}

	var perr *persistError
	if errors.As(walkErr, &perr) {
		msg := "failed to record run history"
		run.Error = msg
		run.FinishedAt = &now
		_ = e.runFSM.Transition(ctx, run, schema.RunStatusError, map[string]any{"error": msg})
		status := schema.RunStatusError
		_ = e.runs.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &status, Error: &msg, FinishedAt: &now})
		e.logger.ErrorContext(ctx, "run aborted", slog.String("error", perr.err.Error()))
		return schema.NewError(schema.ErrCodeStore, msg).WithCause(perr.err)
	}

	run.Context = state.vars.Snapshot()
	update.Context = run.Context

	switch {
	case walkErr != nil:
		run.Error = schema.Message(walkErr)
		run.FinishedAt = &now
		if err := e.runFSM.Transition(ctx, run, schema.RunStatusError,
			map[string]any{"error": run.Error, "code": schema.CodeOf(walkErr)}); err != nil {
			return err
		}
		update.Error = &run.Error
		update.FinishedAt = &now
		e.logger.WarnContext(ctx, "run failed", slog.String("error", run.Error))

	case susp != nil:
		run.PendingApprover = susp.approver
		run.ResumeNodeID = susp.resume
		run.LoopFrames = susp.frames
		if err := e.runFSM.Transition(ctx, run, schema.RunStatusPending,
			map[string]any{"nodeId": susp.nodeID, "approver": susp.approver}); err != nil {
			return err
		}
		e.events.emit(ctx, run, susp.nodeID, schema.EventApprovalRequested,
			map[string]any{"approver": susp.approver})
		update.PendingApprover = &run.PendingApprover
		update.ResumeNodeID = &run.ResumeNodeID
		update.LoopFrames = &run.LoopFrames
		e.logger.InfoContext(ctx, "run awaiting approval",
			slog.String("node_id", susp.nodeID),
			slog.String("approver", susp.approver))

	default:
		if n := len(run.Steps); n > 0 {
			run.Result = run.Steps[n-1].Result
		}
		run.FinishedAt = &now
		if err := e.runFSM.Transition(ctx, run, schema.RunStatusSuccess, nil); err != nil {
			return err
		}
		update.Result = run.Result
		update.FinishedAt = &now
		e.logger.InfoContext(ctx, "run completed", slog.Int("steps", len(run.Steps)))
	}

	update.Status = &run.Status
	if err := e.runs.UpdateRun(ctx, run.ID, update); err != nil {
		return schema.NewError(schema.ErrCodeStore, "update run").WithCause(err)
	}
	return nil
}

func wrapNodeError(err error, nodeID string) *schema.FlowError {
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		cp := *flowErr
		cp.NodeID = nodeID
		return &cp
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithNode(nodeID).WithCause(err)
}
