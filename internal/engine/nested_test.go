package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/pkg/schema"
)

func parallelWorkflow(mode string) *schema.Workflow {
	return wf("fanout", []schema.Node{
		node("split", schema.NodeTypeParallel, map[string]any{"branches": "b1, b2", "mode": mode}),
		node("b1", schema.NodeTypeAction, map[string]any{"actionType": "First"}),
		node("b2", schema.NodeTypeAction, map[string]any{"actionType": "Second"}),
		node("join", "noop", nil),
	}, []schema.Edge{edge("split", "b1"), edge("split", "b2"), edge("split", "join")})
}

func branchIDs(t *testing.T, result any) []string {
	t.Helper()
	branches, ok := resultMap(t, result)["branches"].([]any)
	require.True(t, ok)
	ids := make([]string, len(branches))
	for i, b := range branches {
		ids[i] = b.(map[string]any)["branchId"].(string)
	}
	return ids
}

func TestParallel_SequentialBranches(t *testing.T) {
	w := parallelWorkflow("")
	w.Nodes[2].Config["prev"] = "{{b1.actionType}}"
	acts := &recordingActions{}
	e, _ := newTestEngine(t, newMemStore(w), acts)

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"split", "join"}, stepIDs(run))
	assert.Equal(t, []string{"b1", "b2"}, branchIDs(t, run.Steps[0].Result))

	calls := acts.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "First", calls[0].ActionType)
	assert.Equal(t, "Second", calls[1].ActionType)
	assert.Equal(t, "First", calls[1].Config["prev"], "later branches see earlier branch outputs")

	branches := resultMap(t, run.Steps[0].Result)["branches"].([]any)
	steps := branches[0].(map[string]any)["steps"].([]schema.Step)
	require.Len(t, steps, 1)
	assert.Equal(t, "b1", steps[0].NodeID)
	assert.Contains(t, run.Context, "b2")
}

func TestParallel_ConcurrentBranches(t *testing.T) {
	w := parallelWorkflow("concurrent")
	acts := &recordingActions{}
	e, _ := newTestEngine(t, newMemStore(w), acts)

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"split", "join"}, stepIDs(run))
	assert.Equal(t, []string{"b1", "b2"}, branchIDs(t, run.Steps[0].Result))
	assert.Len(t, acts.Calls(), 2)
	assert.Contains(t, run.Context, "b1")
	assert.Contains(t, run.Context, "b2")
}

func TestParallel_BranchFailureFailsStep(t *testing.T) {
	for _, mode := range []string{"sequential", "concurrent"} {
		w := parallelWorkflow(mode)
		acts := &recordingActions{errs: map[string]error{"First": errors.New("boom")}}
		e, _ := newTestEngine(t, newMemStore(w), acts)

		run, err := e.StartRun(context.Background(), w, Trigger{})
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusError, run.Status, mode)
		assert.Equal(t, []string{"split"}, stepIDs(run), mode)
		assert.Equal(t, `branch "b1" failed: boom`, run.Steps[0].Error, mode)
		assert.Equal(t, `branch "b1" failed: boom`, run.Error, mode)
	}
}

func TestParallel_SequentialStopsAtFirstFailure(t *testing.T) {
	w := parallelWorkflow("")
	acts := &recordingActions{errs: map[string]error{"First": errors.New("boom")}}
	e, _ := newTestEngine(t, newMemStore(w), acts)

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Len(t, acts.Calls(), 1)
	assert.Equal(t, []string{"b1"}, branchIDs(t, run.Steps[0].Result))
}

func TestParallel_EmptyBranches(t *testing.T) {
	w := wf("nothing", []schema.Node{node("split", schema.NodeTypeParallel, map[string]any{"branches": " , "})}, nil)
	e, _ := newTestEngine(t, newMemStore(w), &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Equal(t, "parallel node requires at least one branch", run.Error)
}

func TestParallel_ApprovalInsideBranchFails(t *testing.T) {
	w := wf("nested-gate", []schema.Node{
		node("split", schema.NodeTypeParallel, map[string]any{"branches": "gate"}),
		node("gate", schema.NodeTypeApproval, map[string]any{"approver": "boss"}),
	}, nil)
	e, _ := newTestEngine(t, newMemStore(w), &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Contains(t, run.Error, "approval nodes cannot run inside nested traversals")
}

func TestParallel_NextSkipsBranchTargets(t *testing.T) {
	w := wf("no-join", []schema.Node{
		node("split", schema.NodeTypeParallel, map[string]any{"branches": "b1"}),
		node("b1", "noop", nil),
	}, []schema.Edge{edge("split", "b1")})
	e, _ := newTestEngine(t, newMemStore(w), &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"split"}, stepIDs(run))
}

// --- Subflow ---

func TestSubflow_MissingWorkflowFailsRun(t *testing.T) {
	w := wf("parent", []schema.Node{
		node("sub", schema.NodeTypeSubflow, map[string]any{"subflowId": "ghost"}),
		node("after", "noop", nil),
	}, []schema.Edge{edge("sub", "after")})
	e, _ := newTestEngine(t, newMemStore(w), &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Equal(t, []string{"sub"}, stepIDs(run))
	assert.Equal(t, "Subflow not found", run.Steps[0].Error)
	assert.Equal(t, "Subflow not found", run.Error)
}

func TestSubflow_EmptyIDIsNotFound(t *testing.T) {
	w := wf("parent", []schema.Node{node("sub", schema.NodeTypeSubflow, nil)}, nil)
	e, _ := newTestEngine(t, newMemStore(w), &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, "Subflow not found", run.Error)
}

func TestSubflow_LoaderFailureIsStoreError(t *testing.T) {
	w := wf("parent", []schema.Node{node("sub", schema.NodeTypeSubflow, map[string]any{"subflowId": "child"})}, nil)
	s := newMemStore(w)
	s.failLoad = errors.New("connection lost")
	e, _ := newTestEngine(t, s, &recordingActions{})

	run, err := e.StartRun(context.Background(), w, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Equal(t, `load subflow "child"`, run.Error)
}

func TestSubflow_RunsNestedTraversalWithSharedContext(t *testing.T) {
	child := wf("child", []schema.Node{
		node("c1", schema.NodeTypeAction, map[string]any{"actionType": "Inner", "seen": "{{x}}"}),
		node("c2", "noop", nil),
	}, []schema.Edge{edge("c1", "c2")})
	parent := wf("parent", []schema.Node{
		node("sub", schema.NodeTypeSubflow, map[string]any{"subflowId": "child"}),
		node("after", schema.NodeTypeAction, map[string]any{"actionType": "Outer", "inner": "{{c1.actionType}}"}),
	}, []schema.Edge{edge("sub", "after")})
	acts := &recordingActions{}
	e, _ := newTestEngine(t, newMemStore(parent, child), acts)

	run, err := e.StartRun(context.Background(), parent, Trigger{Variables: map[string]any{"x": "outer"}})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, []string{"sub", "after"}, stepIDs(run))

	res := resultMap(t, run.Steps[0].Result)
	assert.Equal(t, "child", res["subflowId"])
	assert.Len(t, res["steps"].([]schema.Step), 2)

	calls := acts.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "outer", calls[0].Config["seen"])
	assert.Equal(t, "Inner", calls[1].Config["inner"])
}

func TestSubflow_NestedFailureFailsStep(t *testing.T) {
	child := wf("child", []schema.Node{node("c1", schema.NodeTypeAction, map[string]any{"actionType": "Inner"})}, nil)
	parent := wf("parent", []schema.Node{node("sub", schema.NodeTypeSubflow, map[string]any{"subflowId": "child"})}, nil)
	acts := &recordingActions{errs: map[string]error{"Inner": errors.New("inner broke")}}
	e, _ := newTestEngine(t, newMemStore(parent, child), acts)

	run, err := e.StartRun(context.Background(), parent, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Equal(t, `subflow "child" failed: inner broke`, run.Error)
}

func TestSubflow_DepthLimit(t *testing.T) {
	self := wf("self", []schema.Node{node("again", schema.NodeTypeSubflow, map[string]any{"subflowId": "self"})}, nil)
	e, _ := newTestEngine(t, newMemStore(self), &recordingActions{}, WithConfig(Config{MaxSubflowDepth: 2}))

	run, err := e.StartRun(context.Background(), self, Trigger{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.Contains(t, run.Error, "subflow nesting exceeds 2 levels")
}
