package diagram

import (
	"testing"
	"time"

	"github.com/rendis/schedflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test workflow builders ---

func linearWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-linear",
		Name: "Order Intake",
		Nodes: []schema.Node{
			{ID: "fetch", Type: schema.NodeTypeAction, Config: map[string]any{"actionType": "HTTP Request"}},
			{ID: "wait", Type: schema.NodeTypeDelay, Config: map[string]any{"delayMs": 100}},
			{ID: "notify", Type: schema.NodeTypeAction, Label: "Notify ops", Config: map[string]any{"actionType": "Send Email"}},
		},
		Edges: []schema.Edge{
			{Source: "fetch", Target: "wait"},
			{Source: "wait", Target: "notify"},
		},
	}
}

func branchingWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID: "wf-branching",
		Nodes: []schema.Node{
			{ID: "check", Type: schema.NodeTypeCondition, Config: map[string]any{"expression": "amount > 100"}},
			{ID: "split", Type: schema.NodeTypeParallel, Config: map[string]any{"branches": "a, b"}},
			{ID: "a", Type: schema.NodeTypeAction, Config: map[string]any{"actionType": "Log"}},
			{ID: "b", Type: schema.NodeTypeSubflow, Config: map[string]any{"subflowId": "child"}},
			{ID: "gate", Type: schema.NodeTypeApproval},
		},
		Edges: []schema.Edge{
			{Source: "check", Target: "split", Label: "true"},
			{Source: "check", Target: "gate", Label: "false"},
			{Source: "split", Target: "gate"},
			{Source: "gate", Target: "ghost"},
		},
	}
}

// --- Tests ---

func TestBuildLinearWorkflow(t *testing.T) {
	model := Build(linearWorkflow(), nil)

	assert.Equal(t, "Order Intake", model.Title)
	require.Len(t, model.Nodes, 3)
	assert.Equal(t, "fetch (HTTP Request)", model.Nodes[0].Label)
	assert.Equal(t, NodeKindAction, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindDelay, model.Nodes[1].Kind)
	assert.Equal(t, "Notify ops (Send Email)", model.Nodes[2].Label)

	require.Len(t, model.Edges, 2)
	assert.Equal(t, Edge{From: "fetch", To: "wait", Style: EdgeStyleSolid}, model.Edges[0])

	for _, n := range model.Nodes {
		assert.Nil(t, n.Status)
	}
}

func TestBuildDefaultTitle(t *testing.T) {
	model := Build(branchingWorkflow(), nil)
	assert.Equal(t, "Workflow", model.Title)
}

func TestBuildNilWorkflow(t *testing.T) {
	model := Build(nil, nil)
	assert.Equal(t, "Workflow", model.Title)
	assert.Empty(t, model.Nodes)
	assert.Empty(t, model.Edges)
}

func TestBuildKindsAndBranches(t *testing.T) {
	model := Build(branchingWorkflow(), nil)

	kinds := map[string]NodeKind{}
	labels := map[string]string{}
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
		labels[n.ID] = n.Label
	}
	assert.Equal(t, NodeKindCondition, kinds["check"])
	assert.Equal(t, NodeKindParallel, kinds["split"])
	assert.Equal(t, NodeKindSubflow, kinds["b"])
	assert.Equal(t, NodeKindApproval, kinds["gate"])
	assert.Equal(t, "b (child)", labels["b"])

	var dashed []string
	for _, e := range model.Edges {
		assert.NotEqual(t, "ghost", e.To, "edges to unknown nodes are dropped")
		if e.Style == EdgeStyleDashed {
			dashed = append(dashed, e.From+"->"+e.To)
		}
	}
	assert.Equal(t, []string{"split->a", "split->b"}, dashed)
}

func TestBuildUnknownTypeIsGeneric(t *testing.T) {
	wf := &schema.Workflow{Nodes: []schema.Node{{ID: "x", Type: "webhook"}}}
	model := Build(wf, nil)
	require.Len(t, model.Nodes, 1)
	assert.Equal(t, NodeKindGeneric, model.Nodes[0].Kind)
}

func TestBuildStatusOverlayUsesLatestStep(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	done := start.Add(250 * time.Millisecond)
	run := &schema.Run{
		ID:     "run-1",
		Status: schema.RunStatusError,
		Steps: []schema.Step{
			{Seq: 1, NodeID: "fetch", Status: schema.StepStatusSuccess, StartedAt: start, FinishedAt: &done},
			{Seq: 2, NodeID: "wait", Status: schema.StepStatusSuccess, StartedAt: start, FinishedAt: &done},
			{Seq: 3, NodeID: "fetch", Status: schema.StepStatusError, Error: "boom", StartedAt: start},
		},
	}

	model := Build(linearWorkflow(), run)

	byID := map[string]*Node{}
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	require.NotNil(t, byID["fetch"].Status)
	assert.Equal(t, "error", byID["fetch"].Status.Status)
	assert.Equal(t, "boom", byID["fetch"].Status.Error)
	assert.Equal(t, 2, byID["fetch"].Status.Visits)
	assert.Zero(t, byID["fetch"].Status.DurationMs)

	require.NotNil(t, byID["wait"].Status)
	assert.Equal(t, int64(250), byID["wait"].Status.DurationMs)

	assert.Nil(t, byID["notify"].Status)
}
