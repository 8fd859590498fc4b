package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/internal/actions"
	"github.com/rendis/schedflow/internal/app"
	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/internal/service"
	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

func newTestService(t *testing.T) (*service.Service, *app.App) {
	t.Helper()
	a, err := app.New(context.Background(), app.Options{
		DBPath: "file:" + filepath.Join(t.TempDir(), "service.db"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Mailer: &actions.MemoryMailer{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a.Service, a
}

func approvalWorkflow(status schema.WorkflowStatus) *schema.Workflow {
	return &schema.Workflow{
		Name:   "expense",
		Status: status,
		Nodes: []schema.Node{
			{ID: "note", Type: schema.NodeTypeAction, Config: map[string]any{"actionType": "Log", "message": "expense {{amount}}"}},
			{ID: "gate", Type: schema.NodeTypeApproval, Config: map[string]any{"approver": "manager"}},
			{ID: "done", Type: schema.NodeTypeAction, Config: map[string]any{"actionType": "Log", "message": "approved"}},
		},
		Edges: []schema.Edge{
			{Source: "note", Target: "gate"},
			{Source: "gate", Target: "done"},
		},
	}
}

func TestDefineWorkflowDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(""))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Workflow.ID)
	assert.Equal(t, schema.WorkflowStatusDraft, res.Workflow.Status)
	assert.Empty(t, res.Warnings)

	got, err := svc.GetWorkflow(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "expense", got.Name)
	assert.Len(t, got.Nodes, 3)
}

func TestDefineWorkflowRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.DefineWorkflow(ctx, &schema.Workflow{Name: "empty"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	wf := approvalWorkflow("")
	wf.Status = "paused"
	_, err = svc.DefineWorkflow(ctx, wf)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = svc.DefineWorkflow(ctx, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestDefineWorkflowReturnsWarnings(t *testing.T) {
	svc, _ := newTestService(t)

	wf := approvalWorkflow(schema.WorkflowStatusActive)
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "orphan", Type: schema.NodeTypeDelay})

	res, err := svc.DefineWorkflow(context.Background(), wf)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0].Message, "orphan")
}

func TestStartRunApprovalCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)

	run, err := svc.StartRun(ctx, res.Workflow.ID, engine.Trigger{
		UserID:    "alice",
		Variables: map[string]any{"amount": 42},
		Source:    engine.SourceHTTP,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusPending, run.Status)

	pending, err := svc.PendingApprovals(ctx, "manager")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, run.ID, pending[0].ID)

	_, err = svc.Approve(ctx, run.ID, "mallory")
	assert.True(t, schema.IsCode(err, schema.ErrCodeUnauthorized))

	done, err := svc.Approve(ctx, run.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, done.Status)

	events, err := svc.RunEvents(ctx, run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
}

func TestStartRunArchivedConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)

	_, err = svc.SetWorkflowStatus(ctx, res.Workflow.ID, schema.WorkflowStatusArchived)
	require.NoError(t, err)

	_, err = svc.StartRun(ctx, res.Workflow.ID, engine.Trigger{UserID: "alice"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	_, err = svc.StartRun(ctx, "missing", engine.Trigger{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSetWorkflowStatusInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SetWorkflowStatus(context.Background(), "any", "deleted")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRejectFailsRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)
	run, err := svc.StartRun(ctx, res.Workflow.ID, engine.Trigger{UserID: "alice"})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, run.ID, "manager", "over budget")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusError, rejected.Status)
}

func TestDiagramWithOverlay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)
	run, err := svc.StartRun(ctx, res.Workflow.ID, engine.Trigger{UserID: "alice"})
	require.NoError(t, err)

	plain, err := svc.Diagram(ctx, res.Workflow.ID, "")
	require.NoError(t, err)
	assert.Contains(t, plain, "graph TD")
	assert.NotContains(t, plain, "class note")

	overlay, err := svc.Diagram(ctx, res.Workflow.ID, run.ID)
	require.NoError(t, err)
	assert.Contains(t, overlay, "class note success")
	assert.Contains(t, overlay, "class gate pending")

	other, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)
	_, err = svc.Diagram(ctx, other.Workflow.ID, run.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCreateTrigger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)

	trig, err := svc.CreateTrigger(ctx, &store.Trigger{
		WorkflowID:     res.Workflow.ID,
		CronExpression: "*/5 * * * *",
		StartNodeID:    "gate",
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, trig.ID)
	require.NotNil(t, trig.NextRunAt)
	assert.Zero(t, trig.NextRunAt.Minute()%5)

	list, err := svc.ListTriggers(ctx, store.TriggerFilter{WorkflowID: res.Workflow.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.DeleteTrigger(ctx, trig.ID))
	list, err = svc.ListTriggers(ctx, store.TriggerFilter{WorkflowID: res.Workflow.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateTriggerErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.DefineWorkflow(ctx, approvalWorkflow(schema.WorkflowStatusActive))
	require.NoError(t, err)

	tests := []struct {
		name string
		trig *store.Trigger
		code string
	}{
		{"missing workflow id", &store.Trigger{CronExpression: "* * * * *"}, schema.ErrCodeValidation},
		{"missing cron", &store.Trigger{WorkflowID: res.Workflow.ID}, schema.ErrCodeValidation},
		{"bad cron", &store.Trigger{WorkflowID: res.Workflow.ID, CronExpression: "every day"}, schema.ErrCodeValidation},
		{"unknown start node", &store.Trigger{WorkflowID: res.Workflow.ID, CronExpression: "* * * * *", StartNodeID: "nope"}, schema.ErrCodeValidation},
		{"unknown workflow", &store.Trigger{WorkflowID: "missing", CronExpression: "* * * * *"}, schema.ErrCodeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTrigger(ctx, tc.trig)
			assert.True(t, schema.IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestRunEventsUnknownRun(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RunEvents(context.Background(), "missing", 0)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}
