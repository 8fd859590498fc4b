package engine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/pkg/schema"
)

// memStore is an in-memory RunStore and WorkflowLoader. Values are copied
// through JSON on the way in and out, the way a real store decouples
// persisted state from the caller's structs.
type memStore struct {
	mu        sync.Mutex
	runs      map[string]*schema.Run
	workflows map[string]*schema.Workflow
	events    []*store.Event

	failAppendStep error
	failUpdateRun  error
	failLoad       error
}

func newMemStore(workflows ...*schema.Workflow) *memStore {
	m := &memStore{
		runs:      make(map[string]*schema.Run),
		workflows: make(map[string]*schema.Workflow),
	}
	for _, wf := range workflows {
		m.workflows[wf.ID] = wf
	}
	return m
}

func roundTrip[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *memStore) CreateRun(_ context.Context, run *schema.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	m.runs[run.ID] = roundTrip(run)
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	return roundTrip(run), nil
}

func (m *memStore) UpdateRun(_ context.Context, id string, u store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateRun != nil {
		return m.failUpdateRun
	}
	run, ok := m.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if u.Status != nil {
		run.Status = *u.Status
	}
	if u.Result != nil {
		run.Result = *roundTrip(&u.Result)
	}
	if u.Error != nil {
		run.Error = *u.Error
	}
	if u.Context != nil {
		run.Context = *roundTrip(&u.Context)
	}
	if u.ResumeNodeID != nil {
		run.ResumeNodeID = *u.ResumeNodeID
	}
	if u.PendingApprover != nil {
		run.PendingApprover = *u.PendingApprover
	}
	if u.LoopFrames != nil {
		run.LoopFrames = nil
		if len(*u.LoopFrames) > 0 {
			run.LoopFrames = slices.Clone(*u.LoopFrames)
		}
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		run.FinishedAt = &t
	}
	return nil
}

func (m *memStore) AppendStep(_ context.Context, runID string, step *schema.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppendStep != nil {
		return m.failAppendStep
	}
	run, ok := m.runs[runID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}
	if step.Seq != len(run.Steps) {
		return errors.New("step appended out of order")
	}
	run.Steps = append(run.Steps, *roundTrip(step))
	return nil
}

func (m *memStore) UpdateStep(_ context.Context, runID string, step *schema.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || step.Seq < 0 || step.Seq >= len(run.Steps) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %d not found", step.Seq)
	}
	run.Steps[step.Seq] = *roundTrip(step)
	return nil
}

func (m *memStore) ListRuns(_ context.Context, f store.RunFilter) ([]*schema.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*schema.Run
	for _, run := range m.runs {
		if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != nil && run.Status != *f.Status {
			continue
		}
		if f.PendingApprover != "" && run.PendingApprover != f.PendingApprover {
			continue
		}
		out = append(out, roundTrip(run))
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

// eventTypes returns the recorded event types for runID in order.
func (m *memStore) eventTypes(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e.Type)
		}
	}
	return out
}

// recordingActions records every dispatched action and returns canned results.
type recordingActions struct {
	mu      sync.Mutex
	calls   []actionCall
	results map[string]any
	errs    map[string]error
}

type actionCall struct {
	ActionType string
	Config     map[string]any
}

func (r *recordingActions) Execute(_ context.Context, actionType string, config map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, actionCall{ActionType: actionType, Config: config})
	if err := r.errs[actionType]; err != nil {
		return nil, err
	}
	if res, ok := r.results[actionType]; ok {
		return res, nil
	}
	return map[string]any{"executed": true, "actionType": actionType}, nil
}

func (r *recordingActions) Calls() []actionCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]actionCall(nil), r.calls...)
}
