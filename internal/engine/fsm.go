package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/rendis/schedflow/internal/store"
	"github.com/rendis/schedflow/internal/streaming"
	"github.com/rendis/schedflow/pkg/schema"
)

// EventAppender is satisfied by the Store; used to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusRunning: {schema.RunStatusPending, schema.RunStatusSuccess, schema.RunStatusError},
	schema.RunStatusPending: {schema.RunStatusRunning, schema.RunStatusError},
	schema.RunStatusSuccess: {},
	schema.RunStatusError:   {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusRunning: {schema.StepStatusSuccess, schema.StepStatusError, schema.StepStatusPending},
	schema.StepStatusPending: {schema.StepStatusSuccess, schema.StepStatusError},
	schema.StepStatusSuccess: {},
	schema.StepStatusError:   {},
}

// emitter fans run events out to the durable event log and the live hub.
// Delivery is best-effort: a failure is logged and never fails the run.
type emitter struct {
	appender EventAppender
	hub      streaming.EventHub
	logger   *slog.Logger
	now      func() time.Time
}

func (e *emitter) emit(ctx context.Context, run *schema.Run, nodeID, eventType string, payload any) {
	ctx = context.WithoutCancel(ctx)
	ts := e.now().UTC()

	if e.appender != nil {
		var raw json.RawMessage
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				e.logger.WarnContext(ctx, "encode event payload",
					slog.String("event_type", eventType), slog.String("error", err.Error()))
			} else {
				raw = b
			}
		}
		ev := &store.Event{RunID: run.ID, NodeID: nodeID, Type: eventType, Payload: raw, Timestamp: ts}
		if err := e.appender.AppendEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "append run event",
				slog.String("event_type", eventType), slog.String("error", err.Error()))
		}
	}

	if e.hub != nil {
		err := e.hub.Publish(ctx, streaming.StreamEvent{
			RunID:      run.ID,
			WorkflowID: run.WorkflowID,
			NodeID:     nodeID,
			EventType:  eventType,
			Payload:    payload,
			Timestamp:  ts,
		})
		if err != nil {
			e.logger.DebugContext(ctx, "publish run event",
				slog.String("event_type", eventType), slog.String("error", err.Error()))
		}
	}
}

// RunFSM validates run state transitions and emits the matching event.
// The caller persists the new state.
type RunFSM struct {
	events *emitter
}

// Transition moves run from its current status to `to`, updating run.Status.
func (f *RunFSM) Transition(ctx context.Context, run *schema.Run, to schema.RunStatus, payload any) error {
	from := run.Status
	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": run.ID, "from": string(from), "to": string(to)})
	}
	run.Status = to
	if eventType := runEventType(from, to); eventType != "" {
		f.events.emit(ctx, run, "", eventType, payload)
	}
	return nil
}

// StepFSM validates step state transitions and emits the matching event.
type StepFSM struct {
	events *emitter
}

// Transition moves step to `to`, updating step.Status.
func (f *StepFSM) Transition(ctx context.Context, run *schema.Run, step *schema.Step, to schema.StepStatus, payload any) error {
	from := step.Status
	if !slices.Contains(ValidStepTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithNode(step.NodeID).
			WithDetails(map[string]any{"run_id": run.ID, "from": string(from), "to": string(to)})
	}
	step.Status = to
	if eventType := stepEventType(to); eventType != "" {
		f.events.emit(ctx, run, step.NodeID, eventType, payload)
	}
	return nil
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusPending:
		return schema.EventRunPending
	case schema.RunStatusRunning:
		if from == schema.RunStatusPending {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusSuccess:
		return schema.EventRunCompleted
	case schema.RunStatusError:
		return schema.EventRunFailed
	default:
		return ""
	}
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusSuccess:
		return schema.EventStepCompleted
	case schema.StepStatusError:
		return schema.EventStepFailed
	case schema.StepStatusPending:
		return schema.EventStepPending
	default:
		return ""
	}
}
