package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/schedflow/pkg/schema"
)

// Span attribute keys.
const (
	attrRunID      = "schedflow.run_id"
	attrWorkflowID = "schedflow.workflow_id"
	attrNodeID     = "schedflow.node_id"
	attrNodeType   = "schedflow.node_type"
	attrRunStatus  = "schedflow.run_status"
)

func (e *Engine) startRunSpan(ctx context.Context, wf *schema.Workflow, run *schema.Run) (context.Context, trace.Span) {
	name := wf.Name
	if name == "" {
		name = wf.ID
	}
	return e.tracer.Start(ctx, "run:"+name, trace.WithAttributes(
		attribute.String(attrRunID, run.ID),
		attribute.String(attrWorkflowID, wf.ID),
	))
}

func (e *Engine) startNodeSpan(ctx context.Context, run *schema.Run, node *schema.Node) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "node:"+node.ID, trace.WithAttributes(
		attribute.String(attrRunID, run.ID),
		attribute.String(attrNodeID, node.ID),
		attribute.String(attrNodeType, string(node.Type)),
	))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, schema.Message(err))
}

func finishRunSpan(span trace.Span, run *schema.Run) {
	span.SetAttributes(attribute.String(attrRunStatus, string(run.Status)))
	if run.Status == schema.RunStatusError {
		span.SetStatus(codes.Error, run.Error)
	}
}
