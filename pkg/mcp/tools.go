package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/schedflow/internal/engine"
	"github.com/rendis/schedflow/pkg/schema"
)

// handleDefine validates and stores a workflow.
func (s *SchedflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	// Round-trip through JSON to get a typed Workflow.
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err)), nil
	}

	res, err := s.svc.DefineWorkflow(ctx, &wf)
	if err != nil {
		return toolError("define failed", err), nil
	}
	return marshalResult(res)
}

// handleRun starts a run of a stored workflow.
func (s *SchedflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	userID := req.GetString("user_id", "")
	if userID != "" {
		s.captureSession(ctx, userID)
	}

	run, err := s.svc.StartRun(ctx, workflowID, engine.Trigger{
		UserID:      userID,
		Variables:   mcp.ParseStringMap(req, "variables", nil),
		StartNodeID: req.GetString("start_node_id", ""),
		Source:      engine.SourceMCP,
	})
	if err != nil {
		return toolError("run failed", err), nil
	}
	return marshalResult(run)
}

// handleStatus returns a run with its steps.
func (s *SchedflowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	run, err := s.svc.GetRun(ctx, runID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(run)
}

// handleApprove resumes a pending run.
func (s *SchedflowServer) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, approver, errResult := runAndApprover(req)
	if errResult != nil {
		return errResult, nil
	}
	s.captureSession(ctx, approver)

	run, err := s.svc.Approve(ctx, runID, approver)
	if err != nil {
		return toolError("approve failed", err), nil
	}
	return marshalResult(run)
}

// handleReject fails a pending run.
func (s *SchedflowServer) handleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, approver, errResult := runAndApprover(req)
	if errResult != nil {
		return errResult, nil
	}
	s.captureSession(ctx, approver)

	run, err := s.svc.Reject(ctx, runID, approver, req.GetString("reason", ""))
	if err != nil {
		return toolError("reject failed", err), nil
	}
	return marshalResult(run)
}

// handlePending lists runs waiting on an approver.
func (s *SchedflowServer) handlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approver, err := req.RequireString("approver")
	if err != nil {
		return mcp.NewToolResultError("approver is required"), nil
	}
	s.captureSession(ctx, approver)

	runs, err := s.svc.PendingApprovals(ctx, approver)
	if err != nil {
		return toolError("pending query failed", err), nil
	}
	if runs == nil {
		runs = []*schema.Run{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

// handleDiagram renders a workflow as Mermaid text.
func (s *SchedflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	text, err := s.svc.Diagram(ctx, workflowID, req.GetString("run_id", ""))
	if err != nil {
		return toolError("diagram failed", err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Internal helpers ---

func runAndApprover(req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("run_id is required")
	}
	approver, err := req.RequireString("approver")
	if err != nil {
		return "", "", mcp.NewToolResultError("approver is required")
	}
	return runID, approver, nil
}

// captureSession maps an identity to its current MCP session for notifications.
func (s *SchedflowServer) captureSession(ctx context.Context, identity string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(identity, session.SessionID())
	}
}

// toolError reports err as a tool-level error, keeping its code prefix.
func toolError(prefix string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
