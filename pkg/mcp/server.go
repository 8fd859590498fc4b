package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/schedflow/internal/service"
	"github.com/rendis/schedflow/internal/streaming"
)

// SchedflowServerDeps holds the dependencies for creating a SchedflowServer.
type SchedflowServerDeps struct {
	Service *service.Service
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// SchedflowServer wraps an MCP server with schedflow tool handlers.
type SchedflowServer struct {
	svc       *service.Service
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	mcpServer *server.MCPServer
}

// NewSchedflowServer creates a new SchedflowServer with all tools registered.
func NewSchedflowServer(deps SchedflowServerDeps) *SchedflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &SchedflowServer{
		svc:      deps.Service,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"schedflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Schedflow runs workflow graphs. Use schedflow.define to store a workflow, schedflow.run to start a run, schedflow.status to inspect it, schedflow.pending to list runs waiting on you, and schedflow.approve or schedflow.reject to resolve them. schedflow.diagram returns Mermaid text."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

const version = "1.0.0"

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Approval requests are relayed to connected approvers meanwhile.
func (s *SchedflowServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.hub != nil {
		notifier := NewMCPNotifier(s.mcpServer, s.sessions)
		go func() {
			if err := RelayApprovals(ctx, s.hub, notifier, s.logger); err != nil {
				s.logger.Warn("approval relay stopped", "error", err)
			}
		}()
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SchedflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *SchedflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: rejectTool(), Handler: s.handleReject},
		{Tool: pendingTool(), Handler: s.handlePending},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("schedflow.define",
		mcp.WithDescription("Validate and store a workflow graph"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow object with name, status, nodes and edges")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("schedflow.run",
		mcp.WithDescription("Start a run of a stored workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("user_id", mcp.Description("Initiator of the run; approves approval nodes without an approver")),
		mcp.WithObject("variables", mcp.Description("Initial run context")),
		mcp.WithString("start_node_id", mcp.Description("Node to start from (default: first node)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("schedflow.status",
		mcp.WithDescription("Get a run with its steps"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("schedflow.approve",
		mcp.WithDescription("Approve a run waiting at an approval node"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the pending run")),
		mcp.WithString("approver", mcp.Required(), mcp.Description("Identity of the approver")),
	)
}

func rejectTool() mcp.Tool {
	return mcp.NewTool("schedflow.reject",
		mcp.WithDescription("Reject a run waiting at an approval node"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the pending run")),
		mcp.WithString("approver", mcp.Required(), mcp.Description("Identity of the approver")),
		mcp.WithString("reason", mcp.Description("Why the run is rejected")),
	)
}

func pendingTool() mcp.Tool {
	return mcp.NewTool("schedflow.pending",
		mcp.WithDescription("List runs waiting on an approver"),
		mcp.WithString("approver", mcp.Required(), mcp.Description("Identity of the approver")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("schedflow.diagram",
		mcp.WithDescription("Render a workflow as a Mermaid flowchart"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("run_id", mcp.Description("Run whose step status is overlaid on the diagram")),
	)
}
