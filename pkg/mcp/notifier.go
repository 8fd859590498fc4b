package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/schedflow/internal/streaming"
	"github.com/rendis/schedflow/pkg/schema"
)

// Notifier pushes notifications to a connected identity.
type Notifier interface {
	Notify(ctx context.Context, identity string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP session push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the identity's session.
// Best-effort: returns nil if the identity is not connected.
func (n *MCPNotifier) Notify(_ context.Context, identity string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(identity)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// RelayApprovals forwards approval_requested events from hub to the
// approver named in each event until ctx is cancelled.
func RelayApprovals(ctx context.Context, hub streaming.EventHub, notifier Notifier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventApprovalRequested},
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			approver := approverOf(ev.Payload)
			if approver == "" {
				continue
			}
			payload := map[string]any{
				"type":       ev.EventType,
				"runId":      ev.RunID,
				"workflowId": ev.WorkflowID,
				"nodeId":     ev.NodeID,
				"approver":   approver,
			}
			if err := notifier.Notify(ctx, approver, payload); err != nil {
				logger.WarnContext(ctx, "approval notification failed",
					slog.String("run_id", ev.RunID),
					slog.String("approver", approver),
					slog.String("error", err.Error()))
			}
		}
	}
}

func approverOf(payload any) string {
	switch p := payload.(type) {
	case map[string]any:
		s, _ := p["approver"].(string)
		return s
	case map[string]string:
		return p["approver"]
	}
	return ""
}
