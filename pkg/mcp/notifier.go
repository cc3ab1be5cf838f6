package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// ScriptNotifier pushes notifications to connected script owners.
type ScriptNotifier interface {
	Notify(ctx context.Context, owner string, payload map[string]any) error
}

// MCPNotifier implements ScriptNotifier using MCP session push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the owner's session.
// Best-effort: returns nil if the owner is not connected.
func (n *MCPNotifier) Notify(_ context.Context, owner string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(owner)
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
