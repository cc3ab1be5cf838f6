package mcp

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/macrocore/internal/document"
	"github.com/rendis/macrocore/internal/scheduler"
	"github.com/rendis/macrocore/internal/script"
	"github.com/rendis/macrocore/internal/store"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

// ServerDeps holds the dependencies for creating a MacroServer.
type ServerDeps struct {
	Switcher  *scheduler.Switcher
	Documents *document.Manager
	// Store is optional. Without it imports are not persisted and the
	// events tool is unavailable.
	Store  store.Store
	Logger *slog.Logger
}

// MacroServer wraps an MCP server with the macro core tool handlers.
// Scripts register their condition and action types through it and receive
// triggers as session notifications.
type MacroServer struct {
	sw        *scheduler.Switcher
	documents *document.Manager
	store     store.Store
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  ScriptNotifier
	mcpServer *server.MCPServer

	mu     sync.RWMutex
	owners map[string]string // kind:type id → owner
}

// NewMacroServer creates a new MacroServer with all tools registered.
func NewMacroServer(deps ServerDeps) *MacroServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &MacroServer{
		sw:        deps.Switcher,
		documents: deps.Documents,
		store:     deps.Store,
		logger:    logger,
		sessions:  NewSessionRegistry(),
		owners:    make(map[string]string),
	}

	mcpSrv := server.NewMCPServer(
		"macrocore",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Macrocore evaluates automation macros. Scripts add condition and action types with macrocore.register_type, receive triggers as notifications and answer them with macrocore.complete. Use macrocore.macro and macrocore.variable to inspect and drive the live set, and macrocore.export / macrocore.import to move settings documents."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *MacroServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *MacroServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// SetNotifier replaces the notifier used to push triggers.
func (s *MacroServer) SetNotifier(n ScriptNotifier) {
	s.notifier = n
}

// ForwardTriggers pushes every script trigger to the owner of its type
// until ctx is cancelled or stop is called.
func (s *MacroServer) ForwardTriggers(ctx context.Context) (stop func(), err error) {
	ch, unsubscribe, err := s.sw.Events().Subscribe(ctx, streaming.Filter{Types: []string{schema.EventScriptTriggered}})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.forward(ctx, ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			<-done
		})
	}, nil
}

func (s *MacroServer) forward(ctx context.Context, ev streaming.Event) {
	t, ok := ev.Payload.(script.Trigger)
	if !ok {
		return
	}
	owner, ok := s.ownerOf(t.Kind, t.Type)
	if !ok {
		s.logger.Debug("trigger has no owner", slog.String("id", t.ID), slog.String("type", t.Type))
		return
	}
	payload := map[string]any{
		"event":    ev.Type,
		"id":       t.ID,
		"type":     t.Type,
		"kind":     t.Kind,
		"macro":    t.Macro,
		"index":    t.Index,
		"settings": t.Settings,
		"time":     t.Time,
	}
	if err := s.notifier.Notify(ctx, owner, payload); err != nil {
		s.logger.Warn("trigger not delivered",
			slog.String("owner", owner),
			slog.String("id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

func ownerKey(kind, typeID string) string {
	return kind + ":" + typeID
}

func (s *MacroServer) setOwner(kind, typeID, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == "" {
		delete(s.owners, ownerKey(kind, typeID))
		return
	}
	s.owners[ownerKey(kind, typeID)] = owner
}

func (s *MacroServer) ownerOf(kind, typeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[ownerKey(kind, typeID)]
	return owner, ok
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *MacroServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: registerTypeTool(), Handler: s.handleRegisterType},
		{Tool: deregisterTypeTool(), Handler: s.handleDeregisterType},
		{Tool: completeTool(), Handler: s.handleComplete},
		{Tool: pendingTool(), Handler: s.handlePending},
		{Tool: macroTool(), Handler: s.handleMacro},
		{Tool: variableTool(), Handler: s.handleVariable},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: eventsTool(), Handler: s.handleEvents},
	}
}

// --- Tool definitions ---

func registerTypeTool() mcp.Tool {
	return mcp.NewTool("macrocore.register_type",
		mcp.WithDescription("Register a script condition or action type"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("condition", "action"),
			mcp.Description("Segment kind"),
		),
		mcp.WithString("name", mcp.Required(), mcp.Description("Type name; the segment id becomes script_<name>")),
		mcp.WithString("owner", mcp.Required(), mcp.Description("ID of the script that answers triggers for this type")),
		mcp.WithString("display_name", mcp.Description("Name shown to users")),
		mcp.WithNumber("timeout_ms", mcp.Description("How long a trigger waits for completion")),
		mcp.WithObject("defaults", mcp.Description("Default settings for new segments")),
	)
}

func deregisterTypeTool() mcp.Tool {
	return mcp.NewTool("macrocore.deregister_type",
		mcp.WithDescription("Remove a script condition or action type"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("condition", "action"),
			mcp.Description("Segment kind"),
		),
		mcp.WithString("name", mcp.Required(), mcp.Description("Type name")),
	)
}

func completeTool() mcp.Tool {
	return mcp.NewTool("macrocore.complete",
		mcp.WithDescription("Complete a pending script trigger"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Trigger ID")),
		mcp.WithBoolean("result", mcp.Required(), mcp.Description("Condition result or action success")),
		mcp.WithString("value", mcp.Description("Optional value exposed as a temp var")),
		mcp.WithString("owner", mcp.Description("ID of the completing script")),
	)
}

func pendingTool() mcp.Tool {
	return mcp.NewTool("macrocore.pending",
		mcp.WithDescription("List pending script triggers and registered script types"),
	)
}

func macroTool() mcp.Tool {
	return mcp.NewTool("macrocore.macro",
		mcp.WithDescription("List, pause, unpause, run or stop macros"),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("list", "pause", "unpause", "run", "stop"),
			mcp.Description("Operation"),
		),
		mcp.WithString("name", mcp.Description("Macro name (required except for list)")),
		mcp.WithBoolean("else", mcp.Description("Run the else actions instead")),
	)
}

func variableTool() mcp.Tool {
	return mcp.NewTool("macrocore.variable",
		mcp.WithDescription("Get, set or list variables"),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum("get", "set", "list"),
			mcp.Description("Operation"),
		),
		mcp.WithString("name", mcp.Description("Variable name (required for get and set)")),
		mcp.WithString("value", mcp.Description("New value for set")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("macrocore.export",
		mcp.WithDescription("Export macros as a settings document"),
		mcp.WithArray("names", mcp.WithStringItems(), mcp.Description("Macros to export (default: all)")),
	)
}

func importTool() mcp.Tool {
	return mcp.NewTool("macrocore.import",
		mcp.WithDescription("Import a settings document"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Settings document")),
		mcp.WithString("mode",
			mcp.Enum("replace", "merge"),
			mcp.Description("Replace the live set or merge into it (default: replace)"),
		),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("macrocore.events",
		mcp.WithDescription("Query the event journal"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (event_type, macro, since, limit)")),
	)
}
