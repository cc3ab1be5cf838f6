package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/macrocore/internal/document"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/script"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/store"
	"github.com/rendis/macrocore/pkg/schema"
)

// macroInfo is the list view of a macro.
type macroInfo struct {
	Name     string          `json:"name"`
	Group    bool            `json:"group,omitempty"`
	Parent   string          `json:"parent,omitempty"`
	Paused   bool            `json:"paused"`
	Running  bool            `json:"running"`
	Matched  bool            `json:"matched"`
	State    schema.RunState `json:"state"`
	RunCount int             `json:"run_count"`
}

// handleRegisterType adds a script condition or action type owned by the caller.
func (s *MacroServer) handleRegisterType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	owner, err := req.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError("owner is required"), nil
	}

	opts := script.TypeOptions{
		DisplayName: req.GetString("display_name", ""),
		Timeout:     time.Duration(extractInt(req.GetArguments(), "timeout_ms", 0)) * time.Millisecond,
	}
	if defaults := mcp.ParseStringMap(req, "defaults", nil); len(defaults) > 0 {
		opts.Defaults = make(map[string]string, len(defaults))
		for k, v := range defaults {
			opts.Defaults[k] = stringify(v)
		}
	}

	scripts := s.sw.Scripts()
	switch kind {
	case "condition":
		err = scripts.RegisterCondition(name, opts)
	case "action":
		err = scripts.RegisterAction(name, opts)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind: %s", kind)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("register failed: %v", err)), nil
	}

	typeID := script.TypeID(name)
	s.setOwner(kind, typeID, owner)
	s.captureSession(ctx, owner)
	logging.LogWith(ctx, s.logger).Info("script type bound",
		slog.String("kind", kind),
		slog.String("id", typeID),
		slog.String("owner", owner),
	)

	return marshalResult(map[string]any{
		"ok":   true,
		"kind": kind,
		"id":   typeID,
	})
}

// handleDeregisterType removes a script type. Its segments become orphans.
func (s *MacroServer) handleDeregisterType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	var k segment.Kind
	switch kind {
	case "condition":
		k = segment.KindCondition
	case "action":
		k = segment.KindAction
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind: %s", kind)), nil
	}
	if err := s.sw.Scripts().Deregister(k, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deregister failed: %v", err)), nil
	}
	s.setOwner(kind, script.TypeID(name), "")

	return marshalResult(map[string]any{
		"ok":   true,
		"kind": kind,
		"id":   script.TypeID(name),
	})
}

// handleComplete delivers the result of a script trigger.
func (s *MacroServer) handleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	result, err := req.RequireBool("result")
	if err != nil {
		return mcp.NewToolResultError("result is required"), nil
	}
	if owner := req.GetString("owner", ""); owner != "" {
		s.captureSession(ctx, owner)
	}

	c := script.Completion{Result: result, Value: req.GetString("value", "")}
	if err := s.sw.Scripts().Complete(id, c); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("complete failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "id": id})
}

// handlePending lists outstanding triggers and the registered script types.
func (s *MacroServer) handlePending(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scripts := s.sw.Scripts()
	return marshalResult(map[string]any{
		"pending": scripts.Pending(),
		"types":   scripts.Types(),
	})
}

// handleMacro inspects or drives the live macro set.
func (s *MacroServer) handleMacro(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}
	if op == "list" {
		return marshalResult(map[string]any{"macros": s.listMacros()})
	}

	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	m := s.sw.Macros().Get(name)
	if m == nil {
		return mcp.NewToolResultError(fmt.Sprintf("macro %q not found", name)), nil
	}

	switch op {
	case "pause", "unpause":
		s.sw.WithLock(func() { m.SetPaused(op == "pause") })
	case "run":
		if err := s.sw.RunMacro(ctx, name, req.GetBool("else", false)); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
		}
	case "stop":
		m.Stop()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown op: %s", op)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"op":     op,
		"name":   name,
		"paused": m.Paused(),
		"state":  m.State(),
	})
}

func (s *MacroServer) listMacros() []macroInfo {
	macros := s.sw.Macros().Macros()
	out := make([]macroInfo, 0, len(macros))
	for _, m := range macros {
		info := macroInfo{
			Name:     m.Name(),
			Group:    m.IsGroup(),
			Paused:   m.Paused(),
			Running:  m.IsRunning(),
			Matched:  m.Matched(),
			State:    m.State(),
			RunCount: m.RunCount(),
		}
		if p := m.Parent(); p != nil {
			info.Parent = p.Name()
		}
		out = append(out, info)
	}
	return out
}

// handleVariable reads or writes variables.
func (s *MacroServer) handleVariable(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}
	vars := s.sw.Variables()
	if op == "list" {
		return marshalResult(map[string]any{"variables": vars.Snapshot()})
	}

	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	switch op {
	case "get":
		v, ok := vars.Value(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("variable %q not found", name)), nil
		}
		return marshalResult(map[string]any{"name": name, "value": v})
	case "set":
		value := req.GetString("value", "")
		vars.Set(name, value)
		return marshalResult(map[string]any{"ok": true, "name": name, "value": value})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown op: %s", op)), nil
	}
}

// handleExport returns the settings document for all or the named macros.
func (s *MacroServer) handleExport(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := s.documents.Export(req.GetStringSlice("names", nil)...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return marshalResult(doc)
}

// handleImport applies a settings document and persists the result when a
// store is configured.
func (s *MacroServer) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "document", nil)
	if doc == nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", err)), nil
	}

	mode := document.Mode(req.GetString("mode", string(document.Replace)))
	report, err := s.documents.Import(ctx, raw, mode)
	if err != nil {
		return importError(err), nil
	}

	result := map[string]any{"ok": true, "report": report}
	if s.store != nil {
		revision, err := s.documents.Persist(ctx, s.store)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import applied but persist failed: %v", err)), nil
		}
		result["revision"] = revision
	}
	return marshalResult(result)
}

// importError renders an import failure with its details so the caller can
// see every violation or conflict.
func importError(err error) *mcp.CallToolResult {
	var ce *schema.CoreError
	if !errors.As(err, &ce) || len(ce.Details) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("import failed: %v", err))
	}
	data, mErr := json.Marshal(map[string]any{"error": ce.Error(), "code": ce.Code, "details": ce.Details})
	if mErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("import failed: %v", err))
	}
	return mcp.NewToolResultError(string(data))
}

// handleEvents queries the event journal.
func (s *MacroServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no event journal configured"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		ef.Types = []string{eventType}
	}
	if macroName, ok := filter["macro"].(string); ok {
		ef.Macro = macroName
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = t
		}
	}

	events, err := s.store.ListEvents(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// captureSession maps the owner to its current MCP session for notifications.
func (s *MacroServer) captureSession(ctx context.Context, owner string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(owner, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
