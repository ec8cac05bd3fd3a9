// Package toolhandler implements the tool-call handler (C7): the entry
// point for incoming tool requests, mediating policy evaluation, path/
// command validation, rate limiting, builtin and MCP dispatch, and
// completion/failure reporting.
package toolhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kandev/agentrt/internal/pathguard"
	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/ratelimit"
	"github.com/kandev/agentrt/internal/todo"
	"github.com/kandev/agentrt/internal/toolcalls"
)

func parentDir(path string) string {
	return filepath.Dir(path)
}

// ResultKind distinguishes the three outcomes of handle_tool_request.
type ResultKind string

const (
	ResultSuccess            ResultKind = "success"
	ResultPermissionRequired ResultKind = "permission_required"
	ResultError              ResultKind = "error"
)

// Result is the outcome of handle_tool_request.
type Result struct {
	Kind ResultKind

	Text string // ResultSuccess

	// ResultPermissionRequired
	ToolCallID  string
	ToolName    string
	Description string
	Arguments   json.RawMessage
	Options     []permission.Option

	// ResultError
	Message string
}

// Capabilities are the client capabilities declared at initialize.
type Capabilities struct {
	FSRead      bool
	FSWrite     bool
	Terminal    bool
}

// FileSystem is the filesystem-byte-I/O collaborator; concrete OS access is
// explicitly out of the core's scope (§1).
type FileSystem interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	ListDir(ctx context.Context, path string) ([]string, error)
	Exists(path string) bool
}

// TerminalManager is the terminal-PTY collaborator; terminal management is
// explicitly out of the core's scope (§1).
type TerminalManager interface {
	Create(ctx context.Context, sessionID, command, cwd string) (terminalID string, err error)
	Write(ctx context.Context, terminalID, data string) error
	ChangeDir(ctx context.Context, sessionID, path string) error
}

// MCPCollaborator is the external MCP tool-server interface (§1B).
type MCPCollaborator interface {
	ExecuteToolCall(ctx context.Context, server, toolName string, arguments json.RawMessage) (string, error)
}

// Handler is C7's dependency-injected implementation.
type Handler struct {
	Store    *toolcalls.Store
	Policy   *permission.Engine
	Guard    *pathguard.Guard
	Limiter  *ratelimit.Limiter
	MCP      MCPCollaborator
	FS       FileSystem
	Terminal TerminalManager
	Todos    *todo.Store
}

// HandleToolRequest is the C7 entry point (§4.7).
func (h *Handler) HandleToolRequest(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, id, name string, arguments json.RawMessage) Result {
	report := h.Store.CreateReport(ctx, sessionID, name, arguments, id)

	if !validJSONObject(arguments) {
		h.Store.Fail(ctx, report.ToolCallID, jsonErr("arguments must be a JSON object"))
		return Result{Kind: ResultError, Message: "arguments must be a JSON object"}
	}

	eval := h.Policy.Evaluate(name, arguments)
	switch eval.Decision {
	case permission.DecisionDenied:
		h.Store.Fail(ctx, report.ToolCallID, jsonErr(eval.Reason))
		return Result{Kind: ResultError, Message: eval.Reason}
	case permission.DecisionRequireUserConsent:
		return Result{
			Kind:        ResultPermissionRequired,
			ToolCallID:  report.ToolCallID,
			ToolName:    name,
			Description: toolcalls.DeriveReason(name, arguments),
			Arguments:   arguments,
			Options:     eval.Options,
		}
	}

	h.Store.UpdateReport(ctx, report.ToolCallID, func(r *toolcalls.Report) {
		r.Status = toolcalls.StatusInProgress
	})

	return h.dispatch(ctx, sessionID, sessionCwd, caps, report.ToolCallID, name, arguments)
}

// ForceDispatch runs dispatch directly, bypassing policy evaluation. It is
// the entry point the turn controller (C8) uses once a tool call that
// required consent has been granted by the client, so the same rate
// limiting, builtin/MCP dispatch, audit recording, and completion/failure
// reporting apply as on the auto-approved path.
func (h *Handler) ForceDispatch(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, toolCallID, name string, arguments json.RawMessage) Result {
	return h.dispatch(ctx, sessionID, sessionCwd, caps, toolCallID, name, arguments)
}

func (h *Handler) dispatch(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, toolCallID, name string, arguments json.RawMessage) Result {
	if h.Limiter != nil {
		decision := h.Limiter.AllowN(sessionID+":"+name, dispatchCost(name))
		if !decision.Allowed {
			msg := fmt.Sprintf("rate limited, retry after %s", decision.RetryAfter)
			h.Store.Fail(ctx, toolCallID, jsonErr(msg))
			return Result{Kind: ResultError, Message: msg}
		}
	}

	var text string
	var err error
	if server, toolName, ok := splitMCPName(name); ok {
		text, err = h.MCP.ExecuteToolCall(ctx, server, toolName, arguments)
	} else {
		text, err = h.dispatchBuiltin(ctx, sessionID, sessionCwd, caps, name, arguments)
	}

	if err != nil {
		h.Store.RecordAudit(sessionID, toolcalls.FileOperation{
			Type: auditType(name), Timestamp: time.Now(), Success: false, Reason: err.Error(),
		})
		h.Store.Fail(ctx, toolCallID, jsonErr(err.Error()))
		return Result{Kind: ResultError, Message: err.Error()}
	}

	h.Store.RecordAudit(sessionID, toolcalls.FileOperation{
		Type: auditType(name), Timestamp: time.Now(), Success: true,
	})

	out, _ := json.Marshal(text)
	h.Store.Complete(ctx, toolCallID, out)

	if h.Todos != nil {
		if _, toolName, ok := splitMCPName(name); ok && todo.IsTodoTool(toolName) {
			h.resyncTodos(sessionID, arguments)
		}
	}

	return Result{Kind: ResultSuccess, Text: text}
}

func (h *Handler) resyncTodos(sessionID string, arguments json.RawMessage) {
	var payload struct {
		Items []todo.Item `json:"items"`
	}
	if err := json.Unmarshal(arguments, &payload); err != nil {
		return
	}
	h.Todos.Resync(sessionID, payload.Items)
}

func (h *Handler) dispatchBuiltin(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, name string, arguments json.RawMessage) (string, error) {
	switch name {
	case "fs_read":
		return h.fsRead(ctx, sessionCwd, caps, arguments)
	case "fs_list":
		return h.fsList(ctx, sessionCwd, caps, arguments)
	case "fs_write":
		return h.fsWrite(ctx, sessionCwd, caps, arguments)
	case "terminal_create":
		return h.terminalCreate(ctx, sessionID, sessionCwd, caps, arguments)
	case "terminal_write":
		return h.terminalWrite(ctx, sessionID, sessionCwd, caps, arguments)
	default:
		return "", fmt.Errorf("unknown builtin tool %q", name)
	}
}

type pathArgs struct {
	Path string `json:"path"`
}

func (h *Handler) fsRead(ctx context.Context, sessionCwd string, caps Capabilities, arguments json.RawMessage) (string, error) {
	if !caps.FSRead {
		return "", fmt.Errorf("client capability fs.read_text_file is not declared")
	}
	var args pathArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	canonical, err := h.Guard.ValidatePath(args.Path, true, h.FS.Exists)
	if err != nil {
		return "", err
	}
	if !pathguard.WithinBoundary(canonical, sessionCwd) {
		return "", fmt.Errorf("path %q is outside session boundary %q", canonical, sessionCwd)
	}
	return h.FS.ReadFile(ctx, canonical)
}

func (h *Handler) fsList(ctx context.Context, sessionCwd string, caps Capabilities, arguments json.RawMessage) (string, error) {
	if !caps.FSRead {
		return "", fmt.Errorf("client capability fs.read_text_file is not declared")
	}
	var args pathArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	canonical, err := h.Guard.ValidatePath(args.Path, true, h.FS.Exists)
	if err != nil {
		return "", err
	}
	if !pathguard.WithinBoundary(canonical, sessionCwd) {
		return "", fmt.Errorf("path %q is outside session boundary %q", canonical, sessionCwd)
	}
	entries, err := h.FS.ListDir(ctx, canonical)
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(entries)
	return string(out), nil
}

func (h *Handler) fsWrite(ctx context.Context, sessionCwd string, caps Capabilities, arguments json.RawMessage) (string, error) {
	if !caps.FSWrite {
		return "", fmt.Errorf("client capability fs.write_text_file is not declared")
	}
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := h.Guard.ValidateWriteExtension(args.Path); err != nil {
		return "", err
	}
	// Non-strict mode (§4.1): when the target doesn't exist yet, Guard
	// already canonicalized the parent directory instead.
	canonical, err := h.Guard.ValidatePath(args.Path, false, h.FS.Exists)
	if err != nil {
		return "", err
	}
	boundary := canonical
	if !h.FS.Exists(args.Path) {
		boundary = parentDir(canonical)
	}
	if !pathguard.WithinBoundary(boundary, sessionCwd) {
		return "", fmt.Errorf("path %q is outside session boundary %q", canonical, sessionCwd)
	}
	if err := h.FS.WriteFile(ctx, canonical, args.Content); err != nil {
		return "", err
	}
	return "ok", nil
}

func (h *Handler) terminalCreate(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, arguments json.RawMessage) (string, error) {
	if !caps.Terminal {
		return "", fmt.Errorf("client capability terminal is not declared")
	}
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if err := h.Guard.ValidateCommand(args.Command); err != nil {
		return "", err
	}
	return h.Terminal.Create(ctx, sessionID, args.Command, sessionCwd)
}

// terminalWrite handles the builtin terminal_write tool. The ACP terminal
// surface has no interactive stdin channel (create/output/wait_for_exit/
// kill/release, no second write to a live terminal), so a non-"cd" write is
// serviced by spawning a fresh terminal to run the given data as a command —
// the same resolution original_source's handle_terminal_write applies via
// terminal_manager.execute_command — rather than calling Terminal.Write,
// which the production TerminalManager always fails.
func (h *Handler) terminalWrite(ctx context.Context, sessionID, sessionCwd string, caps Capabilities, arguments json.RawMessage) (string, error) {
	if !caps.Terminal {
		return "", fmt.Errorf("client capability terminal is not declared")
	}
	var args struct {
		TerminalID string `json:"terminalId"`
		Data       string `json:"data"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	if cdPath, ok := parseCdCommand(args.Data); ok {
		if err := h.Terminal.ChangeDir(ctx, sessionID, cdPath); err != nil {
			return "", err
		}
		return "ok", nil
	}

	if err := h.Guard.ValidateCommand(args.Data); err != nil {
		return "", err
	}
	return h.Terminal.Create(ctx, sessionID, args.Data, sessionCwd)
}

func parseCdCommand(data string) (string, bool) {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "cd ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "cd ")), true
}

// dispatchCost prices a tool call for the limiter: spawning a terminal or
// crossing out to an MCP server costs more tokens than a plain file read,
// so a handful of expensive calls can't starve a session's whole bucket.
func dispatchCost(name string) int {
	if _, _, ok := splitMCPName(name); ok {
		return 3
	}
	switch name {
	case "terminal_create":
		return 3
	case "terminal_write":
		return 2
	default:
		return 1
	}
}

func splitMCPName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, ":")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

func auditType(name string) string {
	switch {
	case strings.Contains(name, "write"):
		return "write"
	case strings.Contains(name, "list"):
		return "list"
	default:
		return "read"
	}
}

func validJSONObject(arguments json.RawMessage) bool {
	var v interface{}
	if err := json.Unmarshal(arguments, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]interface{})
	return ok
}

func jsonErr(msg string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return out
}
