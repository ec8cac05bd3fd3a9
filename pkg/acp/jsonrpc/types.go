// Package jsonrpc implements JSON-RPC 2.0 protocol for ACP (Agent Client Protocol)
package jsonrpc

import "encoding/json"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      interface{}     `json:"id,omitempty"` // Request ID (int or string), omit for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Notification represents a JSON-RPC 2.0 notification (no ID, no response expected)
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ACP Methods
const (
	// Client -> Agent methods
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionLoad   = "session/load"
	MethodSessionCancel = "session/cancel"
	MethodSessionSetMode = "session/set_mode"
	MethodAuthenticate  = "authenticate"

	// Agent -> Client notifications
	NotificationSessionUpdate = "session/update"

	// Agent -> Client requests (require response)
	MethodRequestPermission = "session/request_permission"

	// Agent -> Client ext methods (fs/*, terminal/*), gated on the
	// corresponding ClientCapabilities field at initialize (§4.9/§6).
	MethodFsReadTextFile     = "fs/read_text_file"
	MethodFsWriteTextFile    = "fs/write_text_file"
	MethodTerminalCreate     = "terminal/create"
	MethodTerminalOutput     = "terminal/output"
	MethodTerminalWaitForExit = "terminal/wait_for_exit"
	MethodTerminalGet        = "terminal/get"
	MethodTerminalKill       = "terminal/kill"
	MethodTerminalRelease    = "terminal/release"
)

// Protocol versions negotiated at initialize. The agent answers with the
// client's ProtocolVersion when it is between ProtocolVersionLegacy and
// ProtocolVersionCurrent inclusive, and with ProtocolVersionCurrent
// otherwise (§6).
const (
	ProtocolVersionLegacy  = 0
	ProtocolVersionCurrent = 1
)

// InitializeParams for initialize method
type InitializeParams struct {
	ProtocolVersion int                 `json:"protocolVersion"`
	ClientInfo      ClientInfo          `json:"clientInfo"`
	Capabilities    ClientCapabilities  `json:"capabilities,omitempty"`
}

// ClientInfo identifies the client
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities describes what the client supports
type ClientCapabilities struct {
	Streaming bool           `json:"streaming,omitempty"`
	FS        FSCapabilities `json:"fs,omitempty"`
	Terminal  bool           `json:"terminal,omitempty"`
}

// FSCapabilities describes the ext fs/* methods a client implements.
type FSCapabilities struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// InitializeResult from initialize method
type InitializeResult struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities,omitempty"`
}

// ServerInfo identifies the server (agent)
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities describes what the server supports
type ServerCapabilities struct {
	ToolsProvider         bool            `json:"toolsProvider,omitempty"`
	LoadSession           bool            `json:"loadSession,omitempty"`
	Mcp                   McpCapabilities `json:"mcp,omitempty"`
	SupportsModes         bool            `json:"supportsModes,omitempty"`
	SupportsPlans         bool            `json:"supportsPlans,omitempty"`
	SupportsSlashCommands bool            `json:"supportsSlashCommands,omitempty"`
}

// McpCapabilities describes which outbound MCP transports the agent supports
// for session/new's McpServer entries, beyond the always-supported stdio.
type McpCapabilities struct {
	Http bool `json:"http,omitempty"`
	Sse  bool `json:"sse,omitempty"`
}

// SessionNewParams for session/new method
type SessionNewParams struct {
	Cwd        string      `json:"cwd"`        // Working directory for the session
	McpServers []McpServer `json:"mcpServers"` // MCP servers (required, can be empty array)
}

// McpServer configuration for MCP servers
// Supports both stdio (command+args) and remote (url+type) transports
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"` // For stdio transport
	Args    []string `json:"args,omitempty"`    // For stdio transport
	URL     string   `json:"url,omitempty"`     // For HTTP/SSE transport
	Type    string   `json:"type,omitempty"`    // "sse" or "http" for remote transport
}

// SessionNewResult from session/new method
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// ContentBlock represents a content block in ACP protocol
// The prompt field in session/prompt is an array of ContentBlock
type ContentBlock struct {
	Type string `json:"type"` // "text", "resource", "image", etc.
	Text string `json:"text,omitempty"` // For type="text"
	// Resource *ResourceContent `json:"resource,omitempty"` // For type="resource" (not implemented yet)
}

// SessionPromptParams for session/prompt method
// According to ACP protocol, prompt is an array of ContentBlock, not a string
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"` // Session ID from session/new
	Prompt    []ContentBlock `json:"prompt"`    // Array of content blocks
}

// SessionPromptResult from session/prompt method
type SessionPromptResult struct {
	// Result is empty, updates come via notifications
}

// SessionLoadParams for session/load method (resume session)
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadResult from session/load method
type SessionLoadResult struct {
	SessionID string `json:"sessionId"`
	Restored  bool   `json:"restored"`
}

// SessionCancelParams for session/cancel notification
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SessionUpdate notification from agent
type SessionUpdate struct {
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"` // content, toolCall, thinking, error, complete
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionUpdateContent for type="content"
type SessionUpdateContent struct {
	Text string `json:"text"`
}

// SessionUpdateToolCall for type="toolCall"
type SessionUpdateToolCall struct {
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args,omitempty"`
	Status   string          `json:"status"` // pending, running, complete, error
	Result   string          `json:"result,omitempty"`
}

// SessionUpdateComplete for type="complete"
type SessionUpdateComplete struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
}

// SessionUpdateInputRequested for type="input_requested"
// Sent by agent when it needs user input to continue
type SessionUpdateInputRequested struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"` // The question or prompt for the user
}

// RequestPermissionParams for session/request_permission request from agent
type RequestPermissionParams struct {
	SessionID string                  `json:"sessionId"`
	ToolCall  ToolCallUpdate          `json:"toolCall"`
	Options   []PermissionOption      `json:"options"`
}

// ToolCallUpdate contains tool call information in permission requests
type ToolCallUpdate struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
}

// PermissionOption represents a permission choice
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // allow_once, allow_always, reject_once, reject_always
}

// RequestPermissionResult is the response to session/request_permission
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome represents the user's decision
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`  // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"` // Only present when outcome="selected"
}

// SessionSetModeParams for session/set_mode
type SessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// SessionSetModeResult is the (empty) response to session/set_mode
type SessionSetModeResult struct{}

// CurrentModeUpdate for SessionUpdate.Type == "current_mode_update",
// pushed to the client whenever a session's active mode changes.
type CurrentModeUpdate struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// PlanEntry is one step of a Plan update.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status"` // pending, in_progress, completed
	Priority string `json:"priority,omitempty"`
}

// PlanUpdate for SessionUpdate.Type == "plan", pushed whenever the session's
// todo list changes (§3A).
type PlanUpdate struct {
	SessionID string      `json:"sessionId"`
	Entries   []PlanEntry `json:"entries"`
}

// FsReadTextFileParams for the ext fs/read_text_file request
type FsReadTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Line      *int   `json:"line,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// FsReadTextFileResult is the response to fs/read_text_file
type FsReadTextFileResult struct {
	Content string `json:"content"`
}

// FsWriteTextFileParams for the ext fs/write_text_file request
type FsWriteTextFileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// FsWriteTextFileResult is the (empty) response to fs/write_text_file
type FsWriteTextFileResult struct{}

// TerminalExitStatus reports how a terminal process ended.
type TerminalExitStatus struct {
	ExitCode *int   `json:"exitCode,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

// TerminalCreateParams for the ext terminal/create request
type TerminalCreateParams struct {
	SessionID string            `json:"sessionId"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// TerminalCreateResult is the response to terminal/create
type TerminalCreateResult struct {
	TerminalID string `json:"terminalId"`
}

// TerminalOutputParams for the ext terminal/output and terminal/get requests
type TerminalOutputParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalOutputResult is the response to terminal/output and terminal/get
type TerminalOutputResult struct {
	Output     string               `json:"output"`
	Truncated  bool                 `json:"truncated"`
	ExitStatus *TerminalExitStatus  `json:"exitStatus,omitempty"`
}

// TerminalWaitForExitParams for the ext terminal/wait_for_exit request
type TerminalWaitForExitParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalWaitForExitResult is the response to terminal/wait_for_exit
type TerminalWaitForExitResult struct {
	ExitStatus TerminalExitStatus `json:"exitStatus"`
}

// TerminalKillParams for the ext terminal/kill request
type TerminalKillParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalKillResult is the (empty) response to terminal/kill
type TerminalKillResult struct{}

// TerminalReleaseParams for the ext terminal/release request
type TerminalReleaseParams struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

// TerminalReleaseResult is the (empty) response to terminal/release
type TerminalReleaseResult struct{}
