package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kandev/agentrt/internal/common/logger"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// ToolInfo is one tool discovered from a connected MCP server, carried back
// to the turn controller's session so it can register it as a
// parser.ToolDefinition (§4.9's "discovers their tools and merges into the
// session").
type ToolInfo struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// connection is one live outbound MCP connection.
type connection struct {
	name  string
	client *mcpclient.Client
	tools []ToolInfo
}

// Collaborator is the production implementation of toolhandler.MCPCollaborator:
// it multiplexes outbound connections to the external MCP servers named in
// `<server>:<tool>` tool calls and translates the ACP-facing execute_tool_call
// interface into an MCP call_tool round trip.
type Collaborator struct {
	mu          sync.RWMutex
	connections map[string]*connection
	sessionID   string // set by the turn controller for the whole turn (§4.8)
	log         *logger.Logger
}

// New constructs an empty Collaborator. Servers are connected lazily via
// Connect, typically driven by the runtime's MCP section of its config.
func New(log *logger.Logger) *Collaborator {
	if log == nil {
		log = logger.Default()
	}
	return &Collaborator{
		connections: make(map[string]*connection),
		log:         log.WithFields(zap.String("component", "mcp-collaborator")),
	}
}

// Connect dials name per cfg, performs the MCP initialize handshake, and
// records the server's tool set for diagnostics.
func (c *Collaborator) Connect(ctx context.Context, name string, cfg ServerConfig) error {
	client, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("mcp server %q: create client: %w", name, err)
	}

	if cfg.Transport != "" && cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("mcp server %q: start transport: %w", name, err)
		}
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentrt", Version: "0.1.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("mcp server %q: initialize: %w", name, err)
	}

	toolsResult, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("mcp server %q: list tools: %w", name, err)
	}
	tools := make([]ToolInfo, 0, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, Schema: schema})
	}

	c.mu.Lock()
	if existing, ok := c.connections[name]; ok {
		_ = existing.client.Close()
	}
	c.connections[name] = &connection{name: name, client: client, tools: tools}
	c.mu.Unlock()

	c.log.Info("mcp server connected", zap.String("server", name), zap.Int("tools", len(tools)))
	return nil
}

// Tools returns the tools discovered on server at Connect time, or nil if
// server isn't connected.
func (c *Collaborator) Tools(server string) []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[server]
	if !ok {
		return nil
	}
	return append([]ToolInfo(nil), conn.tools...)
}

// SetSessionContext records the ACP session a subsequent batch of tool calls
// belongs to (§4.8: "sets the ACP session context on every MCP client
// associated with the session"). It is forwarded as call metadata.
func (c *Collaborator) SetSessionContext(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// ClearSessionContext clears the session set by SetSessionContext, called
// once the turn controller's outer loop exits.
func (c *Collaborator) ClearSessionContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
}

// ExecuteToolCall implements toolhandler.MCPCollaborator: it looks up the
// connection for server, issues a call_tool request for toolName, and
// flattens the result's content blocks into plain text.
func (c *Collaborator) ExecuteToolCall(ctx context.Context, server, toolName string, arguments json.RawMessage) (string, error) {
	c.mu.RLock()
	conn, ok := c.connections[server]
	sessionID := c.sessionID
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no MCP server connected for %q", server)
	}

	args, err := decodeArguments(arguments)
	if err != nil {
		return "", fmt.Errorf("mcp server %q: %w", server, err)
	}
	if sessionID != "" {
		args["_acp_session_id"] = sessionID
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := conn.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp server %q: call tool %q: %w", server, toolName, err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp server %q: tool %q returned an error: %s", server, toolName, text)
	}
	return text, nil
}

// Close closes every live connection.
func (c *Collaborator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []string
	for name, conn := range c.connections {
		if err := conn.client.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	c.connections = make(map[string]*connection)
	if len(errs) > 0 {
		return fmt.Errorf("closing MCP connections: %s", strings.Join(errs, "; "))
	}
	return nil
}

func decodeArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

func flattenContent(blocks []mcp.Content) string {
	var b strings.Builder
	for i, block := range blocks {
		if text, ok := block.(mcp.TextContent); ok {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text.Text)
		}
	}
	return b.String()
}
