package acpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/common/appctx"
	"github.com/kandev/agentrt/internal/mcpserver"
	"github.com/kandev/agentrt/internal/parser"
	"github.com/kandev/agentrt/internal/session"
	"github.com/kandev/agentrt/pkg/acp/jsonrpc"
	"go.uber.org/zap"
)

// turnShutdownGrace bounds how long an in-flight turn gets to finish its
// cleanup (MCP session-context teardown, final notifications) after the
// connection's root context is cancelled, rather than being killed with it.
const turnShutdownGrace = 10 * time.Second

// handleInitialize negotiates the protocol version, records the client's
// declared capabilities, and advertises what this runtime supports (§4.9).
func (s *Server) handleInitialize(req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params jsonrpc.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams("invalid initialize params: " + err.Error())
	}
	version := params.ProtocolVersion
	if version < jsonrpc.ProtocolVersionLegacy || version > jsonrpc.ProtocolVersionCurrent {
		version = jsonrpc.ProtocolVersionCurrent
	}

	s.clientCaps.Store(&params.Capabilities)

	return jsonrpc.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      jsonrpc.ServerInfo{Name: "agentrt", Version: "0.1.0"},
		Capabilities: jsonrpc.ServerCapabilities{
			ToolsProvider:         true,
			LoadSession:           true,
			Mcp:                   jsonrpc.McpCapabilities{Http: true, Sse: false},
			SupportsModes:         len(s.deps.Modes) > 0,
			SupportsPlans:         s.deps.Todos != nil,
			SupportsSlashCommands: false,
		},
	}, nil
}

// handleSessionNew constructs a session, registers capability-gated builtin
// tools, connects any requested MCP servers, and merges their discovered
// tools into the session's tool set (§4.9).
func (s *Server) handleSessionNew(ctx context.Context, req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params jsonrpc.SessionNewParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams("invalid session/new params: " + err.Error())
	}
	if params.Cwd == "" {
		return nil, invalidParams("cwd is required")
	}

	sess := session.New(params.Cwd, s.deps.DefaultModelID)
	sess.Modes = s.deps.Modes
	if len(sess.Modes) > 0 {
		sess.CurrentMode = sess.Modes[0].ID
	}
	sess.Tools = builtinToolDefinitions(s.capsFor())

	for _, m := range params.McpServers {
		if strings.EqualFold(m.Type, "sse") {
			return nil, invalidParams(fmt.Sprintf("mcp server %q: sse transport is not supported", m.Name))
		}
		cfg := mcpserver.ServerConfig{Command: m.Command, Args: m.Args, Transport: "stdio"}
		if m.URL != "" {
			cfg.Transport = "streamable-http"
			cfg.URL = m.URL
		}
		if err := s.deps.MCP.Connect(ctx, m.Name, cfg); err != nil {
			return nil, internalErr(err.Error())
		}
		for _, t := range s.deps.MCP.Tools(m.Name) {
			sess.Tools = append(sess.Tools, parser.ToolDefinition{
				Name:        m.Name + ":" + t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
				ServerName:  m.Name,
			})
		}
	}

	s.deps.Sessions.Put(sess)
	s.log.Info("session created", zap.String("session.id", sess.ACPID()), zap.Int("tools", len(sess.Tools)))
	return jsonrpc.SessionNewResult{SessionID: sess.ACPID()}, nil
}

// handleSessionLoad resumes a previously created session still held in the
// registry. Cross-process session persistence is an external concern (§1);
// this runtime only ever "restores" sessions it already holds in memory.
func (s *Server) handleSessionLoad(req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params jsonrpc.SessionLoadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams("invalid session/load params: " + err.Error())
	}
	sess := s.deps.Sessions.Get(params.SessionID)
	if sess == nil {
		return nil, invalidParams(fmt.Sprintf("unknown session %q", params.SessionID))
	}
	return jsonrpc.SessionLoadResult{SessionID: sess.ACPID(), Restored: true}, nil
}

// handleSessionSetMode validates modeId against the session's configured
// modes and pushes a current_mode_update notification on success (§6).
func (s *Server) handleSessionSetMode(req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params jsonrpc.SessionSetModeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams("invalid session/set_mode params: " + err.Error())
	}
	sess := s.deps.Sessions.Get(params.SessionID)
	if sess == nil {
		return nil, invalidParams(fmt.Sprintf("unknown session %q", params.SessionID))
	}

	found := false
	for _, m := range sess.Modes {
		if m.ID == params.ModeID {
			found = true
			break
		}
	}
	if !found {
		return nil, invalidParams(fmt.Sprintf("unknown mode %q", params.ModeID))
	}

	sess.CurrentMode = params.ModeID
	s.sendSessionUpdate(sess.ACPID(), "current_mode_update", jsonrpc.CurrentModeUpdate{
		SessionID: sess.ACPID(),
		ModeID:    params.ModeID,
	})
	return jsonrpc.SessionSetModeResult{}, nil
}

// handleSessionPrompt appends the user's prompt to the session log and
// drives one full turn to completion, registering a cancel func so a
// concurrent session/cancel notification can interrupt it (§4.8/§4.9).
func (s *Server) handleSessionPrompt(ctx context.Context, req jsonrpc.Request) (interface{}, *jsonrpc.Error) {
	var params jsonrpc.SessionPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, invalidParams("invalid session/prompt params: " + err.Error())
	}
	sess := s.deps.Sessions.Get(params.SessionID)
	if sess == nil {
		return nil, invalidParams(fmt.Sprintf("unknown session %q", params.SessionID))
	}

	var text strings.Builder
	for _, block := range params.Prompt {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleUser, Content: text.String()})

	// Detached so a turn's cleanup survives the connection context dying out
	// from under it (client disconnect, SIGINT/SIGTERM) — bounded by
	// turnShutdownGrace instead, with session/cancel still able to cut it
	// short immediately via the stored cancel func.
	turnCtx, cancel := appctx.Detached(ctx, s.shutdownCh, turnShutdownGrace)
	turnCtx = withSessionID(turnCtx, sess.ACPID())
	s.cancelMu.Lock()
	s.cancels[sess.ACPID()] = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		delete(s.cancels, sess.ACPID())
		s.cancelMu.Unlock()
		cancel()
	}()

	renderer := s.deps.Renderer(sess)
	schemas := parser.NewSchemaSet(sess.Tools)

	result, err := s.deps.Turn.RunTurn(turnCtx, sess, s.capsFor(), renderer, schemas)
	if err != nil {
		return nil, internalErr("turn failed: " + err.Error())
	}

	s.log.Info("turn completed",
		zap.String("session.id", sess.ACPID()),
		zap.String("stop_reason", string(result.StopReason)),
		zap.Int("tokens", result.TokensGenerated),
		zap.Int("tool_calls", result.ToolCallsExecuted),
	)
	return jsonrpc.SessionPromptResult{}, nil
}

// handleSessionCancel cooperatively cancels an in-flight turn; cancelling a
// session with no active turn is a silent no-op, never an error (§4.9).
func (s *Server) handleSessionCancel(req jsonrpc.Request) {
	var params jsonrpc.SessionCancelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Warn("invalid session/cancel params", zap.Error(err))
		return
	}
	s.cancelMu.Lock()
	cancel, ok := s.cancels[params.SessionID]
	s.cancelMu.Unlock()
	if ok {
		cancel()
	}
}
