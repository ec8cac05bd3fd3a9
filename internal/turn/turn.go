// Package turn implements the agentic turn controller (C8): the loop that
// drives one session/prompt turn to completion, streaming a model's
// generation into AgentMessageChunk notifications, extracting and
// dispatching tool calls through C7, and deciding when the turn ends.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/common/logger"
	"github.com/kandev/agentrt/internal/parser"
	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/ratelimit"
	"github.com/kandev/agentrt/internal/session"
	"github.com/kandev/agentrt/internal/toolcalls"
	"github.com/kandev/agentrt/internal/toolhandler"
	"github.com/kandev/agentrt/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StopReason is why RunTurn stopped generating (§4.8).
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopCancelled       StopReason = "cancelled"
	StopRefusal         StopReason = "refusal"
)

// Chunk is one piece of a model's streaming generation output. FinishReason
// is set only on the chunk that ends the generation.
type Chunk struct {
	Text         string
	TokenCount   int
	FinishReason string
}

// ModelStream is the model-generation collaborator; model loading and
// inference are explicitly out of the core's scope (§1).
type ModelStream interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (<-chan Chunk, error)
}

// Notifier is implemented by the ACP server dispatch (C9): it turns chunks
// into session/update notifications and mediates the client round trip for
// tool calls that require consent.
type Notifier interface {
	NotifyAgentMessageChunk(ctx context.Context, sessionID, text string)
	RequestPermission(ctx context.Context, sessionID, toolCallID, toolName, description string, arguments json.RawMessage, options []permission.Option) (permission.OptionKind, error)
}

// MCPSessionBinder scopes outbound MCP tool dispatch to the session
// currently generating (§4.8's "sets the ACP session context on every MCP
// client associated with the session").
type MCPSessionBinder interface {
	SetSessionContext(sessionID string)
	ClearSessionContext()
}

// Config holds the context-budget parameters and turn-request ceiling
// consulted on every generation.
type Config struct {
	ContextSize      int
	MaxTokensPerTurn int
	MinTokenFloor    int
	MaxTurnRequests  int
}

// Controller is C8's dependency-injected implementation.
type Controller struct {
	Store    *toolcalls.Store
	Tools    *toolhandler.Handler
	Model    ModelStream
	Notifier Notifier
	MCP      MCPSessionBinder // optional
	Limiter  *ratelimit.Limiter // optional, guards generation restarts
	Config   Config
	Log      *logger.Logger
}

// New constructs a Controller, defaulting Log to the package-wide logger
// when none is supplied.
func New(cfg Config) *Controller {
	return &Controller{Config: cfg, Log: logger.Default().WithFields(zap.String("component", "turn-controller"))}
}

// Result summarizes a completed RunTurn call.
type Result struct {
	StopReason        StopReason
	TokensGenerated   int
	ToolCallsExecuted int
}

// RunTurn drives sess through repeated generate/dispatch cycles until a
// terminal stop reason is reached (§4.8). renderer and schemas are supplied
// by the caller because both are bound to the session's model and
// registered tools (which vary per session's MCP configuration), not to the
// controller itself; schemas may be nil.
func (c *Controller) RunTurn(ctx context.Context, sess *session.Session, caps toolhandler.Capabilities, renderer *chattemplate.Renderer, schemas *parser.SchemaSet) (Result, error) {
	sessionID := sess.ACPID()
	ctx, span := tracing.Tracer().Start(ctx, "turn", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	if c.MCP != nil {
		c.MCP.SetSessionContext(sessionID)
		defer c.MCP.ClearSessionContext()
	}

	var result Result

	sess.GenerationCount = 0
	for {
		sess.GenerationCount++
		if sess.GenerationCount > c.Config.MaxTurnRequests {
			sess.GenerationCount--
			result.StopReason = StopMaxTurnRequests
			break
		}

		if c.Limiter != nil {
			if decision := c.Limiter.Allow(sessionID + ":generate"); !decision.Allowed {
				c.Notifier.NotifyAgentMessageChunk(ctx, sessionID, fmt.Sprintf("generation rate limited, retry after %s", decision.RetryAfter))
				result.StopReason = StopEndTurn
				break
			}
		}

		stop, genTokens, toolsExecuted, err := c.generateOnce(ctx, sess, caps, renderer, schemas)
		result.TokensGenerated += genTokens
		result.ToolCallsExecuted += toolsExecuted
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		if stop != "" {
			result.StopReason = stop
			break
		}
	}

	span.SetAttributes(attribute.String("turn.stop_reason", string(result.StopReason)))
	return result, nil
}

// generateOnce runs a single inner generate-then-dispatch cycle. A non-empty
// StopReason means the outer loop should stop; an empty one means it should
// continue to the next generation.
func (c *Controller) generateOnce(ctx context.Context, sess *session.Session, caps toolhandler.Capabilities, renderer *chattemplate.Renderer, schemas *parser.SchemaSet) (StopReason, int, int, error) {
	sessionID := sess.ACPID()

	maxTokens := computeMaxTokens(c.Config, sess.UsedTokens, c.Log)

	messages := sess.MessageSnapshot()
	offset, _ := sess.RenderedPrefix()
	prompt, err := renderer.RenderSessionFromOffset(messages, sess.ToolSchemas(), sess.Strategy, offset, true)
	if err != nil {
		return "", 0, 0, fmt.Errorf("render session: %w", err)
	}
	sess.SetRenderedPrefix(len(messages), sess.UsedTokens)

	chunks, err := c.Model.Generate(ctx, prompt, maxTokens)
	if err != nil {
		return "", 0, 0, fmt.Errorf("generate: %w", err)
	}

	sp := parser.NewStreamingParser(sess.Strategy, schemas)
	var acc strings.Builder
	var finishReason string
	var tokens int
	var calls []parser.ToolCall

	for chunk := range chunks {
		if chunk.Text != "" {
			acc.WriteString(chunk.Text)
			tokens += chunk.TokenCount
			c.Notifier.NotifyAgentMessageChunk(ctx, sessionID, chunk.Text)
			calls = append(calls, sp.ProcessDelta(chunk.Text)...)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	if ctx.Err() != nil {
		finishReason = "cancelled"
	}

	sess.UsedTokens += tokens
	if acc.Len() > 0 {
		sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleAssistant, Content: acc.String()})
	}

	if stop := mapFinishReason(finishReason); stop == StopMaxTokens || stop == StopCancelled || stop == StopRefusal {
		return stop, tokens, 0, nil
	}

	if len(calls) == 0 {
		return StopEndTurn, tokens, 0, nil
	}

	executed := c.dispatchToolCalls(ctx, sess, caps, calls)
	return "", tokens, executed, nil
}

// dispatchToolCalls runs each parsed tool call through C7, appending a Tool
// message to the session for every outcome, and returns the count that
// completed successfully.
func (c *Controller) dispatchToolCalls(ctx context.Context, sess *session.Session, caps toolhandler.Capabilities, calls []parser.ToolCall) int {
	sessionID := sess.ACPID()
	executed := 0

	for _, call := range calls {
		dispatchCtx, toolSpan := tracing.Tracer().Start(ctx, "tool_call_dispatch", trace.WithAttributes(
			attribute.String("tool.name", call.Name),
		))

		res := c.Tools.HandleToolRequest(dispatchCtx, sessionID, sess.Cwd, caps, call.ID, call.Name, call.Arguments)

		switch res.Kind {
		case toolhandler.ResultSuccess:
			sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: res.Text, ToolCallID: call.ID, ToolName: call.Name})
			executed++

		case toolhandler.ResultPermissionRequired:
			if c.handlePermissionRequired(dispatchCtx, sess, caps, res) {
				executed++
			}

		case toolhandler.ResultError:
			c.Notifier.NotifyAgentMessageChunk(ctx, sessionID, "tool call failed: "+res.Message)
			sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: "error: " + res.Message, ToolCallID: call.ID, ToolName: call.Name})
		}

		toolSpan.End()
	}

	return executed
}

// handlePermissionRequired runs the client consent round trip for a tool
// call the policy engine deferred, then force-dispatches on an allow
// outcome. It reports whether the tool call ultimately succeeded.
func (c *Controller) handlePermissionRequired(ctx context.Context, sess *session.Session, caps toolhandler.Capabilities, res toolhandler.Result) bool {
	sessionID := sess.ACPID()

	decision, err := c.Notifier.RequestPermission(ctx, sessionID, res.ToolCallID, res.ToolName, res.Description, res.Arguments, res.Options)
	if err != nil {
		c.Store.Fail(ctx, res.ToolCallID, jsonErr(err.Error()))
		sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: "error: " + err.Error(), ToolCallID: res.ToolCallID, ToolName: res.ToolName})
		return false
	}

	if decision == permission.RejectOnce || decision == permission.RejectAlways {
		msg := "tool call rejected by user"
		c.Store.Fail(ctx, res.ToolCallID, jsonErr(msg))
		sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: msg, ToolCallID: res.ToolCallID, ToolName: res.ToolName})
		return false
	}

	c.Store.UpdateReport(ctx, res.ToolCallID, func(r *toolcalls.Report) {
		r.Status = toolcalls.StatusInProgress
	})
	forced := c.Tools.ForceDispatch(ctx, sessionID, sess.Cwd, caps, res.ToolCallID, res.ToolName, res.Arguments)

	if forced.Kind != toolhandler.ResultSuccess {
		c.Notifier.NotifyAgentMessageChunk(ctx, sessionID, "tool call failed: "+forced.Message)
		sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: "error: " + forced.Message, ToolCallID: res.ToolCallID, ToolName: res.ToolName})
		return false
	}

	sess.AppendMessage(chattemplate.Message{Role: chattemplate.RoleTool, Content: forced.Text, ToolCallID: res.ToolCallID, ToolName: res.ToolName})
	return true
}

// computeMaxTokens is min(cfg.MaxTokensPerTurn, cfg.ContextSize-usedTokens),
// floored at cfg.MinTokenFloor with a warning when the floor binds (§4.8).
func computeMaxTokens(cfg Config, usedTokens int, log *logger.Logger) int {
	budget := cfg.ContextSize - usedTokens
	if budget > cfg.MaxTokensPerTurn {
		budget = cfg.MaxTokensPerTurn
	}
	if budget < cfg.MinTokenFloor {
		if log != nil {
			log.Warn("max_tokens floor applied",
				zap.Int("computed", budget),
				zap.Int("floor", cfg.MinTokenFloor),
				zap.Int("usedTokens", usedTokens),
			)
		}
		budget = cfg.MinTokenFloor
	}
	return budget
}

// mapFinishReason maps a model-reported finish reason to a StopReason via
// case-insensitive substring matching, mirroring the parser family's
// strategy-detection idiom (§4.4). An unrecognized or empty reason maps to
// StopEndTurn, which lets the outer loop re-parse and continue.
func mapFinishReason(reason string) StopReason {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "cancel"):
		return StopCancelled
	case strings.Contains(lower, "refus"):
		return StopRefusal
	case strings.Contains(lower, "length") || strings.Contains(lower, "max_token") || strings.Contains(lower, "maximum"):
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

func jsonErr(msg string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return out
}
