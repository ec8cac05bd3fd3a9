package acpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/todo"
	"github.com/kandev/agentrt/internal/toolcalls"
	"github.com/kandev/agentrt/pkg/acp/jsonrpc"
	"go.uber.org/zap"
)

// sendSessionUpdate wraps data in a session/update notification envelope
// and writes it, logging (but not returning) a write failure — a dropped
// notification must never abort the turn that produced it.
func (s *Server) sendSessionUpdate(sessionID, updateType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error("marshal session update", zap.String("type", updateType), zap.Error(err))
		return
	}
	params, err := json.Marshal(jsonrpc.SessionUpdate{SessionID: sessionID, Type: updateType, Data: raw})
	if err != nil {
		s.log.Error("marshal session update envelope", zap.Error(err))
		return
	}
	if err := s.notify(jsonrpc.NotificationSessionUpdate, params); err != nil {
		s.log.Error("send session update", zap.String("type", updateType), zap.Error(err))
	}
}

// NotifyToolCall implements toolcalls.Notifier: a freshly created report is
// sent in full.
func (s *Server) NotifyToolCall(_ context.Context, sessionID string, report toolcalls.Report) {
	s.sendSessionUpdate(sessionID, "tool_call", report)
}

// NotifyToolCallUpdate implements toolcalls.Notifier: a diff-only (or, at a
// terminal transition, full) update.
func (s *Server) NotifyToolCallUpdate(_ context.Context, sessionID string, update toolcalls.Update) {
	s.sendSessionUpdate(sessionID, "tool_call_update", update)
}

// NotifyAgentMessageChunk implements turn.Notifier, translating a streamed
// model-output chunk into a content session/update.
func (s *Server) NotifyAgentMessageChunk(_ context.Context, sessionID, text string) {
	s.sendSessionUpdate(sessionID, "agent_message_chunk", jsonrpc.SessionUpdateContent{Text: text})
}

// NotifyPlan implements todo.PlanListener, translating a resynced todo list
// into a Plan notification (§3A).
func (s *Server) NotifyPlan(sessionID string, list todo.List) {
	entries := make([]jsonrpc.PlanEntry, len(list.Items))
	for i, item := range list.Items {
		entries[i] = jsonrpc.PlanEntry{Content: item.Description, Status: string(item.Status)}
	}
	s.sendSessionUpdate(sessionID, "plan", jsonrpc.PlanUpdate{SessionID: sessionID, Entries: entries})
}

// RequestPermission implements turn.Notifier: it round-trips a
// session/request_permission request to the client and maps its outcome
// back onto the selected permission.Option's Kind.
func (s *Server) RequestPermission(ctx context.Context, sessionID, toolCallID, toolName, description string, _ json.RawMessage, options []permission.Option) (permission.OptionKind, error) {
	opts := make([]jsonrpc.PermissionOption, len(options))
	for i, o := range options {
		opts[i] = jsonrpc.PermissionOption{OptionID: o.OptionID, Name: o.Name, Kind: string(o.Kind)}
	}

	params := jsonrpc.RequestPermissionParams{
		SessionID: sessionID,
		ToolCall:  jsonrpc.ToolCallUpdate{ToolCallID: toolCallID, Title: description},
		Options:   opts,
	}

	raw, err := s.sendRequest(ctx, jsonrpc.MethodRequestPermission, params)
	if err != nil {
		return "", err
	}

	var result jsonrpc.RequestPermissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	if result.Outcome.Outcome == "cancelled" {
		return permission.RejectOnce, nil
	}
	for _, o := range options {
		if o.OptionID == result.Outcome.OptionID {
			return o.Kind, nil
		}
	}
	return "", fmt.Errorf("tool call %s: unrecognized permission option id %q", toolName, result.Outcome.OptionID)
}
