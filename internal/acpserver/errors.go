package acpserver

import "github.com/kandev/agentrt/pkg/acp/jsonrpc"

// invalidParams covers malformed params, unknown session/mode ids, and
// security/not-found/permission-denied rejections surfaced by a collaborator
// (§7's error taxonomy maps all of these onto -32602).
func invalidParams(msg string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: msg}
}

// internalErr is the default mapping for an unmapped I/O or collaborator
// failure (§7).
func internalErr(msg string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.InternalError, Message: msg}
}
