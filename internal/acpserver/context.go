package acpserver

import "context"

type contextKey string

const sessionIDKey contextKey = "acp_session_id"

// withSessionID threads the owning session's id onto ctx so collaborators
// reached deep in a call chain (toolhandler.FileSystem's ext-mediated
// ReadFile/WriteFile, which take no sessionID parameter) can recover it.
func withSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
