// Package session implements the Session and Message data model of §3: an
// opaque-id session owning a working directory, an append-only message log,
// registered tools, mode state, and cached token accounting for incremental
// template rendering.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/parser"
)

// Mode is a declared session mode (e.g. "ask", "code", "architect").
type Mode struct {
	ID          string
	Name        string
	Description string
}

// Session is a single ACP session's live state.
type Session struct {
	mu sync.RWMutex

	internalID string // used for model/session storage
	acpID      string // external ACP id, a string

	Cwd         string
	Messages    []chattemplate.Message
	Tools       []parser.ToolDefinition
	Strategy    parser.Strategy
	ModelID     string
	Modes       []Mode
	CurrentMode string

	UsedTokens int

	// renderedMessageCount/renderedTokenCount cache the last
	// incrementally-rendered prefix for render_session_from_offset.
	renderedMessageCount int
	renderedTokenCount   int

	GenerationCount int // per-turn generation counter consulted for MaxTurnRequests
}

// New constructs a Session bound to cwd with an internal id and a fresh
// ACP-facing id.
func New(cwd, modelID string) *Session {
	internal := uuid.NewString()
	return &Session{
		internalID: internal,
		acpID:      internal,
		Cwd:        cwd,
		ModelID:    modelID,
		Strategy:   parser.DetectStrategy(modelID),
	}
}

// ACPID returns the session's external ACP-facing id.
func (s *Session) ACPID() string {
	return s.acpID
}

// InternalID returns the session's internal (model/storage) id.
func (s *Session) InternalID() string {
	return s.internalID
}

// AppendMessage appends a message to the session's log.
func (s *Session) AppendMessage(msg chattemplate.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
}

// MessageSnapshot returns a copy of the session's current message log.
func (s *Session) MessageSnapshot() []chattemplate.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chattemplate.Message(nil), s.Messages...)
}

// RenderedPrefix returns the (messageCount, tokenCount) cached from the
// last incremental render, for render_session_from_offset.
func (s *Session) RenderedPrefix() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renderedMessageCount, s.renderedTokenCount
}

// SetRenderedPrefix updates the cached incremental-render prefix.
func (s *Session) SetRenderedPrefix(messageCount, tokenCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderedMessageCount = messageCount
	s.renderedTokenCount = tokenCount
}

// ToolSchemas projects Tools into the shape chattemplate needs.
func (s *Session) ToolSchemas() []chattemplate.ToolSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chattemplate.ToolSchema, len(s.Tools))
	for i, t := range s.Tools {
		out[i] = chattemplate.ToolSchema{Name: t.Name, Description: t.Description, Parameters: string(t.Parameters)}
	}
	return out
}

// Registry is the process-wide map from ACP session id to Session,
// guarded per §5's "shared-resource discipline" (RWMutex, read-heavy).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put inserts or replaces a session under its ACP id.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ACPID()] = s
}

// Get returns the session for acpID, or nil.
func (r *Registry) Get(acpID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[acpID]
}

// Delete removes acpID from the registry.
func (r *Registry) Delete(acpID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, acpID)
}
