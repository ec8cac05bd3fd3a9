// Package todo implements the supplemented Todo/TodoList data model (§3A):
// a per-session plan store that todo-management MCP tools resync, and that
// the ACP server dispatch (C9) turns into a Plan notification.
package todo

import "sync"

// Status is a todo item's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Item is a single todo entry.
type Item struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// List is a session's ordered todo list.
type List struct {
	Items []Item `json:"items"`
}

// PlanListener is notified whenever a session's todo list changes, so it
// can emit a Plan notification (§4.7: "todo-related MCP tools trigger a
// session-todo resync and a Plan notification").
type PlanListener interface {
	NotifyPlan(sessionID string, list List)
}

// Store is a process-wide map from session id to its todo list.
type Store struct {
	mu       sync.RWMutex
	lists    map[string]*List
	listener PlanListener
}

// New constructs a Store that notifies listener on every resync. listener
// may be nil and attached later with SetListener, for callers (e.g. C9)
// whose listener implementation is itself constructed around this Store.
func New(listener PlanListener) *Store {
	return &Store{lists: make(map[string]*List), listener: listener}
}

// SetListener attaches or replaces the store's PlanListener.
func (s *Store) SetListener(listener PlanListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// Resync replaces sessionID's todo list wholesale — the shape MCP
// todo-management tools use (they submit the full desired list, not deltas)
// — and notifies the plan listener.
func (s *Store) Resync(sessionID string, items []Item) List {
	list := List{Items: append([]Item(nil), items...)}

	s.mu.Lock()
	s.lists[sessionID] = &list
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.NotifyPlan(sessionID, list)
	}
	return list
}

// Get returns sessionID's current todo list, or an empty List if none has
// been synced yet.
func (s *Store) Get(sessionID string) List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.lists[sessionID]; ok {
		return List{Items: append([]Item(nil), l.Items...)}
	}
	return List{}
}

// IsTodoTool reports whether toolName is one of the recognized
// todo-management MCP tool names that trigger a resync.
func IsTodoTool(toolName string) bool {
	switch toolName {
	case "todo_write", "todo_read", "update_plan", "set_todos":
		return true
	default:
		return false
	}
}
