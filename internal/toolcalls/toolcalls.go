// Package toolcalls implements the tool-call lifecycle store (C2): id
// allocation, the Pending→InProgress→{Completed|Failed|Cancelled} state
// machine, and partial-update diffing for ACP session/update notifications.
package toolcalls

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kandev/agentrt/internal/common/stringutil"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"
)

// Kind classifies a tool call for client-side icon/grouping purposes.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindDelete  Kind = "delete"
	KindMove    Kind = "move"
	KindSearch  Kind = "search"
	KindExecute Kind = "execute"
	KindThink   Kind = "think"
	KindFetch   Kind = "fetch"
	KindOther   Kind = "other"
)

// Status is a tool call's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Location is a (path, optional line) reference surfaced by a tool call.
type Location struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// ContentKind distinguishes the variants of Content.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentDiff     ContentKind = "diff"
	ContentTerminal ContentKind = "terminal"
)

// Content is one content block attached to a report (Text, Diff, or Terminal).
type Content struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Path       string      `json:"path,omitempty"`
	OldText    *string     `json:"oldText,omitempty"`
	NewText    string      `json:"newText,omitempty"`
	TerminalID string      `json:"terminalId,omitempty"`
}

// Report is the live record of a single tool call's lifecycle.
type Report struct {
	ToolCallID string     `json:"toolCallId"`
	Title      string     `json:"title"`
	Kind       Kind       `json:"kind"`
	ToolName   string     `json:"toolName"`
	Status     Status     `json:"status"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
	Locations  []Location `json:"locations,omitempty"`
	Content    []Content  `json:"content,omitempty"`

	sessionID string
	snapshot  Report // previous_state_snapshot, used for diffing; recursion avoided by zeroing this field
}

func (r Report) clone() Report {
	c := r
	c.snapshot = Report{}
	c.Locations = append([]Location(nil), r.Locations...)
	c.Content = append([]Content(nil), r.Content...)
	return c
}

// Update is the partial (or, for terminal transitions, full) set of fields
// that changed since the last notification for a given tool-call-id.
type Update struct {
	ToolCallID string     `json:"toolCallId"`
	Title      *string    `json:"title,omitempty"`
	Kind       *Kind      `json:"kind,omitempty"`
	Status     *Status    `json:"status,omitempty"`
	RawOutput  json.RawMessage `json:"rawOutput,omitempty"`
	Locations  []Location `json:"locations,omitempty"`
	Content    []Content  `json:"content,omitempty"`
}

// Notifier is implemented by the ACP server dispatch (C9) to translate
// lifecycle events into session/update notifications.
type Notifier interface {
	NotifyToolCall(ctx context.Context, sessionID string, report Report)
	NotifyToolCallUpdate(ctx context.Context, sessionID string, update Update)
}

// FileOperation is one audited filesystem access.
type FileOperation struct {
	Type      string    `json:"type"` // read, write, list
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

const idRetryBudget = 10

// Store is the process-wide concurrent map from tool-call-id to Report.
type Store struct {
	mu       sync.RWMutex
	reports  map[string]*Report
	audit    map[string][]FileOperation
	notifier Notifier
	sf       singleflight.Group
}

// New constructs a Store that emits lifecycle notifications via notifier.
// notifier may be nil and attached later with SetNotifier, for callers
// (e.g. C9) whose notifier implementation is itself constructed around
// this Store.
func New(notifier Notifier) *Store {
	return &Store{
		reports:  make(map[string]*Report),
		audit:    make(map[string][]FileOperation),
		notifier: notifier,
	}
}

// SetNotifier attaches or replaces the store's Notifier.
func (s *Store) SetNotifier(notifier Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = notifier
}

func newULID() string {
	return strings.ToLower(ulid.Make().String())
}

// allocateID generates a fresh "call_<ULID>" id, retrying on collision up to
// idRetryBudget times (collapsed per-session via singleflight) before
// falling back to a timestamp-salted id. When preferred is non-empty (the
// id a parser already assigned to the originating ToolCall), it is tried
// first, so the id threaded through the turn loop's Tool message matches
// the report's id on the happy path.
func (s *Store) allocateID(session, preferred string) string {
	v, _, _ := s.sf.Do(session+":alloc", func() (interface{}, error) {
		if preferred != "" {
			s.mu.RLock()
			_, exists := s.reports[preferred]
			s.mu.RUnlock()
			if !exists {
				return preferred, nil
			}
		}
		for i := 0; i < idRetryBudget; i++ {
			candidate := "call_" + newULID()
			s.mu.RLock()
			_, exists := s.reports[candidate]
			s.mu.RUnlock()
			if !exists {
				return candidate, nil
			}
		}
		fallback := fmt.Sprintf("call_%d_%s", time.Now().UnixNano(), newULID())
		return fallback, nil
	})
	return v.(string)
}

// CreateReport allocates a report for (session, toolName, arguments),
// classifies its kind, derives a title and locations, and inserts it into
// the live map. If desiredID is non-empty it is used as the report's id
// when not already taken; otherwise a fresh id is generated. The creation
// notification carries the full object.
func (s *Store) CreateReport(ctx context.Context, sessionID, toolName string, arguments json.RawMessage, desiredID string) *Report {
	id := s.allocateID(sessionID, desiredID)
	kind := ClassifyKind(toolName, arguments)
	title := DeriveTitle(toolName, arguments)
	locations := ExtractLocations(toolName, arguments)

	report := &Report{
		ToolCallID: id,
		Title:      title,
		Kind:       kind,
		ToolName:   toolName,
		Status:     StatusPending,
		RawInput:   arguments,
		Locations:  locations,
		sessionID:  sessionID,
	}
	// snapshot intentionally left zero so the first Update carries every field.

	s.mu.Lock()
	s.reports[id] = report
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.NotifyToolCall(ctx, sessionID, report.clone())
	}
	return report
}

// Get returns the live report for id, or nil.
func (s *Store) Get(id string) *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports[id]
}

// UpdateReport applies mutator under exclusive access and, if the report
// exists, emits a diff-only Update, then records the new snapshot.
func (s *Store) UpdateReport(ctx context.Context, id string, mutator func(*Report)) *Report {
	s.mu.Lock()
	report, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	before := report.snapshot
	mutator(report)
	update := diff(before, *report)
	report.snapshot = report.clone()
	terminal := report.Status.terminal()
	result := report.clone()
	if terminal {
		delete(s.reports, id)
	}
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.NotifyToolCallUpdate(ctx, report.sessionID, update)
	}
	return &result
}

// Complete marks id Completed, attaches rawOutput, and emits a final update
// that always includes locations and content.
func (s *Store) Complete(ctx context.Context, id string, rawOutput json.RawMessage) *Report {
	return s.finalize(ctx, id, StatusCompleted, rawOutput, nil)
}

// Fail marks id Failed, attaching an error payload.
func (s *Store) Fail(ctx context.Context, id string, errorOutput json.RawMessage) *Report {
	return s.finalize(ctx, id, StatusFailed, errorOutput, nil)
}

// Cancel marks id Cancelled.
func (s *Store) Cancel(ctx context.Context, id string) *Report {
	return s.finalize(ctx, id, StatusCancelled, nil, nil)
}

func (s *Store) finalize(ctx context.Context, id string, status Status, rawOutput json.RawMessage, extraContent []Content) *Report {
	s.mu.Lock()
	report, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	report.Status = status
	if rawOutput != nil {
		report.RawOutput = rawOutput
	}
	report.Content = append(report.Content, extraContent...)
	result := report.clone()
	delete(s.reports, id)
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		full := Update{
			ToolCallID: result.ToolCallID,
			Title:      &result.Title,
			Kind:       &result.Kind,
			Status:     &result.Status,
			RawOutput:  result.RawOutput,
			Locations:  result.Locations,
			Content:    result.Content,
		}
		notifier.NotifyToolCallUpdate(ctx, result.sessionID, full)
	}
	return &result
}

// EmbedTerminal appends a Terminal content block to id and emits an update.
func (s *Store) EmbedTerminal(ctx context.Context, id, terminalID string) error {
	found := false
	s.UpdateReport(ctx, id, func(r *Report) {
		found = true
		r.Content = append(r.Content, Content{Kind: ContentTerminal, TerminalID: terminalID})
	})
	if !found {
		return fmt.Errorf("tool call %q not found", id)
	}
	return nil
}

// RecordAudit appends a FileOperation to the per-session audit log.
func (s *Store) RecordAudit(sessionID string, op FileOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[sessionID] = append(s.audit[sessionID], op)
}

// Audit returns a copy of the session's audit log.
func (s *Store) Audit(sessionID string) []FileOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FileOperation(nil), s.audit[sessionID]...)
}

func diff(before, after Report) Update {
	u := Update{ToolCallID: after.ToolCallID}
	if before.Title != after.Title {
		u.Title = &after.Title
	}
	if before.Kind != after.Kind {
		u.Kind = &after.Kind
	}
	if before.Status != after.Status {
		u.Status = &after.Status
	}
	if string(before.RawOutput) != string(after.RawOutput) {
		u.RawOutput = after.RawOutput
	}
	if !locationsEqual(before.Locations, after.Locations) {
		u.Locations = after.Locations
	}
	if len(before.Content) != len(after.Content) {
		u.Content = after.Content
	}
	return u
}

func locationsEqual(a, b []Location) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Path != b[i].Path {
			return false
		}
		if (a[i].Line == nil) != (b[i].Line == nil) {
			return false
		}
		if a[i].Line != nil && *a[i].Line != *b[i].Line {
			return false
		}
	}
	return true
}

// ClassifyKind derives a Kind from a tool name and its arguments via
// deterministic substring matching, per §4.2.
func ClassifyKind(toolName string, arguments json.RawMessage) Kind {
	name := strings.ToLower(toolName)
	if idx := strings.Index(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	switch {
	case strings.Contains(name, "read"):
		return KindRead
	case strings.Contains(name, "write") || strings.Contains(name, "edit"):
		return KindEdit
	case strings.Contains(name, "delete") || strings.Contains(name, "remove"):
		return KindDelete
	case strings.Contains(name, "move") || strings.Contains(name, "rename"):
		return KindMove
	case strings.Contains(name, "search") || strings.Contains(name, "list") || strings.Contains(name, "find"):
		return KindSearch
	case strings.Contains(name, "execute") || strings.Contains(name, "terminal") || strings.Contains(name, "run"):
		return KindExecute
	case strings.Contains(name, "think") || strings.Contains(name, "plan"):
		return KindThink
	case strings.Contains(name, "fetch") || strings.Contains(name, "http"):
		return KindFetch
	default:
		return KindOther
	}
}

// DeriveTitle builds a human-readable title like "Reading config.json" from
// a tool name and its arguments.
func DeriveTitle(toolName string, arguments json.RawMessage) string {
	var args map[string]interface{}
	_ = json.Unmarshal(arguments, &args)

	verb := map[Kind]string{
		KindRead:    "Reading",
		KindEdit:    "Writing",
		KindDelete:  "Deleting",
		KindMove:    "Moving",
		KindSearch:  "Searching",
		KindExecute: "Running",
		KindThink:   "Thinking",
		KindFetch:   "Fetching",
		KindOther:   "Calling",
	}[ClassifyKind(toolName, arguments)]

	if path, ok := args["path"].(string); ok && path != "" {
		return fmt.Sprintf("%s %s", verb, shortPath(path))
	}
	if cmd, ok := args["command"].(string); ok && cmd != "" {
		return fmt.Sprintf("%s %s", verb, stringutil.TruncateStringWithEllipsis(cmd, 60))
	}
	if query, ok := args["query"].(string); ok && query != "" {
		return fmt.Sprintf("%s for %q", verb, stringutil.TruncateStringWithEllipsis(query, 40))
	}
	return fmt.Sprintf("%s %s", verb, toolName)
}

// DeriveReason builds a permission-prompt description carrying the full,
// untruncated argument value (the path being written, the command being
// run) rather than DeriveTitle's abbreviated display title — the client
// needs to show the user exactly what they're approving.
func DeriveReason(toolName string, arguments json.RawMessage) string {
	var args map[string]interface{}
	_ = json.Unmarshal(arguments, &args)

	path, _ := args["path"].(string)
	switch toolName {
	case "fs_read":
		if path != "" {
			return fmt.Sprintf("Read file at %s", path)
		}
		return "Read a file"
	case "fs_write":
		if path != "" {
			return fmt.Sprintf("Write to file at %s", path)
		}
		return "Write to a file"
	case "fs_list":
		if path != "" {
			return fmt.Sprintf("List directory contents at %s", path)
		}
		return "List directory contents"
	case "terminal_create":
		if command, _ := args["command"].(string); command != "" {
			return fmt.Sprintf("Execute command: %s", command)
		}
		return "Create a terminal session"
	case "terminal_write":
		if data, _ := args["data"].(string); data != "" {
			return fmt.Sprintf("Write data to terminal: %s", stringutil.TruncateStringWithEllipsis(data, 50))
		}
		return "Write data to terminal"
	default:
		return fmt.Sprintf("Execute tool: %s", toolName)
	}
}

// ExtractLocations pulls file locations from known argument shapes.
func ExtractLocations(toolName string, arguments json.RawMessage) []Location {
	var args map[string]interface{}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil
	}
	loc := Location{Path: path}
	if lineVal, ok := args["line"]; ok {
		switch v := lineVal.(type) {
		case float64:
			line := int(v)
			loc.Line = &line
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				loc.Line = &n
			}
		}
	}
	return []Location{loc}
}

func shortPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) <= 2 {
		return path
	}
	return parts[len(parts)-1]
}

