package toolhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/kandev/agentrt/internal/pathguard"
	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/toolcalls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFS struct {
	files map[string]string
	dirs  map[string][]string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string]string{}, dirs: map[string][]string{}}
}

func (f *fakeFS) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", errNotFound(path)
	}
	return content, nil
}

func (f *fakeFS) WriteFile(_ context.Context, path, content string) error {
	f.files[path] = content
	return nil
}

func (f *fakeFS) ListDir(_ context.Context, path string) ([]string, error) {
	return f.dirs[path], nil
}

func (f *fakeFS) Exists(path string) bool {
	_, ok := f.files[path]
	return ok
}

func errNotFound(path string) error {
	return &notFoundErr{path}
}

type notFoundErr struct{ path string }

func (e *notFoundErr) Error() string { return "not found: " + e.path }

type fakeMCP struct{}

func (fakeMCP) ExecuteToolCall(_ context.Context, server, tool string, arguments json.RawMessage) (string, error) {
	return server + ":" + tool + " ok", nil
}

func newTestHandler(fs *fakeFS) *Handler {
	store := toolcalls.New(nil)
	policy := permission.New(permission.Config{AutoApprove: []string{"fs_read", "fs_write", "fs_list"}}, nil)
	guard := pathguard.New(pathguard.Policy{MaxPathLength: 4096})
	return &Handler{
		Store:  store,
		Policy: policy,
		Guard:  guard,
		MCP:    fakeMCP{},
		FS:     fs,
	}
}

// Scenario 1 (partial) from §8: auto-approved read succeeds with content.
func TestHandleToolRequestFSReadSuccess(t *testing.T) {
	fs := newFakeFS()
	fs.files["/tmp/s/a.txt"] = "x"
	h := newTestHandler(fs)

	args, _ := json.Marshal(map[string]string{"path": "/tmp/s/a.txt"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSRead: true}, "t2", "fs_read", args)

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, "x", result.Text)
}

// Scenario 2 from §8: session boundary enforcement.
func TestHandleToolRequestSessionBoundary(t *testing.T) {
	fs := newFakeFS()
	h := newTestHandler(fs)

	args, _ := json.Marshal(map[string]string{"path": "/tmp/other/b.txt"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSRead: true}, "t1", "fs_read", args)

	require.Equal(t, ResultError, result.Kind)
	assert.Contains(t, result.Message, "outside session boundary")

	audit := h.Store.Audit("sess-1")
	require.Len(t, audit, 1)
	assert.False(t, audit[0].Success)
}

// Scenario 3 from §8: relative path rejection.
func TestHandleToolRequestRelativePathRejected(t *testing.T) {
	fs := newFakeFS()
	h := newTestHandler(fs)

	args, _ := json.Marshal(map[string]string{"path": "relative/a.txt"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSRead: true}, "t1", "fs_read", args)

	require.Equal(t, ResultError, result.Kind)
	assert.Contains(t, result.Message, "absolute")
}

func TestHandleToolRequestRequiresConsentWhenNotAutoApproved(t *testing.T) {
	fs := newFakeFS()
	store := toolcalls.New(nil)
	policy := permission.New(permission.Config{RequirePermission: []string{"fs_write"}}, nil)
	guard := pathguard.New(pathguard.Policy{MaxPathLength: 4096})
	h := &Handler{Store: store, Policy: policy, Guard: guard, MCP: fakeMCP{}, FS: fs}

	args, _ := json.Marshal(map[string]string{"path": "/tmp/s/a.txt", "content": "x"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSWrite: true}, "t1", "fs_write", args)

	require.Equal(t, ResultPermissionRequired, result.Kind)
	assert.Contains(t, result.Description, "/tmp/s/a.txt")
	require.Len(t, result.Options, 4)
}

func TestHandleToolRequestRejectsNonObjectArguments(t *testing.T) {
	fs := newFakeFS()
	h := newTestHandler(fs)
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSRead: true}, "t1", "fs_read", json.RawMessage(`"not an object"`))
	require.Equal(t, ResultError, result.Kind)
}

func TestHandleToolRequestMissingCapabilityErrors(t *testing.T) {
	fs := newFakeFS()
	fs.files["/tmp/s/a.txt"] = "x"
	h := newTestHandler(fs)
	args, _ := json.Marshal(map[string]string{"path": "/tmp/s/a.txt"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{FSRead: false}, "t1", "fs_read", args)
	require.Equal(t, ResultError, result.Kind)
	assert.Contains(t, result.Message, "capability")
}

// fakeTerminal is a TerminalManager test double: Create records the command
// it was asked to run and hands back a new terminal id each time, mirroring
// the production collaborator's one-shot (no interactive stdin) contract.
type fakeTerminal struct {
	created []string
	cwd     map[string]string
	next    int
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{cwd: map[string]string{}}
}

func (f *fakeTerminal) Create(_ context.Context, _ string, command, _ string) (string, error) {
	f.created = append(f.created, command)
	f.next++
	return fmt.Sprintf("term-%d", f.next), nil
}

func (f *fakeTerminal) Write(_ context.Context, _, _ string) error {
	return fmt.Errorf("interactive terminal input is not supported; create a new terminal per command")
}

func (f *fakeTerminal) ChangeDir(_ context.Context, sessionID, path string) error {
	f.cwd[sessionID] = path
	return nil
}

func newTestHandlerWithTerminal(term *fakeTerminal) *Handler {
	store := toolcalls.New(nil)
	policy := permission.New(permission.Config{AutoApprove: []string{"terminal_create", "terminal_write"}}, nil)
	guard := pathguard.New(pathguard.Policy{MaxPathLength: 4096})
	return &Handler{Store: store, Policy: policy, Guard: guard, MCP: fakeMCP{}, Terminal: term}
}

func TestHandleToolRequestTerminalCreateRunsCommand(t *testing.T) {
	term := newFakeTerminal()
	h := newTestHandlerWithTerminal(term)

	args, _ := json.Marshal(map[string]string{"command": "ls -la"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{Terminal: true}, "t1", "terminal_create", args)

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, "term-1", result.Text)
	assert.Equal(t, []string{"ls -la"}, term.created)
}

// terminal_write's non-"cd" branch can't interactively write to a live
// terminal (the production TerminalManager always fails that), so it spawns
// a fresh terminal to run the data as a command instead.
func TestHandleToolRequestTerminalWriteSpawnsFreshTerminal(t *testing.T) {
	term := newFakeTerminal()
	h := newTestHandlerWithTerminal(term)

	args, _ := json.Marshal(map[string]string{"terminalId": "term-1", "data": "echo hi"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{Terminal: true}, "t1", "terminal_write", args)

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, "term-1", result.Text)
	assert.Equal(t, []string{"echo hi"}, term.created)
}

func TestHandleToolRequestTerminalWriteCdChangesDirWithoutSpawning(t *testing.T) {
	term := newFakeTerminal()
	h := newTestHandlerWithTerminal(term)

	args, _ := json.Marshal(map[string]string{"terminalId": "term-1", "data": "cd /tmp/other"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{Terminal: true}, "t1", "terminal_write", args)

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Empty(t, term.created)
	assert.Equal(t, "/tmp/other", term.cwd["sess-1"])
}

func TestHandleToolRequestDispatchesToMCP(t *testing.T) {
	fs := newFakeFS()
	store := toolcalls.New(nil)
	policy := permission.New(permission.Config{AutoApprove: []string{"myserver:search"}}, nil)
	guard := pathguard.New(pathguard.Policy{MaxPathLength: 4096})
	h := &Handler{Store: store, Policy: policy, Guard: guard, MCP: fakeMCP{}, FS: fs}

	args, _ := json.Marshal(map[string]string{"query": "hi"})
	result := h.HandleToolRequest(context.Background(), "sess-1", "/tmp/s", Capabilities{}, "t1", "myserver:search", args)

	require.Equal(t, ResultSuccess, result.Kind)
	assert.Equal(t, "myserver:search ok", result.Text)
}
