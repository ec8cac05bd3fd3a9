package turn

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/pathguard"
	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/session"
	"github.com/kandev/agentrt/internal/toolcalls"
	"github.com/kandev/agentrt/internal/toolhandler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	responses [][]Chunk
	call      int
}

func (m *scriptedModel) Generate(_ context.Context, _ string, _ int) (<-chan Chunk, error) {
	idx := m.call
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.call++
	out := make(chan Chunk, len(m.responses[idx]))
	for _, c := range m.responses[idx] {
		out <- c
	}
	close(out)
	return out, nil
}

type recordingNotifier struct {
	chunks      []string
	permissions []toolhandler.Result
	grant       permission.OptionKind
}

func (n *recordingNotifier) NotifyAgentMessageChunk(_ context.Context, _ string, text string) {
	n.chunks = append(n.chunks, text)
}

func (n *recordingNotifier) RequestPermission(_ context.Context, _ string, toolCallID, toolName, description string, arguments json.RawMessage, options []permission.Option) (permission.OptionKind, error) {
	n.permissions = append(n.permissions, toolhandler.Result{ToolCallID: toolCallID, ToolName: toolName, Description: description, Arguments: arguments, Options: options})
	return n.grant, nil
}

type fakeFS struct{ files map[string]string }

func (f *fakeFS) ReadFile(_ context.Context, path string) (string, error) { return f.files[path], nil }
func (f *fakeFS) WriteFile(_ context.Context, path, content string) error {
	f.files[path] = content
	return nil
}
func (f *fakeFS) ListDir(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (f *fakeFS) Exists(path string) bool                               { _, ok := f.files[path]; return ok }

func newTestController(tools *toolhandler.Handler, model ModelStream, notifier Notifier) *Controller {
	c := New(Config{ContextSize: 4096, MaxTokensPerTurn: 1024, MinTokenFloor: 64, MaxTurnRequests: 5})
	c.Store = tools.Store
	c.Tools = tools
	c.Model = model
	c.Notifier = notifier
	return c
}

func plainRenderer() *chattemplate.Renderer {
	return &chattemplate.Renderer{ModelID: "test-model"}
}

// A turn with no tool calls ends after one generation with StopEndTurn.
func TestRunTurnEndsWithoutToolCalls(t *testing.T) {
	model := &scriptedModel{responses: [][]Chunk{
		{{Text: "hello there", TokenCount: 2, FinishReason: "stop"}},
	}}
	notifier := &recordingNotifier{}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{AutoApprove: []string{"fs_read"}}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{files: map[string]string{}},
	}
	c := newTestController(tools, model, notifier)
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, result.StopReason)
	assert.Equal(t, 2, result.TokensGenerated)
	assert.Equal(t, []string{"hello there"}, notifier.chunks)
}

// A finish reason carrying length/maximum-tokens language stops the turn
// immediately, even with no parsed tool calls.
func TestRunTurnStopsOnMaxTokens(t *testing.T) {
	model := &scriptedModel{responses: [][]Chunk{
		{{Text: "partial output", TokenCount: 5, FinishReason: "length"}},
	}}
	notifier := &recordingNotifier{}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{},
	}
	c := newTestController(tools, model, notifier)
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, StopMaxTokens, result.StopReason)
}

// A tool call auto-approved by policy dispatches successfully, a Tool
// message is appended, and generation continues until the next response
// carries no further tool calls.
func TestRunTurnDispatchesAutoApprovedToolCall(t *testing.T) {
	toolCallJSON := `<tool_call>{"name": "fs_read", "arguments": {"path": "/tmp/s/a.txt"}}</tool_call>`
	model := &scriptedModel{responses: [][]Chunk{
		{{Text: toolCallJSON, TokenCount: 8, FinishReason: "tool_calls"}},
		{{Text: "done", TokenCount: 1, FinishReason: "stop"}},
	}}
	notifier := &recordingNotifier{}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{AutoApprove: []string{"fs_read"}}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{files: map[string]string{"/tmp/s/a.txt": "file contents"}},
	}
	c := newTestController(tools, model, notifier)
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{FSRead: true}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, result.StopReason)
	assert.Equal(t, 1, result.ToolCallsExecuted)

	var toolMsg *chattemplate.Message
	for i := range sess.Messages {
		if sess.Messages[i].Role == chattemplate.RoleTool {
			toolMsg = &sess.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "file contents", toolMsg.Content)
}

// A tool call requiring consent round-trips through Notifier.RequestPermission;
// an allow-once grant lets it force-dispatch and succeed.
func TestRunTurnGrantsPermissionThenDispatches(t *testing.T) {
	toolCallJSON := `<tool_call>{"name": "fs_write", "arguments": {"path": "/tmp/s/a.txt", "content": "hi"}}</tool_call>`
	model := &scriptedModel{responses: [][]Chunk{
		{{Text: toolCallJSON, TokenCount: 8, FinishReason: "tool_calls"}},
		{{Text: "done", TokenCount: 1, FinishReason: "stop"}},
	}}
	notifier := &recordingNotifier{grant: permission.AllowOnce}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{RequirePermission: []string{"fs_write"}}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{files: map[string]string{}},
	}
	c := newTestController(tools, model, notifier)
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{FSWrite: true}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ToolCallsExecuted)
	require.Len(t, notifier.permissions, 1)
	assert.Equal(t, "fs_write", notifier.permissions[0].ToolName)
}

// A reject decision fails the tool call without dispatching it.
func TestRunTurnRejectsPermissionDenial(t *testing.T) {
	toolCallJSON := `<tool_call>{"name": "fs_write", "arguments": {"path": "/tmp/s/a.txt", "content": "hi"}}</tool_call>`
	model := &scriptedModel{responses: [][]Chunk{
		{{Text: toolCallJSON, TokenCount: 8, FinishReason: "tool_calls"}},
		{{Text: "done", TokenCount: 1, FinishReason: "stop"}},
	}}
	notifier := &recordingNotifier{grant: permission.RejectOnce}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{RequirePermission: []string{"fs_write"}}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{files: map[string]string{}},
	}
	c := newTestController(tools, model, notifier)
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{FSWrite: true}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ToolCallsExecuted)
	_, ok := tools.FS.(*fakeFS)
	require.True(t, ok)
	assert.Empty(t, tools.FS.(*fakeFS).files["/tmp/s/a.txt"])
}

// Exceeding MaxTurnRequests stops the outer loop deterministically, even
// when the model keeps emitting tool calls.
func TestRunTurnStopsAtMaxTurnRequests(t *testing.T) {
	toolCallJSON := `<tool_call>{"name": "fs_read", "arguments": {"path": "/tmp/s/a.txt"}}</tool_call>`
	responses := make([][]Chunk, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, []Chunk{{Text: toolCallJSON, TokenCount: 1, FinishReason: "tool_calls"}})
	}
	model := &scriptedModel{responses: responses}
	notifier := &recordingNotifier{}
	tools := &toolhandler.Handler{
		Store:  toolcalls.New(nil),
		Policy: permission.New(permission.Config{AutoApprove: []string{"fs_read"}}, nil),
		Guard:  pathguard.New(pathguard.Policy{MaxPathLength: 4096}),
		FS:     &fakeFS{files: map[string]string{"/tmp/s/a.txt": "x"}},
	}
	c := newTestController(tools, model, notifier)
	c.Config.MaxTurnRequests = 3
	sess := session.New("/tmp/s", "test-model")

	result, err := c.RunTurn(context.Background(), sess, toolhandler.Capabilities{FSRead: true}, plainRenderer(), nil)

	require.NoError(t, err)
	assert.Equal(t, StopMaxTurnRequests, result.StopReason)
	assert.Equal(t, 3, sess.GenerationCount)
}
