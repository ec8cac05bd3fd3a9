package chattemplate

import (
	"errors"
	"testing"

	"github.com/kandev/agentrt/internal/parser"
	"github.com/kandev/agentrt/internal/sysprompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSessionFallsBackWhenNativeTemplateFails(t *testing.T) {
	r := &Renderer{
		Native: func(messages []Message, addGenerationPrompt bool) (string, error) {
			return "", errors.New("native template unavailable")
		},
		ModelID: "qwen2.5-7b",
		Config:  ModelConfig{FamilyHint: "qwen"},
	}
	out, err := r.RenderSession([]Message{{Role: RoleUser, Content: "hi"}}, nil, parser.StrategyDefault, true)
	require.NoError(t, err)
	assert.Contains(t, out, "<|im_start|>user")
	assert.Contains(t, out, "<|im_start|>assistant")
}

func TestRenderSessionPrefersNativeTemplate(t *testing.T) {
	r := &Renderer{
		Native: func(messages []Message, addGenerationPrompt bool) (string, error) {
			return "native-output", nil
		},
	}
	out, err := r.RenderSession([]Message{{Role: RoleUser, Content: "hi"}}, nil, parser.StrategyDefault, false)
	require.NoError(t, err)
	assert.Equal(t, "native-output", out)
}

func TestRenderSessionFromOffsetOnlyRendersTail(t *testing.T) {
	r := &Renderer{Config: ModelConfig{FamilyHint: "qwen"}}
	messages := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
		{Role: RoleUser, Content: "third"},
	}
	out, err := r.RenderSessionFromOffset(messages, nil, parser.StrategyDefault, 2, true)
	require.NoError(t, err)
	assert.NotContains(t, out, "first")
	assert.NotContains(t, out, "second")
	assert.Contains(t, out, "third")
}

func TestToolPreambleWrappedInSystemTags(t *testing.T) {
	r := &Renderer{Config: ModelConfig{FamilyHint: "qwen"}}
	tools := []ToolSchema{{Name: "fs_read", Description: "Read a file"}}
	out, err := r.RenderSession([]Message{{Role: RoleUser, Content: "hi"}}, tools, parser.StrategyQwen3Coder, false)
	require.NoError(t, err)
	assert.Contains(t, out, sysprompt.TagStart)
	assert.Contains(t, out, sysprompt.TagEnd)
	assert.Contains(t, out, "fs_read")
}

func TestToolMessageRewrittenWithCallID(t *testing.T) {
	r := &Renderer{Config: ModelConfig{FamilyHint: "qwen"}}
	messages := []Message{
		{Role: RoleUser, Content: "read it"},
		{Role: RoleTool, ToolCallID: "call_123", Content: "file contents"},
	}
	out, err := r.RenderSession(messages, nil, parser.StrategyDefault, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Tool result for call call_123: file contents")
}

func TestDetectFamilyDefaultsToQwen(t *testing.T) {
	assert.Equal(t, FamilyQwen, DetectFamily("", "", nil, "/home/user/project"))
}

func TestDetectFamilyFromCwd(t *testing.T) {
	assert.Equal(t, FamilyPhi3, DetectFamily("", "", nil, "/models/phi-3-mini"))
}
