package session

import (
	"testing"

	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsStrategyFromModelID(t *testing.T) {
	s := New("/tmp/s", "qwen3-coder-480b")
	assert.Equal(t, parser.StrategyQwen3Coder, s.Strategy)
	assert.NotEmpty(t, s.ACPID())
}

func TestAppendMessageIsAppendOnly(t *testing.T) {
	s := New("/tmp/s", "gpt-4o")
	s.AppendMessage(chattemplate.Message{Role: chattemplate.RoleUser, Content: "hi"})
	s.AppendMessage(chattemplate.Message{Role: chattemplate.RoleAssistant, Content: "hello"})
	require.Len(t, s.MessageSnapshot(), 2)
}

func TestRegistryPutGetDelete(t *testing.T) {
	r := NewRegistry()
	s := New("/tmp/s", "default-model")
	r.Put(s)
	assert.Same(t, s, r.Get(s.ACPID()))
	r.Delete(s.ACPID())
	assert.Nil(t, r.Get(s.ACPID()))
}
