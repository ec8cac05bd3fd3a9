package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArgumentsEmptyIsObject(t *testing.T) {
	args, err := decodeArguments(nil)
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestDecodeArgumentsRejectsMalformedJSON(t *testing.T) {
	_, err := decodeArguments(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestEnvSliceFormatsKeyEqualsValue(t *testing.T) {
	out := envSlice(map[string]string{"FOO": "bar"})
	require.Len(t, out, 1)
	assert.Equal(t, "FOO=bar", out[0])
}

func TestExecuteToolCallUnknownServerErrors(t *testing.T) {
	c := New(nil)
	_, err := c.ExecuteToolCall(context.Background(), "nope", "search", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no MCP server connected")
}

func TestSessionContextSetAndClear(t *testing.T) {
	c := New(nil)
	c.SetSessionContext("sess-1")
	assert.Equal(t, "sess-1", c.sessionID)
	c.ClearSessionContext()
	assert.Equal(t, "", c.sessionID)
}
