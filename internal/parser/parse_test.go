package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 5 from §8: OpenAI JSON function-call extraction from mixed text.
func TestParseOpenAIJSONFromMixedText(t *testing.T) {
	text := `I'll search. {"function_name":"list_files","arguments":{"path":"/tmp"}} Done.`
	calls := Parse(StrategyOpenAI, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "list_files", calls[0].Name)

	var args struct {
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Arguments, &args))
	assert.Equal(t, "/tmp", args.Path)
}

func TestParseOpenAIToolCallsShape(t *testing.T) {
	text := `{"tool_calls":[{"id":"1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"nyc\"}"}}]}`
	calls := Parse(StrategyOpenAI, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"nyc"}`, string(calls[0].Arguments))
}

func TestParseDefaultJSONObject(t *testing.T) {
	text := `{"name":"search","args":{"query":"hello"}}`
	calls := Parse(StrategyDefault, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}

func TestParseDefaultXMLFunctionCall(t *testing.T) {
	text := `<function_call name="read_file">{"path":"/tmp/a.txt"}</function_call>`
	calls := Parse(StrategyDefault, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
}

func TestParseDefaultNaturalLanguage(t *testing.T) {
	text := `call search with {"query":"golang"}`
	calls := Parse(StrategyDefault, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}

func TestParseClaudeInvoke(t *testing.T) {
	text := `<function_calls>
<invoke name="get_weather">
<parameter name="city">nyc</parameter>
</invoke>
</function_calls>`
	calls := Parse(StrategyClaude, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)

	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(calls[0].Arguments, &args))
	assert.Equal(t, "nyc", args["city"])
}

// Scenario 4 from §8: Qwen3Coder extraction with schema-aware integer
// conversion (tested here single-shot; streaming_test.go covers chunking).
func TestParseQwen3CoderSchemaAware(t *testing.T) {
	text := `<tool_call><search><query>test query</query><limit>5</limit></search></tool_call>`
	schema, _ := json.Marshal(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer"},
			"query": map[string]interface{}{"type": "string"},
		},
	})
	schemas := NewSchemaSet([]ToolDefinition{{Name: "search", Parameters: schema}})

	calls := Parse(StrategyQwen3Coder, text, schemas)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)

	var args map[string]interface{}
	require.NoError(t, json.Unmarshal(calls[0].Arguments, &args))
	assert.Equal(t, "test query", args["query"])
	assert.Equal(t, float64(5), args["limit"])
}

func TestParseQwen3CoderMissingCloseTagBestEffort(t *testing.T) {
	text := `<tool_call><search><query>partial</query>`
	calls := Parse(StrategyQwen3Coder, text, nil)
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
}

func TestDedupeByID(t *testing.T) {
	a := ToolCall{ID: "x", Name: "a"}
	b := ToolCall{ID: "x", Name: "a-dup"}
	c := ToolCall{ID: "y", Name: "b"}
	out := dedupeByID([]ToolCall{a, b, c})
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0].ID)
	assert.Equal(t, "y", out[1].ID)
}

func TestInferValueOrder(t *testing.T) {
	assert.Equal(t, int64(5), InferValue("5"))
	assert.Equal(t, 5.5, InferValue("5.5"))
	assert.Equal(t, true, InferValue("true"))
	assert.Equal(t, false, InferValue("FALSE"))
	assert.Equal(t, []interface{}{"a", "b"}, InferValue(`["a","b"]`))
	assert.Equal(t, "hello", InferValue("hello"))
}
