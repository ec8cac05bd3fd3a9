package parser

import (
	"encoding/json"
	"regexp"
)

// parseOpenAI tries, in order: {function_call:{name,arguments:{...}}}, the
// newer {tool_calls:[{id,type:"function",function:{name,arguments:"<escaped
// JSON>"}}]} shape (with an unescape retry), a loose name(args) shape, and
// falls through to Default.
func parseOpenAI(text string, schemas *SchemaSet) []ToolCall {
	if calls := parseOpenAIFunctionCall(text); len(calls) > 0 {
		return calls
	}
	if calls := parseOpenAIToolCalls(text); len(calls) > 0 {
		return calls
	}
	if calls := parseOpenAILooseCall(text); len(calls) > 0 {
		return calls
	}
	return ParseDefault(text, schemas)
}

type openAIFunctionCallEnvelope struct {
	FunctionCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function_call"`
}

func parseOpenAIFunctionCall(text string) []ToolCall {
	var calls []ToolCall
	for _, span := range findBalancedObjects(text) {
		var env openAIFunctionCallEnvelope
		if err := json.Unmarshal([]byte(span), &env); err != nil || env.FunctionCall.Name == "" {
			continue
		}
		args := env.FunctionCall.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{ID: freshID(), Name: env.FunctionCall.Name, Arguments: args})
	}
	return calls
}

type openAIToolCallsEnvelope struct {
	ToolCalls []struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"` // escaped JSON string
		} `json:"function"`
	} `json:"tool_calls"`
}

func parseOpenAIToolCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, span := range findBalancedObjects(text) {
		var env openAIToolCallsEnvelope
		if err := json.Unmarshal([]byte(span), &env); err != nil {
			continue
		}
		for _, tc := range env.ToolCalls {
			if tc.Type != "" && tc.Type != "function" {
				continue
			}
			if tc.Function.Name == "" {
				continue
			}
			args := decodeEscapedJSONArguments(tc.Function.Arguments)
			calls = append(calls, ToolCall{ID: freshID(), Name: tc.Function.Name, Arguments: args})
		}
	}
	return calls
}

func decodeEscapedJSONArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return json.RawMessage(raw)
	}
	// Retry after unescaping a double-encoded string.
	var unescaped string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &unescaped); err == nil {
		if json.Valid([]byte(unescaped)) {
			return json.RawMessage(unescaped)
		}
	}
	return json.RawMessage("{}")
}

var openAILooseCallPattern = regexp.MustCompile(`\b([a-zA-Z_][\w]*)\(([a-zA-Z_][\w]*\s*=\s*[^,()]+(?:,\s*[a-zA-Z_][\w]*\s*=\s*[^,()]+)*)\)`)

// parseOpenAILooseCall matches a loose name(args) shape constrained to
// expressions that look parameter-like (key=value pairs), to avoid
// misfiring on ordinary prose parentheticals.
func parseOpenAILooseCall(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range openAILooseCallPattern.FindAllStringSubmatch(text, -1) {
		calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: parenArgsToJSON(m[2])})
	}
	return calls
}
