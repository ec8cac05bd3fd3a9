package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseClaude tries, in order: <function_calls>…<invoke name="…">…</invoke>
// …</function_calls>, bare <invoke name="…">…</invoke>, <tool name="…">…
// </tool>, and a <thinking>…</thinking>…<tag>…</tag> composite. Falls
// through to Default.
func parseClaude(text string, schemas *SchemaSet) []ToolCall {
	var calls []ToolCall
	calls = append(calls, parseInvokeBlocks(text)...)
	if len(calls) > 0 {
		return dedupeByID(calls)
	}
	calls = append(calls, parseToolBlocks(text)...)
	if len(calls) > 0 {
		return dedupeByID(calls)
	}
	if calls = parseThinkingComposite(text); len(calls) > 0 {
		return dedupeByID(calls)
	}
	return ParseDefault(text, schemas)
}

var invokePattern = regexp.MustCompile(`(?s)<invoke\s+name="([^"]+)">(.*?)</invoke>`)
var parameterPattern = regexp.MustCompile(`(?s)<parameter\s+name="([^"]+)">(.*?)</parameter>`)

func parseInvokeBlocks(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range invokePattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		body := strings.TrimSpace(m[2])
		calls = append(calls, ToolCall{ID: freshID(), Name: name, Arguments: parseClaudeParamBody(body)})
	}
	return calls
}

var toolBlockPattern = regexp.MustCompile(`(?s)<tool\s+name="([^"]+)">(.*?)</tool>`)

func parseToolBlocks(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range toolBlockPattern.FindAllStringSubmatch(text, -1) {
		calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: parseClaudeParamBody(strings.TrimSpace(m[2]))})
	}
	return calls
}

var thinkingCompositePattern = regexp.MustCompile(`(?s)<thinking>.*?</thinking>\s*<([a-zA-Z_][\w.:-]*)>(.*?)</([a-zA-Z_][\w.:-]*)>`)

func parseThinkingComposite(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range thinkingCompositePattern.FindAllStringSubmatch(text, -1) {
		if m[1] != m[3] {
			continue
		}
		calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: parseClaudeParamBody(strings.TrimSpace(m[2]))})
	}
	return calls
}

// parseClaudeParamBody parses a parameter body as JSON, as
// <parameter name="…">…</parameter> pairs, or as key=value pairs; failing
// those, the whole body becomes {"input": <body>}.
func parseClaudeParamBody(body string) json.RawMessage {
	if body == "" {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return json.RawMessage(body)
	}

	if pairs := parameterPattern.FindAllStringSubmatch(body, -1); len(pairs) > 0 {
		params := map[string]interface{}{}
		for _, p := range pairs {
			params[p[1]] = InferValue(strings.TrimSpace(unescapeXML(p[2])))
		}
		return paramsToJSON(params)
	}

	if strings.Contains(body, "=") && !strings.ContainsAny(body, "<>") {
		params := map[string]interface{}{}
		any := false
		for _, line := range strings.Split(body, "\n") {
			kv := strings.SplitN(line, "=", 2)
			if len(kv) != 2 {
				continue
			}
			any = true
			params[strings.TrimSpace(kv[0])] = InferValue(strings.TrimSpace(kv[1]))
		}
		if any {
			return paramsToJSON(params)
		}
	}

	wrapped, err := json.Marshal(map[string]string{"input": body})
	if err != nil {
		return json.RawMessage("{}")
	}
	return wrapped
}
