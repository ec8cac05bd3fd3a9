package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

var xmlFunctionCallPattern = regexp.MustCompile(`(?s)<(?:function_call|tool_call)\s+name="([^"]+)"[^>]*>(.*?)</(?:function_call|tool_call)>`)

// parseXMLFunctionCalls matches <function_call name="…">…</function_call>
// (or <tool_call …>), parsing inner content as JSON when possible, else as
// a plain string under an "input" key.
func parseXMLFunctionCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range xmlFunctionCallPattern.FindAllStringSubmatch(text, -1) {
		name := unescapeXML(m[1])
		body := strings.TrimSpace(unescapeXML(m[2]))
		calls = append(calls, ToolCall{ID: freshID(), Name: name, Arguments: bodyToArguments(body)})
	}
	return calls
}

func bodyToArguments(body string) json.RawMessage {
	if body == "" {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(map[string]string{"input": body})
	if err != nil {
		return json.RawMessage("{}")
	}
	return wrapped
}

var xmlEntityReplacer = strings.NewReplacer(
	"&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", `"`, "&apos;", "'",
)

func unescapeXML(s string) string {
	return xmlEntityReplacer.Replace(s)
}

var (
	callWithPattern = regexp.MustCompile(`(?i)call\s+([a-zA-Z_][\w.:-]*)\s+with\s+(?:arguments\s+)?(.+)`)
	nameArgsPattern = regexp.MustCompile(`(?s)^([a-zA-Z_][\w.:-]*)\((.*)\)\s*$`)
)

// parseNaturalLanguageCalls matches "call <name> with [arguments] <json-or-
// text>" and "name(args)".
func parseNaturalLanguageCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := callWithPattern.FindStringSubmatch(line); m != nil {
			calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: bodyToArguments(strings.TrimSpace(m[2]))})
			continue
		}
		if m := nameArgsPattern.FindStringSubmatch(line); m != nil {
			calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: parenArgsToJSON(m[2])})
		}
	}
	return calls
}

// parenArgsToJSON converts a "key=val, key2=val2" or bare-JSON parenthesized
// argument body into a JSON object.
func parenArgsToJSON(body string) json.RawMessage {
	body = strings.TrimSpace(body)
	if body == "" {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return json.RawMessage(body)
	}
	args := map[string]interface{}{}
	for _, pair := range strings.Split(body, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		args[key] = InferValue(strings.TrimSpace(kv[1]))
	}
	out, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("{}")
	}
	return out
}
