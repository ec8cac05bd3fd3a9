package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

const jsonScanCeiling = 64 * 1024

// parseJSONCalls scans text for balanced {...} objects using a brace
// counter that respects string state and escape sequences, accepting the
// four shapes {function_name,arguments}, {tool,parameters}, {name,args},
// {name,arguments}.
func parseJSONCalls(text string) []ToolCall {
	var calls []ToolCall
	for _, span := range findBalancedObjects(text) {
		if call, ok := decodeJSONCallShape(span); ok {
			calls = append(calls, call)
		}
	}
	if len(calls) > 0 {
		return calls
	}
	if calls = parseJSONCallsLineByLine(text); len(calls) > 0 {
		return calls
	}
	return parseJSONCallsAnchored(text)
}

// findBalancedObjects returns every top-level {...} span in text, tracking
// string/escape state so braces inside string literals don't confuse depth.
func findBalancedObjects(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		if start >= 0 && i-start > jsonScanCeiling {
			// Runaway unbalanced object; abandon this span.
			start = -1
			depth = 0
			inString = false
			escaped = false
			continue
		}
		c := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

func decodeJSONCallShape(span string) (ToolCall, bool) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &generic); err != nil {
		return ToolCall{}, false
	}

	type shape struct {
		nameKey string
		argsKey string
	}
	for _, s := range []shape{
		{"function_name", "arguments"},
		{"tool", "parameters"},
		{"name", "args"},
		{"name", "arguments"},
	} {
		nameRaw, hasName := generic[s.nameKey]
		if !hasName {
			continue
		}
		var name string
		if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
			continue
		}
		args := generic[s.argsKey]
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		return ToolCall{ID: freshID(), Name: name, Arguments: args}, true
	}
	return ToolCall{}, false
}

var jsonLinePattern = regexp.MustCompile(`\{[^{}]*\}`)

// parseJSONCallsLineByLine retries decoding single-line JSON objects when
// the brace-counting scan found nothing (e.g. text interleaved with
// non-JSON punctuation that desynchronized the scanner).
func parseJSONCallsLineByLine(text string) []ToolCall {
	var calls []ToolCall
	for _, line := range strings.Split(text, "\n") {
		for _, match := range jsonLinePattern.FindAllString(line, -1) {
			if call, ok := decodeJSONCallShape(match); ok {
				calls = append(calls, call)
			}
		}
	}
	return calls
}

var jsonAnchorPattern = regexp.MustCompile(`(?s)"(?:function_name|tool|name)"\s*:\s*"([^"]+)".*?"(?:arguments|parameters|args)"\s*:\s*(\{.*?\})`)

// parseJSONCallsAnchored is the last-resort pattern-anchored fallback.
func parseJSONCallsAnchored(text string) []ToolCall {
	var calls []ToolCall
	for _, m := range jsonAnchorPattern.FindAllStringSubmatch(text, -1) {
		var v interface{}
		if json.Unmarshal([]byte(m[2]), &v) != nil {
			continue
		}
		calls = append(calls, ToolCall{ID: freshID(), Name: m[1], Arguments: json.RawMessage(m[2])})
	}
	return calls
}
