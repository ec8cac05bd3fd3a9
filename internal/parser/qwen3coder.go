package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseQwen3Coder recognizes the nested
// <tool_call><toolname><param>value</param>…</toolname></tool_call> format,
// running the three robust-recovery strategies of §4.4 in order and
// returning the first non-empty result.
func parseQwen3Coder(text string, schemas *SchemaSet) []ToolCall {
	if calls := qwenStandardRegex(text, schemas); len(calls) > 0 {
		return calls
	}
	if calls := qwenBalancedScan(text, schemas); len(calls) > 0 {
		return calls
	}
	return qwenFuzzyMatch(text, schemas)
}

var qwenToolCallBlock = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
var qwenInnerTag = regexp.MustCompile(`(?s)^\s*<([a-zA-Z_][\w.:-]*)>(.*)</([a-zA-Z_][\w.:-]*)>\s*$`)

// qwenStandardRegex is strategy 1: a standard regex over well-formed
// <tool_call>…</tool_call> blocks.
func qwenStandardRegex(text string, schemas *SchemaSet) []ToolCall {
	var calls []ToolCall
	for _, block := range qwenToolCallBlock.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(block[1])
		m := qwenInnerTag.FindStringSubmatch(inner)
		if m == nil || m[1] != m[3] {
			continue
		}
		name := m[1]
		params := parseQwenParams(m[2], name, schemas)
		calls = append(calls, ToolCall{ID: freshID(), Name: name, Arguments: paramsToJSON(params)})
	}
	return calls
}

var qwenParamPattern = regexp.MustCompile(`(?s)<([a-zA-Z_][\w.:-]*)>(.*?)</([a-zA-Z_][\w.:-]*)>`)

func parseQwenParams(body, toolName string, schemas *SchemaSet) map[string]interface{} {
	params := map[string]interface{}{}
	for _, m := range qwenParamPattern.FindAllStringSubmatch(body, -1) {
		if m[1] != m[3] {
			continue
		}
		paramName := m[1]
		raw := strings.TrimSpace(unescapeXML(m[2]))
		value, err := ConvertParam(schemas, toolName, paramName, raw)
		if err != nil {
			value = raw
		}
		params[paramName] = value
	}
	return params
}

func paramsToJSON(params map[string]interface{}) json.RawMessage {
	out, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return out
}

var qwenOpenTag = regexp.MustCompile(`<tool_call>\s*<([a-zA-Z_][\w.:-]*)>`)

// qwenBalancedScan is strategy 2: locate <tool_call> and find its matching
// close by depth-counting identically named tags. If no matching close is
// found before EOF, parse whatever opening tag is present and extract any
// recognizable parameter tags even if incomplete.
func qwenBalancedScan(text string, schemas *SchemaSet) []ToolCall {
	var calls []ToolCall
	idx := 0
	for {
		start := strings.Index(text[idx:], "<tool_call>")
		if start < 0 {
			break
		}
		start += idx
		contentStart := start + len("<tool_call>")

		end := strings.Index(text[contentStart:], "</tool_call>")
		var body string
		if end >= 0 {
			body = text[contentStart : contentStart+end]
			idx = contentStart + end + len("</tool_call>")
		} else {
			body = text[contentStart:]
			idx = len(text)
		}

		openMatch := qwenOpenTag.FindStringSubmatch(text[start:])
		var name string
		if openMatch != nil {
			name = openMatch[1]
			innerBody := body
			if closeTag := "</" + name + ">"; strings.Contains(innerBody, closeTag) {
				toolOpenIdx := strings.Index(innerBody, "<"+name+">")
				if toolOpenIdx >= 0 {
					innerBody = innerBody[toolOpenIdx+len(name)+2:]
					innerBody = strings.Replace(innerBody, closeTag, "", 1)
				}
			} else if toolOpenIdx := strings.Index(innerBody, "<"+name+">"); toolOpenIdx >= 0 {
				innerBody = innerBody[toolOpenIdx+len(name)+2:]
			}
			params := parseQwenParams(innerBody, name, schemas)
			if len(params) > 0 || end >= 0 {
				calls = append(calls, ToolCall{ID: freshID(), Name: name, Arguments: paramsToJSON(params)})
			}
		}

		if idx >= len(text) {
			break
		}
	}
	return calls
}

var qwenFuzzyPattern = regexp.MustCompile(`(?is)tool_call[^>]*>.*?<([a-zA-Z_][\w.:-]*)>`)

// qwenFuzzyMatch is strategy 3: a loose regex tolerant of missing or
// mismatched closing tags.
func qwenFuzzyMatch(text string, schemas *SchemaSet) []ToolCall {
	var calls []ToolCall
	for _, loc := range qwenFuzzyPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		tail := text[loc[1]:]
		if nextEnd := strings.Index(tail, "</tool_call>"); nextEnd >= 0 {
			tail = tail[:nextEnd]
		} else if len(tail) > 2048 {
			tail = tail[:2048]
		}
		params := parseQwenParams(tail, name, schemas)
		calls = append(calls, ToolCall{ID: freshID(), Name: name, Arguments: paramsToJSON(params)})
	}
	return calls
}
