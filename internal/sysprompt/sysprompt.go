// Package sysprompt provides the system-injected-content tagging convention
// used by the chat-template renderer (C6) when it writes the tool-preamble
// into a session's rendered prompt.
//
// All system-injected content is wrapped in <agentrt-system> tags so a UI
// layer can strip it from a user-facing transcript.
package sysprompt

import "regexp"

const (
	// TagStart marks the beginning of system-injected content.
	TagStart = "<agentrt-system>"
	// TagEnd marks the end of system-injected content.
	TagEnd = "</agentrt-system>"
)

var systemTagRegex = regexp.MustCompile(`<agentrt-system>[\s\S]*?</agentrt-system>\s*`)

// StripSystemContent removes all <agentrt-system>...</agentrt-system> blocks
// from text, hiding system-injected content from a user-facing transcript.
func StripSystemContent(text string) string {
	return systemTagRegex.ReplaceAllString(text, "")
}

// Wrap wraps content in <agentrt-system> tags to mark it as system-injected.
func Wrap(content string) string {
	return TagStart + content + TagEnd
}
