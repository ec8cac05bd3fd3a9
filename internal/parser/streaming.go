package parser

import (
	"strings"

	"github.com/kandev/agentrt/internal/common/constants"
)

// nativeStreamingStrategies are the strategies whose wire format exposes a
// closing delimiter (`</tool_call>`) the streaming scanner can detect
// mid-stream. All others use the buffered fallback.
var nativeStreamingStrategies = map[Strategy]bool{
	StrategyQwen3Coder: true,
}

// StreamingParser is a stateful parser (C5) that consumes arbitrary text
// deltas and yields completed tool calls as they close. ProcessDelta is not
// safe for concurrent or reentrant use on the same instance — callers own
// one instance per session (§9).
type StreamingParser struct {
	strategy Strategy
	schemas  *SchemaSet

	buffer      strings.Builder
	inToolCall  bool
	seenIDs     map[string]bool
	completed   []ToolCall
}

// NewStreamingParser constructs a StreamingParser for strategy, consulting
// schemas (which may be nil) for schema-aware parameter conversion.
func NewStreamingParser(strategy Strategy, schemas *SchemaSet) *StreamingParser {
	return &StreamingParser{
		strategy: strategy,
		schemas:  schemas,
		seenIDs:  make(map[string]bool),
	}
}

// ProcessDelta appends text to the parser's buffer and returns only the
// tool calls newly completed by this call (not the cumulative list).
func (p *StreamingParser) ProcessDelta(text string) []ToolCall {
	if nativeStreamingStrategies[p.strategy] {
		return p.processNativeDelta(text)
	}
	return p.processBufferedFallback(text)
}

func (p *StreamingParser) processNativeDelta(text string) []ToolCall {
	p.buffer.WriteString(text)
	var newlyCompleted []ToolCall

	for {
		current := p.buffer.String()
		start := strings.Index(current, "<tool_call>")
		if start < 0 {
			break
		}
		end := strings.Index(current[start:], "</tool_call>")
		if end < 0 {
			break
		}
		end += start + len("</tool_call>")
		span := current[start:end]

		calls := Parse(p.strategy, span, p.schemas)
		for _, c := range calls {
			if p.seenIDs[c.ID] {
				continue
			}
			p.seenIDs[c.ID] = true
			p.completed = append(p.completed, c)
			newlyCompleted = append(newlyCompleted, c)
		}

		remaining := current[:start] + current[end:]
		p.buffer.Reset()
		p.buffer.WriteString(remaining)
	}

	current := p.buffer.String()
	p.inToolCall = strings.Contains(current, "<tool_call>") && !strings.Contains(current, "</tool_call>")

	if p.buffer.Len() > constants.StreamingBufferCeiling && !p.inToolCall {
		tail := current
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		p.buffer.Reset()
		p.buffer.WriteString(tail)
	}

	return newlyCompleted
}

// processBufferedFallback wraps the non-streaming parser: appends to
// buffer, attempts a full parse on every delta, returns only calls not
// previously observed (by id), and clears the buffer when anything was
// returned.
func (p *StreamingParser) processBufferedFallback(text string) []ToolCall {
	p.buffer.WriteString(text)
	calls := Parse(p.strategy, p.buffer.String(), p.schemas)

	var newlyCompleted []ToolCall
	for _, c := range calls {
		if p.seenIDs[c.ID] {
			continue
		}
		p.seenIDs[c.ID] = true
		p.completed = append(p.completed, c)
		newlyCompleted = append(newlyCompleted, c)
	}
	if len(newlyCompleted) > 0 {
		p.buffer.Reset()
	}
	return newlyCompleted
}

// InToolCall reports whether the parser's current buffer contains an
// opening <tool_call> without a matching close.
func (p *StreamingParser) InToolCall() bool {
	return p.inToolCall
}

// Completed returns the full list of calls completed across this parser's
// lifetime.
func (p *StreamingParser) Completed() []ToolCall {
	return append([]ToolCall(nil), p.completed...)
}

// Reset clears the buffer, parsing flags, and completed log.
func (p *StreamingParser) Reset() {
	p.buffer.Reset()
	p.inToolCall = false
	p.seenIDs = make(map[string]bool)
	p.completed = nil
}
