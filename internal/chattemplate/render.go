// Package chattemplate implements the chat-template renderer (C6): full,
// incremental, and template-only rendering of a session into a model's
// expected prompt format, including the instructional tool-call preamble
// and model-family-specific fallback formatters.
package chattemplate

import (
	"fmt"
	"strings"

	"github.com/kandev/agentrt/internal/parser"
)

// NativeTemplateFunc renders messages using the model's own chat template
// (e.g. a Jinja2-compatible executor bound to the model's tokenizer
// config). It is an external collaborator; model weight loading and
// tokenization are out of the core's scope (§1). Returning an error falls
// back to the family-specific formatter.
type NativeTemplateFunc func(messages []Message, addGenerationPrompt bool) (string, error)

// Renderer renders sessions for one model, preferring its native template
// and falling back to family-specific formatters.
type Renderer struct {
	Native      NativeTemplateFunc
	ModelID     string
	Config      ModelConfig
	EnvOverride string
	ProcessArgs []string
	Cwd         string
}

// RenderSession is the full render entry point (§4.6).
func (r *Renderer) RenderSession(messages []Message, tools []ToolSchema, strategy parser.Strategy, addGenerationPrompt bool) (string, error) {
	return r.render(messages, tools, strategy, addGenerationPrompt)
}

// RenderSessionFromOffset renders only messages at index ≥ offset, for
// incremental prompting against a cached prefix.
func (r *Renderer) RenderSessionFromOffset(messages []Message, tools []ToolSchema, strategy parser.Strategy, offset int, addGenerationPrompt bool) (string, error) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(messages) {
		offset = len(messages)
	}
	return r.render(messages[offset:], tools, strategy, addGenerationPrompt)
}

// RenderTemplateOnly renders system messages plus serialized tool
// definitions only, for cache-key construction.
func (r *Renderer) RenderTemplateOnly(messages []Message, tools []ToolSchema, strategy parser.Strategy) (string, error) {
	var system []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		}
	}
	if len(system) == 0 && buildToolPreamble(tools, strategy) == "" {
		return "", nil
	}
	return r.render(system, tools, strategy, false)
}

func (r *Renderer) render(messages []Message, tools []ToolSchema, strategy parser.Strategy, addGenerationPrompt bool) (string, error) {
	materialized := materializeMessages(messages)
	if preamble := buildToolPreamble(tools, strategy); preamble != "" {
		materialized = append([]Message{{Role: RoleSystem, Content: preamble}}, materialized...)
	}

	if r.Native != nil {
		if out, err := r.Native(materialized, addGenerationPrompt); err == nil {
			return out, nil
		}
	}

	family := DetectFamily(r.Config.FamilyHint, r.EnvOverride, r.ProcessArgs, r.Cwd)
	switch family {
	case FamilyPhi3:
		return renderPhi3(materialized, addGenerationPrompt), nil
	case FamilyQwen:
		return renderChatML(materialized, addGenerationPrompt), nil
	default:
		return renderPlain(materialized, addGenerationPrompt), nil
	}
}

// renderPhi3 formats messages with Phi-3's
// <|system|>/<|user|>/<|assistant|>/<|end|> delimiters.
func renderPhi3(messages []Message, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "<|%s|>\n%s<|end|>\n", phi3Role(m.Role), m.Content)
	}
	if addGenerationPrompt {
		b.WriteString("<|assistant|>\n")
	}
	return b.String()
}

func phi3Role(r Role) string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleTool:
		return "user"
	default:
		return "user"
	}
}

// renderChatML formats messages with Qwen's ChatML delimiters:
// <|im_start|>role\n…<|im_end|>.
func renderChatML(messages []Message, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "<|im_start|>%s\n%s<|im_end|>\n", string(m.Role), m.Content)
	}
	if addGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String()
}

// renderPlain is the "### Role:" fallback used when the model family is
// unknown and no native template is available.
func renderPlain(messages []Message, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "### %s:\n%s\n\n", capitalize(string(m.Role)), m.Content)
	}
	if addGenerationPrompt {
		b.WriteString("### Assistant:\n")
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
