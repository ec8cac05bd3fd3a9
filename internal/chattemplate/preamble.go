package chattemplate

import (
	"fmt"
	"strings"

	"github.com/kandev/agentrt/internal/parser"
	"github.com/kandev/agentrt/internal/sysprompt"
)

// buildToolPreamble formats tool definitions as an instructional system
// preamble listing each tool's name/description/schema and prescribing the
// tool-call output format expected by strategy's parser (§4.6 step 2),
// wrapped in the sysprompt tagging convention.
func buildToolPreamble(tools []ToolSchema, strategy parser.Strategy) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		if tool.Parameters != "" {
			fmt.Fprintf(&b, "  parameters: %s\n", tool.Parameters)
		}
	}
	b.WriteString("\n")
	b.WriteString(outputFormatInstructions(strategy))

	return sysprompt.Wrap(b.String())
}

func outputFormatInstructions(strategy parser.Strategy) string {
	switch strategy {
	case parser.StrategyQwen3Coder:
		return "To call a tool, respond with:\n" +
			"<tool_call><tool_name><param_name>value</param_name></tool_name></tool_call>\n"
	case parser.StrategyOpenAI:
		return "To call a tool, respond with a JSON object: " +
			`{"function_call":{"name":"<tool_name>","arguments":{...}}}` + "\n"
	case parser.StrategyClaude:
		return "To call a tool, respond with:\n" +
			`<function_calls><invoke name="<tool_name>"><parameter name="<param>">value</parameter></invoke></function_calls>` + "\n"
	default:
		return "To call a tool, respond with a JSON object: " +
			`{"name":"<tool_name>","args":{...}}` + "\n"
	}
}
