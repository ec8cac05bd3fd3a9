package acpserver

import (
	"encoding/json"

	"github.com/kandev/agentrt/internal/parser"
	"github.com/kandev/agentrt/internal/toolhandler"
)

var (
	fsReadSchema = rawSchema(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	fsWriteSchema = rawSchema(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`)
	terminalCreateSchema = rawSchema(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)
	terminalWriteSchema = rawSchema(`{"type":"object","properties":{"terminalId":{"type":"string"},"data":{"type":"string"}},"required":["terminalId","data"]}`)
)

func rawSchema(s string) json.RawMessage {
	return json.RawMessage(s)
}

// builtinToolDefinitions registers the fs_*/terminal_* builtin tools the
// turn controller advertises to the model, restricted to what the
// negotiated client capabilities actually allow (§4.9/§6).
func builtinToolDefinitions(caps toolhandler.Capabilities) []parser.ToolDefinition {
	var defs []parser.ToolDefinition
	if caps.FSRead {
		defs = append(defs,
			parser.ToolDefinition{Name: "fs_read", Description: "Read the contents of a text file.", Parameters: fsReadSchema},
			parser.ToolDefinition{Name: "fs_list", Description: "List the entries of a directory.", Parameters: fsReadSchema},
		)
	}
	if caps.FSWrite {
		defs = append(defs, parser.ToolDefinition{Name: "fs_write", Description: "Write content to a text file.", Parameters: fsWriteSchema})
	}
	if caps.Terminal {
		defs = append(defs,
			parser.ToolDefinition{Name: "terminal_create", Description: "Run a command in a new terminal.", Parameters: terminalCreateSchema},
			parser.ToolDefinition{Name: "terminal_write", Description: "Write data to a terminal, or cd to change its working directory.", Parameters: terminalWriteSchema},
		)
	}
	return defs
}
