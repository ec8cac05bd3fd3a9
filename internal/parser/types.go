package parser

import (
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolCall is a fully parsed tool invocation. ID is a fresh ULID assigned at
// parse time (§3); it becomes the tool-call-id in any resulting Tool
// message and report.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

func freshID() string {
	return strings.ToLower(ulid.Make().String())
}

// ToolDefinition is an immutable, session-registered tool: its name,
// description, JSON-schema parameters, and originating MCP server name (if
// any).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	ServerName  string
}

// rawProperty is the subset of a JSON Schema property definition that
// schema-aware conversion consults.
type rawProperty struct {
	Type     interface{} `json:"type"` // string, or []interface{} for union types
	Nullable bool        `json:"nullable"`
	Default  interface{} `json:"default"`
	HasDefault bool       `json:"-"`
}

// SchemaSet compiles each ToolDefinition's Parameters once via
// santhosh-tekuri/jsonschema/v6 — validating the schema itself is
// well-formed and usable to validate converted arguments later (§4.7) —
// and additionally indexes per-parameter type/nullable/default metadata for
// the Qwen3Coder sub-parser's schema-aware conversion (§4.4).
type SchemaSet struct {
	compiled map[string]*jsonschema.Schema
	props    map[string]map[string]rawProperty
}

// NewSchemaSet compiles the parameter schemas of defs. A schema that fails
// to compile is left out of Validate, but as long as it is valid JSON its
// property metadata is still indexed for schema-aware conversion.
func NewSchemaSet(defs []ToolDefinition) *SchemaSet {
	set := &SchemaSet{
		compiled: make(map[string]*jsonschema.Schema, len(defs)),
		props:    make(map[string]map[string]rawProperty, len(defs)),
	}
	compiler := jsonschema.NewCompiler()
	for _, def := range defs {
		if len(def.Parameters) == 0 {
			continue
		}
		var doc interface{}
		if err := json.Unmarshal(def.Parameters, &doc); err != nil {
			continue
		}
		resourceName := "mem://" + def.Name + ".json"
		if err := compiler.AddResource(resourceName, doc); err == nil {
			if schema, err := compiler.Compile(resourceName); err == nil {
				set.compiled[def.Name] = schema
			}
		}

		var raw struct {
			Properties map[string]rawProperty `json:"properties"`
			Required   []string                `json:"required"`
		}
		if err := json.Unmarshal(def.Parameters, &raw); err != nil {
			continue
		}
		set.props[def.Name] = raw.Properties
	}
	return set
}

// Validate validates arguments for toolName against its compiled schema, if
// one was registered. A tool with no registered schema always validates.
func (s *SchemaSet) Validate(toolName string, arguments interface{}) error {
	if s == nil {
		return nil
	}
	schema, ok := s.compiled[toolName]
	if !ok {
		return nil
	}
	return schema.Validate(arguments)
}

// ParamType returns the declared JSON Schema type of toolName's parameter
// paramName, and whether it was found. Union types ("type": [...]) are not
// resolved to a single type, matching the "on unknown type, fall back to
// inference" rule of §4.4.
func (s *SchemaSet) ParamType(toolName, paramName string) (string, bool) {
	prop, ok := s.property(toolName, paramName)
	if !ok {
		return "", false
	}
	if t, ok := prop.Type.(string); ok {
		return t, true
	}
	return "", false
}

// ParamNullableDefault reports whether toolName's paramName is nullable and
// its default value, if any.
func (s *SchemaSet) ParamNullableDefault(toolName, paramName string) (nullable bool, def interface{}, hasDefault bool) {
	prop, ok := s.property(toolName, paramName)
	if !ok {
		return false, nil, false
	}
	if arr, ok := prop.Type.([]interface{}); ok {
		for _, t := range arr {
			if t == "null" {
				nullable = true
			}
		}
	}
	return nullable || prop.Nullable, prop.Default, prop.Default != nil
}

func (s *SchemaSet) property(toolName, paramName string) (rawProperty, bool) {
	if s == nil {
		return rawProperty{}, false
	}
	props, ok := s.props[toolName]
	if !ok {
		return rawProperty{}, false
	}
	prop, ok := props[paramName]
	return prop, ok
}

// dedupeByID returns calls in their original order with later duplicates
// (by id) removed, per §4.4's "deduplicated by id, returned in parse order."
func dedupeByID(calls []ToolCall) []ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
