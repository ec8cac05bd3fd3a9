package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ConversionError reports a schema-aware or inferred parameter conversion
// failure, carrying the offending raw value.
type ConversionError struct {
	Param string
	Value string
	Type  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert parameter %q value %q to type %q", e.Param, e.Value, e.Type)
}

// InferValue applies the basic inference order of §4.4/§9: integer → float
// → boolean → JSON object/array → string. This order is part of the
// contract, not an implementation detail.
func InferValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	if b, ok := parseBool(trimmed); ok {
		return b
	}
	if looksDelimited(trimmed) {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func looksDelimited(s string) bool {
	if s == "" {
		return false
	}
	first := s[0]
	return first == '{' || first == '['
}

// ConvertParam converts a raw string parameter value for toolName/paramName
// using the schema-aware rules of §4.4 when schemas declares a type for it,
// falling back to InferValue otherwise.
func ConvertParam(schemas *SchemaSet, toolName, paramName, raw string) (interface{}, error) {
	declaredType, found := schemas.ParamType(toolName, paramName)
	if !found {
		return InferValue(raw), nil
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		nullable, def, hasDefault := schemas.ParamNullableDefault(toolName, paramName)
		if hasDefault {
			return def, nil
		}
		if nullable {
			return nil, nil
		}
	}

	switch declaredType {
	case "string":
		return raw, nil
	case "integer":
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, &ConversionError{Param: paramName, Value: raw, Type: declaredType}
		}
		return n, nil
	case "number":
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, &ConversionError{Param: paramName, Value: raw, Type: declaredType}
		}
		return f, nil
	case "boolean":
		b, ok := parseBool(trimmed)
		if !ok {
			return nil, &ConversionError{Param: paramName, Value: raw, Type: declaredType}
		}
		return b, nil
	case "object", "array":
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, &ConversionError{Param: paramName, Value: raw, Type: declaredType}
		}
		return v, nil
	case "null":
		return nil, nil
	default:
		return InferValue(raw), nil
	}
}
