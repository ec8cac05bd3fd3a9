package parser

// ParseDefault runs, in fixed order, the three Default sub-parsers and
// returns the first non-empty result: JSON-object, XML-function-call,
// natural-language-function-call.
func ParseDefault(text string, schemas *SchemaSet) []ToolCall {
	if calls := parseJSONCalls(text); len(calls) > 0 {
		return dedupeByID(calls)
	}
	if calls := parseXMLFunctionCalls(text); len(calls) > 0 {
		return dedupeByID(calls)
	}
	if calls := parseNaturalLanguageCalls(text); len(calls) > 0 {
		return dedupeByID(calls)
	}
	return nil
}

// Parse dispatches text to the sub-parser family selected by strategy,
// returning tool calls deduplicated by id in parse order (§4.4). schemas
// may be nil when no tool definitions are registered for the session.
func Parse(strategy Strategy, text string, schemas *SchemaSet) []ToolCall {
	switch strategy {
	case StrategyQwen3Coder:
		return dedupeByID(parseQwen3Coder(text, schemas))
	case StrategyOpenAI:
		return dedupeByID(parseOpenAI(text, schemas))
	case StrategyClaude:
		return dedupeByID(parseClaude(text, schemas))
	case StrategyDefault:
		return ParseDefault(text, schemas)
	default:
		return ParseDefault(text, schemas)
	}
}
