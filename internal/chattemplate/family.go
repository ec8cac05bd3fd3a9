package chattemplate

import "strings"

// Family is a model family detected for fallback-formatter selection.
type Family string

const (
	FamilyPhi3    Family = "phi3"
	FamilyQwen    Family = "qwen"
	FamilyUnknown Family = "unknown"
)

func familyFromToken(token string) Family {
	lower := strings.ToLower(token)
	switch {
	case strings.Contains(lower, "phi-3") || strings.Contains(lower, "phi3"):
		return FamilyPhi3
	case strings.Contains(lower, "qwen"):
		return FamilyQwen
	default:
		return FamilyUnknown
	}
}

// DetectFamily consults, in order, an explicit model-config hint, an
// environment override, process arguments, and CWD path tokens; it defaults
// to Qwen when every source is ambiguous (§4.6).
func DetectFamily(configHint, envOverride string, processArgs []string, cwd string) Family {
	if f := familyFromToken(configHint); f != FamilyUnknown {
		return f
	}
	if f := familyFromToken(envOverride); f != FamilyUnknown {
		return f
	}
	for _, arg := range processArgs {
		if f := familyFromToken(arg); f != FamilyUnknown {
			return f
		}
	}
	for _, part := range strings.Split(cwd, "/") {
		if f := familyFromToken(part); f != FamilyUnknown {
			return f
		}
	}
	return FamilyQwen
}
