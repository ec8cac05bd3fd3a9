// Package permission implements the permission policy engine (C3): risk
// classification, the four-option consent set, and auto-approve/
// require-permission short-circuits.
package permission

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Risk is the classified sensitivity of a tool invocation.
type Risk string

const (
	RiskSafe     Risk = "safe"
	RiskModerate Risk = "moderate"
	RiskHigh     Risk = "high"
)

// Decision is the outcome of evaluating a tool call against policy.
type Decision string

const (
	DecisionAllowed            Decision = "allowed"
	DecisionDenied             Decision = "denied"
	DecisionRequireUserConsent Decision = "require_user_consent"
)

// OptionKind is the four-way consent option set offered to a client.
type OptionKind string

const (
	AllowOnce    OptionKind = "allow_once"
	AllowAlways  OptionKind = "allow_always"
	RejectOnce   OptionKind = "reject_once"
	RejectAlways OptionKind = "reject_always"
)

// Option is one selectable consent choice.
type Option struct {
	OptionID string     `json:"optionId"`
	Name     string     `json:"name"`
	Kind     OptionKind `json:"kind"`
}

// Evaluation is the result of Evaluate.
type Evaluation struct {
	Decision Decision
	Reason   string   // set when Decision == DenIED
	Options  []Option // set when Decision == RequireUserConsent
}

// DecisionStore persists "always" decisions, keyed by (tool, signature).
// Its production implementation is an external storage collaborator; the
// core treats it as opaque per §4.3.
type DecisionStore interface {
	LoadDecision(tool, signature string) (OptionKind, bool)
	SaveDecision(tool, signature string, decision OptionKind)
}

// Config holds the auto-approve and require-permission tool-name lists.
type Config struct {
	AutoApprove       []string
	RequirePermission []string
}

// Engine evaluates tool calls against the configured policy.
type Engine struct {
	autoApprove       map[string]bool
	requirePermission map[string]bool
	store             DecisionStore
}

// New constructs an Engine. store may be nil (no "always" persistence).
func New(cfg Config, store DecisionStore) *Engine {
	e := &Engine{
		autoApprove:       toSet(cfg.AutoApprove),
		requirePermission: toSet(cfg.RequirePermission),
		store:             store,
	}
	return e
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// Evaluate classifies risk, consults the auto-approve short-circuit and any
// persisted "always" decision, and otherwise returns RequireUserConsent with
// the standard four-option set. The require-permission list is not
// consulted: a tool outside auto-approve with no saved decision already
// requires consent.
func (e *Engine) Evaluate(toolName string, arguments json.RawMessage) Evaluation {
	if e.autoApprove[toolName] {
		return Evaluation{Decision: DecisionAllowed}
	}

	if e.store != nil {
		signature := signatureOf(arguments)
		if decision, ok := e.store.LoadDecision(toolName, signature); ok {
			switch decision {
			case AllowAlways:
				return Evaluation{Decision: DecisionAllowed}
			case RejectAlways:
				return Evaluation{Decision: DecisionDenied, Reason: "denied by a previously saved \"reject always\" decision"}
			}
		}
	}

	risk := ClassifyRisk(toolName, arguments)
	return Evaluation{
		Decision: DecisionRequireUserConsent,
		Options:  optionsFor(risk),
	}
}

// ClassifyRisk is the deterministic risk classifier of §4.3.
func ClassifyRisk(toolName string, arguments json.RawMessage) Risk {
	switch toolName {
	case "fs_read", "fs_list":
		return RiskSafe
	case "fs_write":
		return classifyWriteRisk(arguments)
	case "terminal_create", "terminal_write":
		return RiskHigh
	default:
		return RiskModerate
	}
}

var sensitivePrefixes = []string{"/etc", "/usr", "/bin", "/sys", "/proc", "/dev"}

func classifyWriteRisk(arguments json.RawMessage) Risk {
	var args struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(arguments, &args)

	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(args.Path, prefix) {
			return RiskHigh
		}
	}
	lower := strings.ToLower(args.Path)
	if strings.Contains(lower, "config") || strings.HasSuffix(lower, ".conf") || strings.HasSuffix(lower, ".config") {
		return RiskModerate
	}
	return RiskModerate
}

func optionsFor(risk Risk) []Option {
	allowAlwaysName := "Allow always"
	switch risk {
	case RiskModerate:
		allowAlwaysName = "Allow always (use caution: this grants standing access)"
	case RiskHigh:
		allowAlwaysName = "Allow always (warning: this is a high-risk operation)"
	}
	return []Option{
		{OptionID: "allow-once", Name: "Allow once", Kind: AllowOnce},
		{OptionID: "allow-always", Name: allowAlwaysName, Kind: AllowAlways},
		{OptionID: "reject-once", Name: "Reject once", Kind: RejectOnce},
		{OptionID: "reject-always", Name: "Reject always", Kind: RejectAlways},
	}
}

// signatureOf derives a stable signature for "always" decision lookup: the
// compact JSON form of the arguments (already deterministic for maps
// decoded from a single parse), so repeated calls with identical arguments
// hit the same cache entry.
func signatureOf(arguments json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Sprintf("%x", arguments)
	}
	normalized, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%x", arguments)
	}
	return string(normalized)
}
