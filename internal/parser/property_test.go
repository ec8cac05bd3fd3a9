package parser

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestStrategyDetectionIsTotalAndCaseInvariant verifies §8's "strategy
// detection is a total function; case changes of input do not change
// output" property.
func TestStrategyDetectionIsTotalAndCaseInvariant(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	properties.Property("case-invariant", prop.ForAll(
		func(modelID string) bool {
			return DetectStrategy(modelID) == DetectStrategy(strings.ToUpper(modelID))
		},
		gen.OneConstOf("qwen3-coder-a", "gpt-4-turbo", "claude-3-opus", "llama-3-70b", ""),
	))

	properties.TestingRun(t)
}

// TestStreamingParserEquivalentToSingleShot verifies §8's streaming-parser
// property: for any splitting of a text T into deltas whose concatenation
// is T, feeding the deltas to the streaming parser yields the same
// multiset of tool calls (by name, arguments) as a single-shot parse of T.
func TestStreamingParserEquivalentToSingleShot(t *testing.T) {
	text := "<tool_call><search><query>golang</query><limit>3</limit></search></tool_call>" +
		"<tool_call><fetch><url>https://example.com</url></fetch></tool_call>"

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("streaming equals single-shot", prop.ForAll(
		func(splitPoints []int) bool {
			deltas := splitAt(text, splitPoints)

			p := NewStreamingParser(StrategyQwen3Coder, nil)
			var streamed []ToolCall
			for _, d := range deltas {
				streamed = append(streamed, p.ProcessDelta(d)...)
			}

			oneShot := Parse(StrategyQwen3Coder, text, nil)
			return sameMultiset(streamed, oneShot)
		},
		genSplitPoints(len(text)),
	))

	properties.TestingRun(t)
}

func genSplitPoints(textLen int) gopter.Gen {
	return gen.SliceOfN(5, gen.IntRange(0, textLen)).Map(func(pts []int) []int {
		return pts
	})
}

func splitAt(text string, points []int) []string {
	sorted := append([]int(nil), points...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] < sorted[i] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	var deltas []string
	prev := 0
	for _, p := range sorted {
		if p < prev || p > len(text) {
			continue
		}
		deltas = append(deltas, text[prev:p])
		prev = p
	}
	deltas = append(deltas, text[prev:])
	return deltas
}

func sameMultiset(a, b []ToolCall) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(c ToolCall) string { return c.Name + "|" + string(c.Arguments) }
	counts := map[string]int{}
	for _, c := range a {
		counts[key(c)]++
	}
	for _, c := range b {
		counts[key(c)]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}
