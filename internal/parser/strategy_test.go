package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectStrategy(t *testing.T) {
	tests := []struct {
		modelID string
		want    Strategy
	}{
		{"Qwen3-Coder-480B", StrategyQwen3Coder},
		{"qwen3-coder-instruct", StrategyQwen3Coder},
		{"gpt-4o", StrategyOpenAI},
		{"openai/gpt-oss-120b", StrategyOpenAI},
		{"claude-3-5-sonnet", StrategyClaude},
		{"anthropic.claude-v2", StrategyClaude},
		{"llama-3.1-70b-instruct", StrategyDefault},
		{"", StrategyDefault},
	}
	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectStrategy(tt.modelID))
		})
	}
}

func TestDetectStrategyCaseInsensitive(t *testing.T) {
	assert.Equal(t, DetectStrategy("QWEN3-CODER"), DetectStrategy("qwen3-coder"))
	assert.Equal(t, DetectStrategy("GPT-4"), DetectStrategy("gpt-4"))
	assert.Equal(t, DetectStrategy("CLAUDE-3"), DetectStrategy("claude-3"))
}
