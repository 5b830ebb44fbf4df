package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"deepseek-reasoner", true},
		{"DeepSeek-R1-Distill", true},
		{"o1-reasoner-preview", true},
		{"gpt-4o-mini", false},
		{"qwen-plus", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReasoningModel(tt.model))
		})
	}
}

func TestPrepareMessages(t *testing.T) {
	t.Parallel()

	msgs := PrepareMessages("gpt-4o", "sys", "q")
	assert.Equal(t, []Message{NewSystemMessage("", "sys"), NewUserMessage("", "q")}, msgs)

	msgs = PrepareMessages("deepseek-reasoner", "sys", "q")
	assert.Equal(t, []Message{NewUserMessage("", "sys\n\nq")}, msgs)

	msgs = PrepareMessages("gpt-4o", "", "q")
	assert.Equal(t, []Message{NewUserMessage("", "q")}, msgs)
}
