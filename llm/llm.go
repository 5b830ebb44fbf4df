package llm

import (
	"context"
	"strings"

	"github.com/tidwall/match"
)

// LLM is a chat model behind an OpenAI-compatible endpoint.
type LLM interface {
	// GenerateContent 根据消息列表生成回复，流式回调通过 GenerateOption 传入
	GenerateContent(ctx context.Context, messages []Message, options ...GenerateOption) (*Generation, error)
	// Generate 单轮 user 消息的快捷方式
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Generation, error)
	// Model 当前使用的模型名称
	Model() string
}

// Generation is the uniform (content, reasoning) pair returned by a chat call.
type Generation struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	StopReason       string `json:"stop_reason"`
	Usage            *Usage `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var reasoningPatterns = []string{
	"*deepseek-reasoner*",
	"*r1*",
	"*reasoner*",
}

// IsReasoningModel reports whether the model belongs to the reasoning family,
// which rejects a system role and emits a separate reasoning channel.
func IsReasoningModel(model string) bool {
	model = strings.ToLower(model)
	for _, p := range reasoningPatterns {
		if match.Match(model, p) {
			return true
		}
	}
	return false
}

// PrepareMessages builds the system+user pair for a chat call. Reasoning
// models get the system prompt folded into the user turn.
func PrepareMessages(model, system, user string) []Message {
	if system == "" {
		return []Message{NewUserMessage("", user)}
	}
	if IsReasoningModel(model) {
		return []Message{NewUserMessage("", system+"\n\n"+user)}
	}
	return []Message{
		NewSystemMessage("", system),
		NewUserMessage("", user),
	}
}
