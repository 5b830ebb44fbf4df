package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"
)

type LLM struct {
	client         *goopenai.Client
	model          string
	embeddingModel string
}

var (
	_ llm.LLM = (*LLM)(nil)

	_defaultModel          = "gpt-4o"
	_defaultEmbeddingModel = "text-embedding-3-small"
)

// newClient creates an instance of the internal client.
func newClient(opt *options) (*goopenai.Client, error) {

	if len(opt.token) == 0 {
		return nil, errors.New("missing the OpenAI API key, set it in the OPENAI_API_KEY environment variable")
	}

	config := goopenai.DefaultConfig(opt.token)
	if opt.apiType == goopenai.APITypeAzure {
		config = goopenai.DefaultAzureConfig(
			opt.token, opt.baseURL)
	}
	if opt.baseURL != "" {
		config.BaseURL = opt.baseURL
	}
	config.OrgID = opt.organization

	if opt.httpClient != nil {
		config.HTTPClient = opt.httpClient
	}
	if opt.apiVersion != "" {
		config.APIVersion = opt.apiVersion
	}

	return goopenai.NewClientWithConfig(config), nil
}

// New returns a new OpenAI-compatible chat and embedding client.
func New(opts ...Option) (*LLM, error) {
	option := &options{
		apiType:        goopenai.APITypeOpenAI,
		httpClient:     http.DefaultClient,
		model:          _defaultModel,
		embeddingModel: _defaultEmbeddingModel,
	}

	for _, opt := range opts {
		opt(option)
	}
	c, err := newClient(option)
	if err != nil {
		return nil, err
	}
	return &LLM{
		client:         c,
		model:          option.model,
		embeddingModel: option.embeddingModel,
	}, nil
}

func (l *LLM) Model() string {
	return l.model
}

// GenerateContent implements the Model interface.
func (l *LLM) GenerateContent(ctx context.Context, messages []llm.Message, options ...llm.GenerateOption) (*llm.Generation, error) {
	opts := llm.DefaultGenerateOption()
	for _, opt := range options {
		opt(opts)
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, mc := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(mc.Role),
			Name:    mc.Name,
			Content: mc.Content,
		})
	}
	req := goopenai.ChatCompletionRequest{
		Model:    l.model,
		Stop:     opts.StopWords,
		Messages: msgs,
		Stream:   true,
		StreamOptions: &goopenai.StreamOptions{
			IncludeUsage: true,
		},
		MaxCompletionTokens: opts.MaxTokens,
	}
	// reasoning models reject sampling parameters
	if !llm.IsReasoningModel(l.model) {
		req.Temperature = opts.Temperature
	}

	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: "json_object"}
	}

	streamer, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create chat completion stream")
	}
	defer streamer.Close()

	var response = &llm.Generation{
		Usage: &llm.Usage{},
	}

	for {
		recv, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return response, errors.Wrap(err, "receive chat completion stream")
		}
		if len(recv.Choices) > 0 {
			delta := recv.Choices[0].Delta
			if recv.Choices[0].FinishReason != "" {
				response.StopReason = fmt.Sprint(recv.Choices[0].FinishReason)
			}
			if delta.Role != "" {
				response.Role = delta.Role
			}
			response.Content += delta.Content
			response.ReasoningContent += delta.ReasoningContent
			if opts.ReasoningStreamingFunc != nil && delta.ReasoningContent != "" {
				if err = opts.ReasoningStreamingFunc(ctx, []byte(delta.ReasoningContent)); err != nil {
					return response, err
				}
			}
			if opts.StreamingFunc != nil && delta.Content != "" {
				if err = opts.StreamingFunc(ctx, []byte(delta.Content)); err != nil {
					return response, err
				}
			}
		}
		if recv.Usage != nil {
			response.Usage.PromptTokens = recv.Usage.PromptTokens
			response.Usage.TotalTokens = recv.Usage.TotalTokens
			response.Usage.CompletionTokens = recv.Usage.CompletionTokens
		}
	}

	return response, nil
}

func (l *LLM) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Generation, error) {
	message := llm.NewUserMessage("", prompt)
	return l.GenerateContent(ctx, []llm.Message{message}, options...)
}
