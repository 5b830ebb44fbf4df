package llm

import "context"

// StreamingFunc receives every streamed chunk. Returning an error aborts the stream.
type StreamingFunc func(ctx context.Context, chunk []byte) error

type GenerateOptions struct {
	Temperature            float32
	MaxTokens              int
	StopWords              []string
	JSONMode               bool
	StreamingFunc          StreamingFunc
	ReasoningStreamingFunc StreamingFunc
}

type GenerateOption func(*GenerateOptions)

func DefaultGenerateOption() *GenerateOptions {
	return &GenerateOptions{
		Temperature: 0.3,
	}
}

func WithTemperature(temperature float32) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temperature
	}
}

func WithMaxTokens(maxTokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = maxTokens
	}
}

func WithStopWords(stopWords []string) GenerateOption {
	return func(o *GenerateOptions) {
		o.StopWords = stopWords
	}
}

func WithJSONMode() GenerateOption {
	return func(o *GenerateOptions) {
		o.JSONMode = true
	}
}

// WithStreamingFunc streams answer tokens as they arrive.
func WithStreamingFunc(fn StreamingFunc) GenerateOption {
	return func(o *GenerateOptions) {
		o.StreamingFunc = fn
	}
}

// WithReasoningStreamingFunc streams the reasoning channel of reasoning models.
func WithReasoningStreamingFunc(fn StreamingFunc) GenerateOption {
	return func(o *GenerateOptions) {
		o.ReasoningStreamingFunc = fn
	}
}
