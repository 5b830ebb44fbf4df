package rag

import (
	"context"
)

// EmbedClient is an OpenAI-compatible embeddings endpoint.
type EmbedClient interface {
	// Embed 返回与 inputs 一一对应的向量
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Embedder is a dimension-aware embedding function used by the stores.
type Embedder interface {
	Dim() int
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
