package openai

import (
	"context"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"
)

// Embed calls the embeddings endpoint and returns one vector per input,
// ordered by the index the provider reports.
func (l *LLM) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	if model == "" {
		model = l.embeddingModel
	}
	resp, err := l.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: inputs,
		Model: goopenai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create embeddings")
	}
	out := make([][]float32, len(inputs))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		if idx < len(out) {
			out[idx] = d.Embedding
		}
	}
	return out, nil
}
