package embedding

import (
	"context"
	"sync"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/bigf625oot/Tiga-sub000/utils/ratelimit"
	"go.uber.org/zap"
)

// probeInput is embedded once to learn the provider's dimension.
const probeInput = "a"

// Adapter wraps an embeddings endpoint and guarantees every result has
// shape (len(inputs), Dim()).
type Adapter struct {
	client    rag.EmbedClient
	model     string
	batchSize int
	limiter   *ratelimit.Limiter

	mu  sync.Mutex
	dim int

	logger *zap.Logger
}

var _ rag.Embedder = (*Adapter)(nil)

func New(client rag.EmbedClient, opts ...Option) *Adapter {
	options := &Options{
		BatchSize: 32,
	}
	for _, opt := range opts {
		opt(options)
	}
	a := &Adapter{
		client:    client,
		model:     options.Model,
		batchSize: options.BatchSize,
		dim:       options.Dim,
		limiter:   ratelimit.New(options.Rate, 0),
		logger:    logger.Named("embedding"),
	}
	return a
}

// Rate is the provider call limit per second, 0 when unlimited.
func (a *Adapter) Rate() float64 {
	return a.limiter.Rate()
}

// Dim returns the probed dimension, 0 before the first probe.
func (a *Adapter) Dim() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dim
}

// Probe embeds a one-character input and records its length as the
// dimension. It always calls the provider, so it also detects a model swap.
func (a *Adapter) Probe(ctx context.Context) (int, error) {
	if err := a.wait(ctx); err != nil {
		return 0, err
	}
	vectors, err := a.client.Embed(ctx, a.model, []string{probeInput})
	if err != nil {
		return 0, rag.NewError(rag.ErrEmbed, err, "probe embedding dimension")
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return 0, rag.NewError(rag.ErrEmbed, nil, "probe returned an empty vector")
	}
	dim := len(vectors[0])

	a.mu.Lock()
	if a.dim != 0 && a.dim != dim {
		a.logger.Warn("embedding dimension changed", zap.Int("old", a.dim), zap.Int("new", dim))
	}
	a.dim = dim
	a.mu.Unlock()

	a.logger.Info("embedding dimension probed", zap.String("model", a.model), zap.Int("dim", dim))
	return dim, nil
}

// Embed returns one vector per input. Rows the provider cannot embed are
// zero vectors, and only a fully failed call is an error.
func (a *Adapter) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}
	dim := a.Dim()
	if dim == 0 {
		var err error
		if dim, err = a.Probe(ctx); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, 0, len(inputs))
	failed := 0
	for start := 0; start < len(inputs); start += a.batchSize {
		batch := inputs[start:min(start+a.batchSize, len(inputs))]
		vectors, bad, err := a.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		failed += bad
		out = append(out, Normalize(vectors, len(batch), dim)...)
	}
	if failed == len(inputs) {
		return nil, rag.Errorf(rag.ErrEmbed, nil, "all %d inputs failed to embed", len(inputs))
	}
	if failed > 0 {
		a.logger.Warn("some inputs were zero-filled", zap.Int("failed", failed), zap.Int("total", len(inputs)))
	}
	return out, nil
}

// embedBatch tries the whole batch, then falls back to one call per input.
// It returns the number of rows left empty. Only context errors abort.
func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, int, error) {
	if err := a.wait(ctx); err != nil {
		return nil, 0, err
	}
	vectors, err := a.client.Embed(ctx, a.model, batch)
	if err == nil {
		return vectors, 0, nil
	}
	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}
	a.logger.Warn("batch embedding failed, retrying per input", zap.Int("size", len(batch)), zap.Error(err))

	vectors = make([][]float32, len(batch))
	failed := 0
	for i, input := range batch {
		if err := a.wait(ctx); err != nil {
			return nil, 0, err
		}
		v, err := a.client.Embed(ctx, a.model, []string{input})
		if err != nil || len(v) == 0 {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			failed++
			continue
		}
		vectors[i] = v[0]
	}
	return vectors, failed, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Normalize forces vectors into rows x dim: long rows are truncated, short
// rows zero padded, missing rows zero filled and extra rows dropped.
func Normalize(vectors [][]float32, rows, dim int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		row := make([]float32, dim)
		if i < len(vectors) {
			copy(row, vectors[i])
		}
		out[i] = row
	}
	return out
}
