package retriever

import (
	"context"
	"net/http"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/bigf625oot/Tiga-sub000/utils/request"
	"github.com/pkg/errors"
)

// BgeReranker calls an HTTP BGE rerank service.
type BgeReranker struct {
	providerUrl string
	token       string
}

var _ rag.Reranker = (*BgeReranker)(nil)

func NewBgeReranker(opts ...Option) *BgeReranker {
	options := &Options{}

	for _, opt := range opts {
		opt(options)
	}

	return &BgeReranker{
		providerUrl: options.ProviderUrl,
		token:       options.Token,
	}
}

type BgeRequest struct {
	Text   string   `json:"text"`
	Source []string `json:"source"`
	Limit  int      `json:"limit"`
}

// BgeResponse carries the reordered passages in Data.
type BgeResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    []string `json:"data"`
}

// Rerank returns indices into source, best first. Passages the service
// returns that are not in source are ignored.
func (r *BgeReranker) Rerank(ctx context.Context, text string, source []string, limit int) ([]int, error) {
	if text == "" {
		return nil, errors.New("text is empty")
	}
	if len(source) == 0 {
		return nil, errors.New("source is empty")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if r.providerUrl == "" {
		return nil, errors.New("rerank provider url is empty")
	}

	marshal, err := json.Marshal(BgeRequest{Text: text, Source: source, Limit: limit})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request failed")
	}

	var response BgeResponse
	var headers []string
	if r.token != "" {
		headers = append(headers, "Authorization", "Bearer "+r.token)
	}
	err = request.Request(ctx, http.MethodPost, r.providerUrl, string(marshal), &response, headers...)
	if err != nil {
		return nil, errors.Wrap(err, "request bge failed")
	}
	if !response.Success && response.Message != "" {
		return nil, errors.Errorf("bge rerank: %s", response.Message)
	}

	positions := make(map[string][]int, len(source))
	for i, s := range source {
		positions[s] = append(positions[s], i)
	}
	out := make([]int, 0, len(response.Data))
	for _, d := range response.Data {
		idx := positions[d]
		if len(idx) == 0 {
			continue
		}
		out = append(out, idx[0])
		positions[d] = idx[1:]
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
