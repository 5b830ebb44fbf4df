package rag

import (
	"context"
)

// Reranker reorders candidate passages for a query.
type Reranker interface {
	// Rerank 根据 text 对 source 重排，返回按相关性排序后的下标，最多 limit 个
	Rerank(ctx context.Context, text string, source []string, limit int) ([]int, error)
}
