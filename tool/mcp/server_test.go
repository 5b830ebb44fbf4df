package mcp

import (
	"context"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	topK   int
	docIds []int64
	req    *query.Request
	hits   []*query.ChunkHit
	answer *query.Answer
	graph  int64
	err    error
}

func (f *fakeBackend) SearchChunks(_ context.Context, _ string, topK int, docIds []int64) ([]*query.ChunkHit, error) {
	f.topK, f.docIds = topK, docIds
	return f.hits, f.err
}

func (f *fakeBackend) QA(_ context.Context, req *query.Request) (*query.Answer, error) {
	f.req = req
	return f.answer, f.err
}

func (f *fakeBackend) GraphData(_ context.Context, docId int64, format string) ([]byte, error) {
	f.graph = docId
	if format != "json" {
		return nil, errors.New("unexpected format " + format)
	}
	return []byte(`{"nodes":[],"edges":[]}`), f.err
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	c, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return c.Text
}

func TestSearchTool(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{hits: []*query.ChunkHit{
		{Title: "a.txt", Content: "Alice 加入 Acme", Score: 0.91, DocId: 1},
		{Title: "b.txt", Content: "Bob", Score: 0.5, DocId: 2},
	}}
	s := NewServer(b, "test")

	res, err := s.search(context.Background(), call(ToolSearch, map[string]any{
		"query":         "Alice",
		"num_documents": float64(2),
		"doc_ids":       []any{float64(1), "2"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[1] a.txt (doc_id: 1, score: 0.910)\nAlice 加入 Acme\n\n[2] b.txt (doc_id: 2, score: 0.500)\nBob", text(t, res))
	assert.Equal(t, 2, b.topK)
	assert.Equal(t, []int64{1, 2}, b.docIds)
}

func TestSearchTool_Arguments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    map[string]any
		topK    int
		isError bool
	}{
		{name: "default count", args: map[string]any{"query": "x"}, topK: defaultNumDocuments},
		{name: "capped count", args: map[string]any{"query": "x", "num_documents": 500}, topK: maxNumDocuments},
		{name: "string count", args: map[string]any{"query": "x", "num_documents": "7"}, topK: 7},
		{name: "missing query", args: map[string]any{"num_documents": 3}, isError: true},
		{name: "blank query", args: map[string]any{"query": "  "}, isError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &fakeBackend{}
			res, err := NewServer(b, "test").search(context.Background(), call(ToolSearch, tt.args))
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			if !tt.isError {
				assert.Equal(t, tt.topK, b.topK)
				assert.Equal(t, query.NoAnswer, text(t, res))
			}
		})
	}
}

func TestQueryTool(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{answer: &query.Answer{
		Text:    "Alice 加入了 Acme[1]。",
		Sources: []*rag.Source{{Title: "a.txt", DocId: 1, CitationIndex: 1}},
	}}
	s := NewServer(b, "test")

	res, err := s.query(context.Background(), call(ToolQuery, map[string]any{"query": "Alice 在哪", "mode": "local"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Alice 加入了 Acme[1]。\n\n"+query.SourcesHeader+"\n[1] a.txt", text(t, res))
	assert.Equal(t, query.ModeLocal, b.req.Mode)
	assert.Equal(t, query.ScopeGlobal, b.req.Scope)

	res, err = s.query(context.Background(), call(ToolQuery, map[string]any{"query": "x", "mode": "naive"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	b.err = rag.NewError(rag.ErrLLMUnavailable, nil, "down")
	res, err = s.query(context.Background(), call(ToolQuery, map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "llm unavailable")
}

func TestGraphTool(t *testing.T) {
	t.Parallel()
	b := &fakeBackend{}
	s := NewServer(b, "test")

	res, err := s.graph(context.Background(), call(ToolGraph, map[string]any{"doc_id": float64(3)}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, `{"nodes":[],"edges":[]}`, text(t, res))
	assert.Equal(t, int64(3), b.graph)

	for _, args := range []map[string]any{{}, {"doc_id": 0}, {"doc_id": "abc"}} {
		res, err = s.graph(context.Background(), call(ToolGraph, args))
		require.NoError(t, err)
		assert.True(t, res.IsError, "%v", args)
	}
}
