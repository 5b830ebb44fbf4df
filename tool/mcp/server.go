package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	ToolSearch = "search_knowledge_base"
	ToolQuery  = "query_knowledge_graph"
	ToolGraph  = "get_graph_structure"

	defaultNumDocuments = 5
	maxNumDocuments     = 50
)

// Backend is the slice of the engine the tools need.
type Backend interface {
	SearchChunks(ctx context.Context, q string, topK int, docIds []int64) ([]*query.ChunkHit, error)
	QA(ctx context.Context, req *query.Request) (*query.Answer, error)
	GraphData(ctx context.Context, docId int64, format string) ([]byte, error)
}

// Server exposes a Backend as MCP tools.
type Server struct {
	backend Backend
	srv     *server.MCPServer
	logger  *zap.Logger
}

// NewServer 注册知识库检索、图谱问答和图结构三个工具
func NewServer(backend Backend, version string) *Server {
	s := &Server{
		backend: backend,
		srv:     server.NewMCPServer("tiga", version, server.WithToolCapabilities(false)),
		logger:  logger.Named("mcp"),
	}
	s.srv.AddTool(mcp.NewTool(ToolSearch,
		mcp.WithDescription("Search the knowledge base and return the most relevant document chunks."),
		mcp.WithString("query", mcp.Required(), mcp.Description("search text")),
		mcp.WithNumber("num_documents", mcp.Description("how many chunks to return, default 5")),
		mcp.WithArray("doc_ids", mcp.Description("restrict the search to these document ids"),
			mcp.Items(map[string]any{"type": "integer"})),
	), s.search)
	s.srv.AddTool(mcp.NewTool(ToolQuery,
		mcp.WithDescription("Answer a question from the knowledge graph and document chunks, with cited sources."),
		mcp.WithString("query", mcp.Required(), mcp.Description("the question")),
		mcp.WithString("mode", mcp.Description("retrieval mode"), mcp.Enum(string(query.ModeMix), string(query.ModeLocal))),
	), s.query)
	s.srv.AddTool(mcp.NewTool(ToolGraph,
		mcp.WithDescription("Return the entity graph extracted from one document as JSON nodes and edges."),
		mcp.WithNumber("doc_id", mcp.Required(), mcp.Description("document id")),
	), s.graph)
	return s
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

func (s *Server) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseSearchArgs(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.backend.SearchChunks(ctx, args.Query, args.NumDocuments, args.DocIds)
	if err != nil {
		s.logger.Warn("search failed", zap.String("query", args.Query), zap.Error(err))
		return mcp.NewToolResultError("search failed: " + err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText(query.NoAnswer), nil
	}
	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s (doc_id: %d, score: %.3f)\n%s", i+1, h.Title, h.DocId, h.Score, h.Content)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) query(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseQueryArgs(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ans, err := s.backend.QA(ctx, &query.Request{
		Query: args.Query,
		Scope: query.ScopeGlobal,
		Mode:  args.Mode,
	})
	if err != nil {
		s.logger.Warn("query failed", zap.String("query", args.Query), zap.Error(err))
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	text := ans.Text
	if lines := query.RenderSources("", ans.Sources); len(lines) > 0 {
		text += "\n\n" + strings.Join(lines, "\n")
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) graph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docId, err := intArg(req.GetArguments(), "doc_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.backend.GraphData(ctx, docId, "json")
	if err != nil {
		return mcp.NewToolResultError("graph export failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
