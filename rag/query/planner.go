package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/graph"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// Stores is the read side of the tri-store.
type Stores struct {
	Chunks        rag.ChunkStore
	ChunkVectors  rag.VectorStore
	EntityVectors rag.VectorStore
	Graph         *graph.Store
}

type PlannerOption func(p *Planner)

func WithReranker(r rag.Reranker) PlannerOption {
	return func(p *Planner) {
		p.reranker = r
	}
}

// WithMinScore drops chunk hits below score in document scope.
func WithMinScore(score float64) PlannerOption {
	return func(p *Planner) {
		p.minScore = score
	}
}

// Planner gathers chunk and graph evidence for one question.
type Planner struct {
	stores   *Stores
	embedder rag.Embedder
	reranker rag.Reranker
	minScore float64
	logger   *zap.Logger
}

func NewPlanner(stores *Stores, embedder rag.Embedder, opts ...PlannerOption) *Planner {
	p := &Planner{
		stores:   stores,
		embedder: embedder,
		minScore: DefaultMinScore,
		logger:   logger.Named("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) embed(ctx context.Context, q string) ([]float32, error) {
	vectors, err := p.embedder.Embed(ctx, []string{q})
	if err != nil {
		return nil, rag.NewError(rag.ErrEmbed, err, "embed query")
	}
	if len(vectors) == 0 {
		return nil, rag.NewError(rag.ErrEmbed, nil, "empty query embedding")
	}
	return vectors[0], nil
}

// filePath resolves the marker of a hit, looking the chunk up when the
// vector record does not carry it.
func (p *Planner) filePath(ctx context.Context, hit *rag.VectorHit) string {
	if hit.FilePath != "" {
		return hit.FilePath
	}
	found, err := p.stores.Chunks.Get(ctx, hit.Id)
	if err != nil {
		return ""
	}
	if c, ok := found[hit.Id]; ok {
		return c.FilePath
	}
	return ""
}

// SearchDocChunks runs a wide vector search and keeps the hits of one
// document, best first.
func (p *Planner) SearchDocChunks(ctx context.Context, docId int64, q string, topK int, rerank bool) ([]*ContextChunk, error) {
	if topK <= 0 {
		topK = DefaultDocTopK
	}
	vec, err := p.embed(ctx, q)
	if err != nil {
		return nil, err
	}
	hits, err := p.stores.ChunkVectors.Query(ctx, vec, max(50, topK*10))
	if err != nil {
		return nil, err
	}
	out := make([]*ContextChunk, 0, topK)
	for _, h := range hits {
		if h.Score < p.minScore {
			continue
		}
		fp := p.filePath(ctx, h)
		if !rag.HasMarker(fp, docId) {
			if fp != "" || !rag.HasMarker(h.Content, docId) {
				continue
			}
			fp = rag.MarkerPrefix(docId) + "Unknown"
		}
		out = append(out, &ContextChunk{Id: h.Id, Content: h.Content, FilePath: fp, Score: h.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if rerank {
		out = p.rerank(ctx, q, out, topK)
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (p *Planner) rerank(ctx context.Context, q string, chunks []*ContextChunk, topK int) []*ContextChunk {
	if p.reranker == nil || len(chunks) < 2 {
		return chunks
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	order, err := p.reranker.Rerank(ctx, q, texts, min(topK, len(chunks)))
	if err != nil || len(order) == 0 {
		p.logger.Warn("rerank failed, keep vector order", zap.Error(err))
		return chunks
	}
	out := make([]*ContextChunk, 0, len(order))
	for _, i := range order {
		if i >= 0 && i < len(chunks) {
			out = append(out, chunks[i])
		}
	}
	return out
}

// Head rebuilds the beginning of a document from its stored chunks.
func (p *Planner) Head(ctx context.Context, docId int64, limit int) (*ContextChunk, error) {
	if limit <= 0 {
		limit = DefaultHeadLen
	}
	var chunks []*rag.Chunk
	err := p.stores.Chunks.Scan(ctx, func(c *rag.Chunk) bool {
		if rag.HasMarker(c.FilePath, docId) {
			chunks = append(chunks, c)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, rag.Errorf(rag.ErrNotFound, nil, "no chunk for doc %d", docId)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Segment != chunks[j].Segment {
			return chunks[i].Segment < chunks[j].Segment
		}
		return chunks[i].Position < chunks[j].Position
	})
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Content)
		} else {
			b.WriteString("\n")
			b.WriteString(body(c.Content))
		}
		if b.Len() >= limit*4 {
			break
		}
	}
	text := []rune(b.String())
	if len(text) > limit {
		text = text[:limit]
	}
	return &ContextChunk{Content: string(text), FilePath: chunks[0].FilePath, Score: headScore}, nil
}

// SearchChunks is the global chunk search. docIds, when given, restrict
// the hits to those documents.
func (p *Planner) SearchChunks(ctx context.Context, q string, topK int, docIds []int64) ([]*ChunkHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := p.embed(ctx, q)
	if err != nil {
		return nil, err
	}
	fetch := topK
	if len(docIds) > 0 {
		fetch = max(50, topK*10)
	}
	hits, err := p.stores.ChunkVectors.Query(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]*ChunkHit, 0, topK)
	for _, h := range hits {
		fp := p.filePath(ctx, h)
		ids := rag.MarkerIds(fp)
		var docId int64
		if len(ids) > 0 {
			docId = ids[0]
		}
		if len(docIds) > 0 && !funk.ContainsInt64(docIds, docId) {
			continue
		}
		out = append(out, &ChunkHit{
			Title:   rag.StripMarker(fp),
			Content: h.Content,
			Preview: preview(h.Content, 200),
			Score:   h.Score,
			DocId:   docId,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// SearchEntities returns entity names by vector similarity.
func (p *Planner) SearchEntities(ctx context.Context, q string, topK int) ([]*rag.VectorHit, error) {
	if p.stores.EntityVectors == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultEntityTopK
	}
	vec, err := p.embed(ctx, q)
	if err != nil {
		return nil, err
	}
	return p.stores.EntityVectors.Query(ctx, vec, topK)
}

// Retrieve gathers evidence for req. narrate receives one think line per
// retrieval step.
func (p *Planner) Retrieve(ctx context.Context, req *Request, mode Mode, narrate func(string)) (*Retrieval, error) {
	if narrate == nil {
		narrate = func(string) {}
	}
	if req.Filtered() {
		return p.retrieveDoc(ctx, req, mode, narrate)
	}
	return p.retrieveGlobal(ctx, req, mode, narrate)
}

func (p *Planner) retrieveDoc(ctx context.Context, req *Request, mode Mode, narrate func(string)) (*Retrieval, error) {
	ret := &Retrieval{}
	topK := DefaultDocTopK
	if req.TopK > 0 && req.TopK < topK {
		topK = req.TopK
	}

	if mode == ModeLocal {
		narrate("正在进行文档专用实体检索...")
		entities, err := p.localEntities(ctx, req, narrate)
		if err != nil {
			return nil, err
		}
		ret.Entities = entities
	}

	narrate("正在进行文档专用向量检索...")
	chunks, err := p.SearchDocChunks(ctx, req.DocId, req.Query, topK, req.Rerank)
	if err != nil {
		p.logger.Warn("doc chunk search failed", zap.Int64("doc_id", req.DocId), zap.Error(err))
		narrate(fmt.Sprintf("检索过程警告: %v", err))
	}
	if len(chunks) == 0 {
		narrate("向量检索未命中，尝试读取文档前文...")
		if head, err := p.Head(ctx, req.DocId, DefaultHeadLen); err == nil {
			chunks = append(chunks, head)
			ret.HeadFallback = true
		}
	}
	ret.Chunks = chunks
	if len(chunks) > 0 {
		narrate(fmt.Sprintf("找到 %d 个相关文档片段：", len(chunks)))
		for i, c := range chunks[:min(3, len(chunks))] {
			narrate(fmt.Sprintf("- [%d] %s...", i+1, preview(c.Content, 50)))
		}
	} else {
		narrate("向量检索未发现强相关片段，尝试图谱检索...")
	}

	if mode != ModeLocal {
		narrate("正在进行文档专用图谱检索...")
		hits := p.GraphSearch(ctx, req.DocId, req.Query, DefaultGraphTopK)
		if len(hits) > 0 {
			narrate(fmt.Sprintf("找到 %d 个相关实体/关系", len(hits)))
		}
		ret.Entities = hits
	}
	return ret, nil
}

func (p *Planner) retrieveGlobal(ctx context.Context, req *Request, mode Mode, narrate func(string)) (*Retrieval, error) {
	ret := &Retrieval{}
	chunkK := DefaultDocTopK
	if req.TopK > 0 && req.TopK < chunkK {
		chunkK = req.TopK
	}

	var markers []string
	if mode == ModeLocal {
		narrate("正在进行全局实体检索...")
		entities, err := p.localEntities(ctx, req, narrate)
		if err != nil {
			return nil, err
		}
		ret.Entities = entities
		for _, e := range entities {
			markers = append(markers, strings.Split(e.SourceId, rag.SourceSeparator)...)
		}
		markers = funk.UniqString(markers)
	}

	narrate("正在进行全局向量粗排...")
	vec, err := p.embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	fetch := chunkK
	if len(markers) > 0 {
		fetch = max(50, chunkK*10)
	}
	hits, err := p.stores.ChunkVectors.Query(ctx, vec, fetch)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		fp := p.filePath(ctx, h)
		if len(markers) > 0 && !funk.ContainsString(markers, fp) {
			continue
		}
		ret.Chunks = append(ret.Chunks, &ContextChunk{Id: h.Id, Content: h.Content, FilePath: fp, Score: h.Score})
		if len(ret.Chunks) == chunkK {
			break
		}
	}
	if len(ret.Chunks) > 0 {
		narrate(fmt.Sprintf("找到 %d 个相关文档片段：", len(ret.Chunks)))
		for i, c := range ret.Chunks[:min(3, len(ret.Chunks))] {
			narrate(fmt.Sprintf("- [%d] %s...", i+1, preview(c.Content, 50)))
		}
	} else {
		narrate("向量检索未发现强相关片段，尝试图谱检索...")
	}

	if mode != ModeLocal {
		narrate("正在进行全局图谱检索...")
		entities, err := p.localEntities(ctx, req, narrate)
		if err != nil {
			p.logger.Warn("entity search failed", zap.Error(err))
		}
		ret.Entities = entities
	}
	return ret, nil
}

// localEntities turns entity vector hits into context records together
// with the relations among them.
func (p *Planner) localEntities(ctx context.Context, req *Request, narrate func(string)) ([]*ContextEntity, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := p.SearchEntities(ctx, req.Query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]*ContextEntity, 0, len(hits))
	selected := make(map[string]bool, len(hits))
	for _, h := range hits {
		node, ok := p.stores.Graph.Node(h.Content)
		if !ok || selected[node.Name] {
			continue
		}
		if req.Filtered() && !rag.HasMarker(node.SourceId, req.DocId) {
			continue
		}
		selected[node.Name] = true
		out = append(out, &ContextEntity{
			Name:        node.Name,
			Type:        node.Type,
			Description: node.Description,
			SourceId:    node.SourceId,
			Score:       h.Score,
		})
	}
	var relations []*ContextEntity
	seen := make(map[string]bool)
	for _, e := range out {
		edges := p.stores.Graph.EdgesOf(e.Name)
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
		kept := 0
		for _, r := range edges {
			if !selected[r.Source] || !selected[r.Target] || kept >= relationsPerEntity {
				continue
			}
			key := r.Source + "|" + r.Target + "|" + r.Label
			if seen[key] {
				continue
			}
			seen[key] = true
			kept++
			relations = append(relations, &ContextEntity{
				Name:        r.Source + " -> " + r.Target,
				Type:        relationType,
				Description: strings.TrimSpace(r.Label + ": " + r.Description),
				SourceId:    r.SourceId,
				Score:       r.Weight,
			})
		}
	}
	if len(out) > 0 {
		narrate(fmt.Sprintf("找到 %d 个相关实体/关系", len(out)+len(relations)))
	}
	return append(out, relations...), nil
}

const (
	preambleStart = "--- Document Metadata ---"
	preambleEnd   = "------------------------\n\n"
)

// body drops the metadata preamble every chunk of an insert starts with.
func body(content string) string {
	if !strings.HasPrefix(content, preambleStart) {
		return content
	}
	if i := strings.Index(content, preambleEnd); i >= 0 {
		return content[i+len(preambleEnd):]
	}
	return content
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(strings.TrimSpace(body(s)), "\n", " ")
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
