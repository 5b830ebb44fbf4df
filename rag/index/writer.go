package index

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/index/textsplitter"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/graph"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/kv"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const summaryLen = 100

// Preamble is prepended to every inserted text so that each chunk carries
// the document marker.
func Preamble(marker string) string {
	return fmt.Sprintf("--- Document Metadata ---\nSource: %s\n------------------------\n\n", marker)
}

// Stores is the write side of the tri-store.
type Stores struct {
	Chunks        rag.ChunkStore
	ChunkVectors  rag.VectorStore
	EntityVectors rag.VectorStore
	Graph         *graph.Store
	Status        *kv.DocStatusStore
}

// Writer runs the tri-store write path for one piece of text.
type Writer struct {
	stores    *Stores
	embedder  rag.Embedder
	extractor *Extractor
	splitter  textsplitter.TextSplitter
	retries   int
	backoff   time.Duration
	logger    *zap.Logger
}

func NewWriter(stores *Stores, embedder rag.Embedder, extractor *Extractor, opts ...WriterOption) (*Writer, error) {
	if stores == nil || stores.Chunks == nil || stores.ChunkVectors == nil || stores.Graph == nil {
		return nil, errors.New("writer needs chunk, vector and graph stores")
	}
	if embedder == nil || extractor == nil {
		return nil, errors.New("writer needs an embedder and an extractor")
	}
	o := &WriterOptions{Retries: DefaultRetries, Backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(o)
	}
	if o.Splitter == nil {
		s, err := textsplitter.New(textsplitter.StrategySemantic)
		if err != nil {
			return nil, err
		}
		o.Splitter = s
	}
	return &Writer{
		stores:    stores,
		embedder:  embedder,
		extractor: extractor,
		splitter:  o.Splitter,
		retries:   o.Retries,
		backoff:   o.Backoff,
		logger:    logger.Named("writer"),
	}, nil
}

// InsertText writes text tagged with marker into all stores. A failing
// attempt is retried with a linearly growing pause.
func (w *Writer) InsertText(ctx context.Context, text, marker string) error {
	return w.InsertSegment(ctx, text, marker, 0)
}

// InsertSegment is InsertText for the segment-th piece of a document.
func (w *Writer) InsertSegment(ctx context.Context, text, marker string, segment int) error {
	full := Preamble(marker) + text
	var err error
	for attempt := 0; attempt < w.retries; attempt++ {
		if err = w.insert(ctx, full, marker, segment); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == w.retries-1 {
			break
		}
		wait := w.backoff * time.Duration(attempt+1)
		w.logger.Warn("insert failed, retrying",
			zap.String("marker", marker), zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func (w *Writer) insert(ctx context.Context, full, marker string, segment int) error {
	parts, err := w.splitter.SplitText(full)
	if err != nil {
		return errors.Wrap(err, "split text")
	}
	fullId := rag.DocId(full)
	chunks := make([]*rag.Chunk, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for i, p := range parts {
		id := rag.ChunkId(marker + "\n" + p)
		if seen[id] {
			continue
		}
		seen[id] = true
		chunks = append(chunks, &rag.Chunk{
			Id:        id,
			Content:   p,
			FilePath:  marker,
			Position:  i,
			Tokens:    utf8.RuneCountInString(p),
			FullDocId: fullId,
			Segment:   segment,
		})
	}
	if len(chunks) == 0 {
		return rag.NewError(rag.ErrParse, nil, "no chunk produced")
	}

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = c.Content
	}
	vectors, err := w.embedder.Embed(ctx, inputs)
	if err != nil {
		return rag.NewError(rag.ErrEmbed, err, "embed chunks")
	}
	sub, err := w.extractor.ExtractAll(ctx, chunks)
	if err != nil {
		return err
	}

	// chunk ids already present belong to an earlier successful insert
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Id
	}
	existing, err := w.stores.Chunks.Get(ctx, ids...)
	if err != nil {
		return err
	}
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			fresh = append(fresh, id)
		}
	}

	records := make([]*rag.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = &rag.VectorRecord{Id: c.Id, Vector: vectors[i], Content: c.Content, FilePath: marker}
	}
	if err = w.stores.ChunkVectors.Upsert(ctx, records); err != nil {
		w.rollback(ctx, marker, fresh)
		return err
	}
	if err = w.commit(ctx, full, fullId, marker, chunks, sub); err != nil {
		w.rollback(ctx, marker, fresh)
		return err
	}
	w.logger.Info("text inserted", zap.String("marker", marker),
		zap.Int("chunks", len(chunks)),
		zap.Int("entities", len(sub.Entities)), zap.Int("relations", len(sub.Relations)))
	return nil
}

// commit writes the graph and entity vectors before the chunk records, so
// the head fallback never reads a chunk of a segment that failed.
func (w *Writer) commit(ctx context.Context, full, fullId, marker string, chunks []*rag.Chunk, sub *rag.Subgraph) error {
	if err := w.stores.Graph.Merge(ctx, sub); err != nil {
		return err
	}
	if err := w.upsertEntities(ctx, sub); err != nil {
		return err
	}
	if err := w.stores.Chunks.Upsert(ctx, chunks); err != nil {
		return err
	}
	if w.stores.Status == nil {
		return nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Id
	}
	summary := []rune(full)
	if len(summary) > summaryLen {
		summary = summary[:summaryLen]
	}
	now := time.Now().Unix()
	return w.stores.Status.Put(ctx, fullId, &kv.DocStatus{
		Status:         kv.DocProcessed,
		FilePath:       marker,
		ContentSummary: string(summary),
		ContentLength:  utf8.RuneCountInString(full),
		ChunksCount:    len(chunks),
		ChunkIds:       ids,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// rollback removes the chunks a failed attempt introduced. Graph merges
// are idempotent and are left for the retry or for Delete.
func (w *Writer) rollback(ctx context.Context, marker string, fresh []string) {
	if len(fresh) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := w.stores.ChunkVectors.Delete(ctx, fresh...); err != nil {
		w.logger.Warn("rollback chunk vectors failed", zap.String("marker", marker), zap.Error(err))
	}
	if err := w.stores.Chunks.Delete(ctx, fresh...); err != nil {
		w.logger.Warn("rollback chunks failed", zap.String("marker", marker), zap.Error(err))
	}
}

// upsertEntities embeds the merged view of every touched entity so the
// entity table always reflects the accumulated description.
func (w *Writer) upsertEntities(ctx context.Context, sub *rag.Subgraph) error {
	if w.stores.EntityVectors == nil || len(sub.Entities) == 0 {
		return nil
	}
	names := make([]string, 0, len(sub.Entities))
	seen := make(map[string]bool)
	for _, e := range sub.Entities {
		if e.Name == "" || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		names = append(names, e.Name)
	}
	inputs := make([]string, 0, len(names))
	merged := make([]*rag.Entity, 0, len(names))
	for _, name := range names {
		node, ok := w.stores.Graph.Node(name)
		if !ok {
			continue
		}
		merged = append(merged, node)
		inputs = append(inputs, node.Name+"\n"+node.Description)
	}
	if len(inputs) == 0 {
		return nil
	}
	vectors, err := w.embedder.Embed(ctx, inputs)
	if err != nil {
		return rag.NewError(rag.ErrEmbed, err, "embed entities")
	}
	records := make([]*rag.VectorRecord, len(merged))
	for i, node := range merged {
		records[i] = &rag.VectorRecord{
			Id:       rag.EntityId(node.Name),
			Vector:   vectors[i],
			Content:  node.Name,
			FilePath: node.SourceId,
		}
	}
	return w.stores.EntityVectors.Upsert(ctx, records)
}
