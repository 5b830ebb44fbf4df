package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bigf625oot/Tiga-sub000/config"
	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/llm/openai"
	"github.com/bigf625oot/Tiga-sub000/memory"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/dimension"
	"github.com/bigf625oot/Tiga-sub000/rag/embedding"
	"github.com/bigf625oot/Tiga-sub000/rag/index"
	"github.com/bigf625oot/Tiga-sub000/rag/index/textsplitter"
	"github.com/bigf625oot/Tiga-sub000/rag/parser"
	"github.com/bigf625oot/Tiga-sub000/rag/progress"
	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/bigf625oot/Tiga-sub000/rag/retriever"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/blob"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/db"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/graph"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/kv"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/vector"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const (
	chunksTable   = "chunks"
	entitiesTable = "entities"

	historyTurns = 20
)

// Engine owns the stores and wires ingestion and QA together. All
// per-question state travels in query.Request, so one engine serves
// concurrent calls.
type Engine struct {
	cfg *config.Config

	llm         llm.LLM
	embedClient rag.EmbedClient
	embedder    *embedding.Adapter
	dims        *dimension.Manager
	qdrant      *qdrant.Client

	docs     rag.DocumentStore
	messages rag.MessageStore
	blobs    rag.BlobStore
	parser   index.TextParser

	chunks     *kv.ChunkStore
	status     *kv.DocStatusStore
	chunkVecs  rag.VectorStore
	entityVecs rag.VectorStore
	graph      *graph.Store

	machine    *progress.Machine
	controller *index.Controller
	planner    *query.Planner
	streamer   *query.Streamer

	closers []func(ctx context.Context) error
	logger  *zap.Logger
}

func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{cfg: cfg, logger: logger.Named("engine")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init probes the embedding dimension, reconciles it with the stored
// tables and opens every store. It must run before any other call.
func (e *Engine) Init(ctx context.Context) error {
	start := time.Now()
	if err := os.MkdirAll(e.cfg.WorkingDir, 0o755); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "create working dir")
	}
	if err := e.initModels(); err != nil {
		return err
	}
	if e.cfg.Vector.Backend == "qdrant" {
		client, err := vector.NewQdrantClient(vector.QdrantConfig{
			Host:   e.cfg.Vector.QdrantHost,
			Port:   e.cfg.Vector.QdrantPort,
			APIKey: e.cfg.Vector.QdrantAPIKey,
			Prefix: e.cfg.Vector.CollectionPrefix,
		})
		if err != nil {
			return err
		}
		e.qdrant = client
		e.closers = append(e.closers, func(context.Context) error { return client.Close() })
	}

	dim, err := e.embedder.Probe(ctx)
	if err != nil {
		return err
	}
	e.dims = dimension.New(e.cfg.WorkingDir, dimension.WithOnReset(e.dropRemote))
	changed, err := e.dims.Reconcile(ctx, dim)
	if err != nil {
		return err
	}
	if changed {
		e.logger.Warn("vector stores were reset for the new dimension, run rebuild to restore embeddings",
			zap.Int("dim", dim))
	}

	if err = e.openStores(ctx, dim); err != nil {
		return err
	}
	if err = e.openCollaborators(ctx); err != nil {
		return err
	}
	if err = e.buildPipeline(); err != nil {
		return err
	}
	e.logger.Info("engine ready", zap.Int("dim", dim), zap.Float64("embed_rate", e.embedder.Rate()),
		zap.String("working_dir", e.cfg.WorkingDir),
		zap.String("vector_backend", e.cfg.Vector.Backend), zap.Duration("cost", time.Since(start)))
	return nil
}

func (e *Engine) initModels() error {
	cfg := e.cfg
	if e.llm == nil {
		client, err := openai.New(
			openai.WithToken(cfg.LLM.APIKey),
			openai.WithBaseURL(cfg.LLM.BaseURL),
			openai.WithModel(cfg.LLM.Model),
			openai.WithEmbeddingModel(cfg.Embedding.Model),
		)
		if err != nil {
			return rag.NewError(rag.ErrLLMUnavailable, err, "create chat client")
		}
		e.llm = client
	}
	if e.embedClient == nil {
		sameEndpoint := (cfg.Embedding.BaseURL == "" || cfg.Embedding.BaseURL == cfg.LLM.BaseURL) &&
			(cfg.Embedding.APIKey == "" || cfg.Embedding.APIKey == cfg.LLM.APIKey)
		if c, ok := e.llm.(*openai.LLM); ok && sameEndpoint {
			e.embedClient = c
		} else {
			token := cfg.Embedding.APIKey
			if token == "" {
				token = cfg.LLM.APIKey
			}
			c, err := openai.New(
				openai.WithToken(token),
				openai.WithBaseURL(cfg.Embedding.BaseURL),
				openai.WithEmbeddingModel(cfg.Embedding.Model),
			)
			if err != nil {
				return rag.NewError(rag.ErrEmbed, err, "create embedding client")
			}
			e.embedClient = c
		}
	}
	e.embedder = embedding.New(e.embedClient,
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithRate(cfg.Embedding.Rate),
	)
	return nil
}

// dropRemote removes the qdrant collections built for the old dimension.
func (e *Engine) dropRemote(ctx context.Context, old, _ int) error {
	if e.qdrant == nil || old <= 0 {
		return nil
	}
	for _, name := range []string{chunksTable, entitiesTable} {
		collection := vector.CollectionName(e.cfg.Vector.CollectionPrefix, name, old)
		if err := e.qdrant.DeleteCollection(ctx, collection); err != nil {
			e.logger.Warn("drop stale collection failed", zap.String("collection", collection), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) openVectors(ctx context.Context, name string, dim int) (rag.VectorStore, error) {
	if e.qdrant != nil {
		return vector.OpenQdrant(ctx, e.qdrant, e.cfg.Vector.CollectionPrefix, name, dim)
	}
	return vector.OpenFlat(e.cfg.WorkingDir, name, dim)
}

func (e *Engine) openStores(ctx context.Context, dim int) error {
	wd := e.cfg.WorkingDir
	var err error
	if e.chunks, err = kv.NewChunkStore(wd); err != nil {
		return err
	}
	if e.status, err = kv.NewDocStatusStore(wd); err != nil {
		return err
	}
	if e.chunkVecs, err = e.openVectors(ctx, chunksTable, dim); err != nil {
		return err
	}
	if e.entityVecs, err = e.openVectors(ctx, entitiesTable, dim); err != nil {
		return err
	}

	var opts []graph.Option
	if n := e.cfg.Neo4j; n.Enabled {
		mirror, err := graph.NewNeo4jMirror(ctx, n.URI, n.User, n.Password, "")
		if err != nil {
			e.logger.Warn("neo4j mirror disabled", zap.Error(err))
		} else {
			opts = append(opts, graph.WithMirror(mirror))
			e.closers = append(e.closers, mirror.Close)
		}
	}
	e.graph, err = graph.Open(wd, opts...)
	return err
}

func (e *Engine) openCollaborators(ctx context.Context) error {
	cfg := e.cfg
	var store *db.Storage
	if cfg.DB.Driver != "" && (e.docs == nil || e.messages == nil) {
		gdb, err := db.Open(cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return err
		}
		if store, err = db.NewStorage(db.WithDB(gdb), db.WithAutoMigrate()); err != nil {
			return err
		}
	}

	if e.docs == nil {
		switch {
		case store != nil:
			e.docs = store
		case cfg.DB.File != "":
			d, err := kv.NewDocumentStore(cfg.DB.File)
			if err != nil {
				return err
			}
			e.docs = d
		default:
			e.logger.Warn("no database configured, documents are kept in memory")
			e.docs = memory.NewDocuments()
		}
	}

	if e.messages == nil {
		switch {
		case cfg.Redis.Enabled:
			r, err := memory.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			e.messages = r
			e.closers = append(e.closers, func(context.Context) error { return r.Close() })
		case store != nil:
			e.messages = store
		default:
			e.messages = memory.NewBufferWindowMemory(500)
		}
	}

	if e.blobs == nil {
		if cfg.Blob.Backend == "minio" {
			m, err := blob.NewMinio(ctx, blob.MinioConfig{
				Endpoint:      cfg.Blob.Endpoint,
				AccessKey:     cfg.Blob.AccessKey,
				SecretKey:     cfg.Blob.SecretKey,
				Bucket:        cfg.Blob.Bucket,
				UseSSL:        cfg.Blob.UseSSL,
				PresignExpiry: time.Duration(cfg.Blob.PresignExpiry) * time.Second,
			})
			if err != nil {
				return err
			}
			e.blobs = m
		} else {
			l, err := blob.NewLocal(cfg.Blob.Root)
			if err != nil {
				return err
			}
			e.blobs = l
		}
	}

	if e.parser == nil {
		var opts []parser.Option
		if cfg.Parser.OCREnabled {
			opts = append(opts, parser.WithOCR(parser.NewTesseractOCR(cfg.Parser.OCRLang)))
		}
		e.parser = parser.New(opts...)
	}
	return nil
}

func (e *Engine) buildPipeline() error {
	cfg := e.cfg
	splitter, err := textsplitter.New(textsplitter.Strategy(cfg.Chunk.Strategy),
		textsplitter.WithChunkSize(cfg.Chunk.Size),
		textsplitter.WithChunkOverlap(cfg.Chunk.Overlap),
		textsplitter.WithEncodingName(cfg.Chunk.Tokenizer),
		textsplitter.WithMaxHeadingLevel(cfg.Chunk.MaxHeadingLevel),
	)
	if err != nil {
		return err
	}
	extractor := index.NewExtractor(e.llm,
		index.WithEntityTypes(cfg.Extract.EntityTypes),
		index.WithConcurrency(cfg.Extract.Concurrency),
		index.WithRate(cfg.Extract.Rate),
		index.WithCacheDir(filepath.Join(cfg.WorkingDir, "llm_cache")),
	)
	writer, err := index.NewWriter(&index.Stores{
		Chunks:        e.chunks,
		ChunkVectors:  e.chunkVecs,
		EntityVectors: e.entityVecs,
		Graph:         e.graph,
		Status:        e.status,
	}, e.embedder, extractor,
		index.WithSplitter(splitter),
		index.WithRetries(cfg.Ingest.Retries, time.Duration(cfg.Ingest.BackoffSeconds)*time.Second),
	)
	if err != nil {
		return err
	}
	e.machine = progress.New(e.docs)
	e.controller = index.NewController(e.machine, e.blobs, e.parser, writer,
		index.WithSegments(cfg.Ingest.HeadSize, cfg.Ingest.SegmentSize))

	var plannerOpts []query.PlannerOption
	if cfg.Query.RerankEnabled && cfg.Query.RerankURL != "" {
		plannerOpts = append(plannerOpts, query.WithReranker(retriever.NewBgeReranker(
			retriever.WithProviderUrl(cfg.Query.RerankURL))))
	}
	e.planner = query.NewPlanner(&query.Stores{
		Chunks:        e.chunks,
		ChunkVectors:  e.chunkVecs,
		EntityVectors: e.entityVecs,
		Graph:         e.graph,
	}, e.embedder, plannerOpts...)

	prompt, err := query.LoadPrompt(cfg.Query.PromptFile)
	if err != nil {
		return err
	}
	e.streamer = query.NewStreamer(e.planner, e.llm,
		query.WithMessages(e.messages),
		query.WithDocuments(e.docs),
		query.WithStats(e.status.Processed),
		query.WithTemplate(prompt),
		query.WithSourcesHeader(cfg.Query.SourcesHeader),
		query.WithLimits(query.PromptLimits{MaxKnowledge: cfg.Query.MaxKnowledge, MaxHistory: cfg.Query.MaxHistory}),
		query.WithTemperature(cfg.LLM.Temperature),
	)
	return nil
}

// Close waits for background ingestion and releases remote connections.
func (e *Engine) Close(ctx context.Context) error {
	if e.controller != nil {
		e.controller.Wait()
	}
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	logger.Sync()
	return first
}

// Upload registers a document and stores its raw file. A failed upload
// leaves the document FAILED.
func (e *Engine) Upload(ctx context.Context, localPath, filename string, parentId *int64) (*rag.Document, error) {
	if filename == "" {
		filename = filepath.Base(localPath)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", localPath)
	}
	doc, err := e.machine.Create(ctx, filename, info.Size(), parentId)
	if err != nil {
		return nil, err
	}
	key := blob.NewKey(filename)
	url, err := e.blobs.Upload(ctx, key, localPath)
	if err != nil {
		cause := rag.NewError(rag.ErrStorageUnavailable, err, "upload blob")
		if _, ferr := e.machine.Fail(ctx, doc.Id, cause); ferr != nil {
			e.logger.Error("mark upload failed", zap.Int64("doc_id", doc.Id), zap.Error(ferr))
		}
		return nil, cause
	}
	e.logger.Info("document uploaded", zap.Int64("doc_id", doc.Id), zap.String("key", key))
	return e.machine.Uploaded(ctx, doc.Id, key, url)
}

func (e *Engine) CreateFolder(ctx context.Context, name string, parentId *int64) (*rag.Document, error) {
	return e.machine.CreateFolder(ctx, name, parentId)
}

func (e *Engine) Document(ctx context.Context, id int64) (*rag.Document, error) {
	return e.docs.Get(ctx, id)
}

func (e *Engine) Documents(ctx context.Context) ([]*rag.Document, error) {
	return e.docs.List(ctx)
}

// Ingest indexes the head of an uploaded document and returns, the tail
// continues in the background.
func (e *Engine) Ingest(ctx context.Context, id int64) error {
	return e.controller.Ingest(ctx, id)
}

// Retry moves a FAILED document back to UPLOADED and ingests it again.
func (e *Engine) Retry(ctx context.Context, id int64) error {
	if _, err := e.machine.Requeue(ctx, id); err != nil {
		return err
	}
	return e.controller.Ingest(ctx, id)
}

// Wait blocks until background ingestion has finished.
func (e *Engine) Wait() {
	e.controller.Wait()
}

// Delete removes every trace of a document: its chunks and vectors, its
// marker in the graph, the entities left without a source, its doc
// status records, the raw file and finally the row itself. A running
// ingestion of the document is stopped first.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	doc, err := e.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	log := e.logger.With(zap.Int64("doc_id", id), zap.String("marker", doc.Marker()))
	if doc.IsFolder {
		return e.docs.HardDelete(ctx, id)
	}
	release := e.controller.Cancel(id)
	defer release()

	var chunkIds []string
	err = e.chunks.Scan(ctx, func(c *rag.Chunk) bool {
		if rag.HasMarker(c.FilePath, id) {
			chunkIds = append(chunkIds, c.Id)
		}
		return true
	})
	if err != nil {
		return err
	}
	if len(chunkIds) > 0 {
		if err = e.chunkVecs.Delete(ctx, chunkIds...); err != nil {
			return err
		}
		if err = e.chunks.Delete(ctx, chunkIds...); err != nil {
			return err
		}
	}

	sub := e.graph.DocSubgraph(id)
	if _, _, err = e.graph.DeleteDoc(ctx, id); err != nil {
		return err
	}
	var gone []string
	for _, n := range sub.Entities {
		if _, ok := e.graph.Node(n.Name); !ok {
			gone = append(gone, rag.EntityId(n.Name))
		}
	}
	if len(gone) > 0 {
		if err = e.entityVecs.Delete(ctx, gone...); err != nil {
			return err
		}
	}

	var statusIds []string
	err = e.status.Scan(ctx, func(key string, st *kv.DocStatus) bool {
		if rag.HasMarker(st.FilePath, id) {
			statusIds = append(statusIds, key)
		}
		return true
	})
	if err != nil {
		return err
	}
	if err = e.status.Delete(ctx, statusIds...); err != nil {
		return err
	}

	if doc.BlobKey != "" {
		if err = e.blobs.Delete(ctx, doc.BlobKey); err != nil && !errors.Is(err, rag.ErrNotFound) {
			log.Warn("delete blob failed", zap.Error(err))
		}
	}
	if err = e.docs.HardDelete(ctx, id); err != nil {
		return err
	}
	log.Info("document deleted", zap.Int("chunks", len(chunkIds)), zap.Int("entities", len(gone)))
	return nil
}

// Rebuild clears chunks, vectors and doc status, then re-indexes every
// live document from its blob. The graph is kept and merged again. It
// returns how many documents were rebuilt.
func (e *Engine) Rebuild(ctx context.Context, excludes []int64) (int, error) {
	e.controller.Wait()
	if err := e.clearIndex(ctx); err != nil {
		return 0, err
	}
	docs, err := e.docs.List(ctx)
	if err != nil {
		return 0, err
	}
	skip := make(map[int64]bool, len(excludes))
	for _, id := range excludes {
		skip[id] = true
	}

	done := 0
	for _, doc := range docs {
		if doc.IsFolder || doc.IsDeleted || doc.BlobKey == "" || skip[doc.Id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}
		log := e.logger.With(zap.Int64("doc_id", doc.Id), zap.String("filename", doc.Filename))
		if err := e.controller.Reindex(ctx, doc); err != nil {
			log.Error("rebuild document failed", zap.Error(err))
			continue
		}
		done++
		log.Info("document rebuilt")
	}
	e.logger.Info("rebuild finished", zap.Int("documents", done), zap.Int("excluded", len(excludes)))
	return done, nil
}

func (e *Engine) clearIndex(ctx context.Context) error {
	var chunkIds []string
	if err := e.chunks.Scan(ctx, func(c *rag.Chunk) bool {
		chunkIds = append(chunkIds, c.Id)
		return true
	}); err != nil {
		return err
	}
	if err := e.chunkVecs.Delete(ctx, chunkIds...); err != nil {
		return err
	}
	if err := e.chunks.Delete(ctx, chunkIds...); err != nil {
		return err
	}

	entityIds := make([]string, 0)
	for _, n := range e.graph.Nodes() {
		entityIds = append(entityIds, rag.EntityId(n.Name))
	}
	if err := e.entityVecs.Delete(ctx, entityIds...); err != nil {
		return err
	}

	var statusIds []string
	if err := e.status.Scan(ctx, func(key string, _ *kv.DocStatus) bool {
		statusIds = append(statusIds, key)
		return true
	}); err != nil {
		return err
	}
	return e.status.Delete(ctx, statusIds...)
}

// QAStream answers req, writing the think block, the answer and the
// sources block to emit as they are produced.
func (e *Engine) QAStream(ctx context.Context, req *query.Request, emit func(string) error) (*query.Answer, error) {
	return e.streamer.Stream(ctx, e.withHistory(ctx, req), emit)
}

// QA is QAStream without streaming.
func (e *Engine) QA(ctx context.Context, req *query.Request) (*query.Answer, error) {
	return e.streamer.Answer(ctx, e.withHistory(ctx, req))
}

// withHistory returns req with the recent turns of the session loaded
// when the caller did not inject any. req itself is left untouched.
func (e *Engine) withHistory(ctx context.Context, req *query.Request) *query.Request {
	if len(req.History) > 0 || req.SessionId == "" {
		return req
	}
	msgs, err := e.messages.History(ctx, req.SessionId, historyTurns)
	if err != nil {
		e.logger.Warn("load history failed", zap.String("session_id", req.SessionId), zap.Error(err))
		return req
	}
	r := *req
	r.History = make([]string, 0, len(msgs))
	for _, m := range msgs {
		r.History = append(r.History, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return &r
}

// SearchChunks is the plain chunk search used by tools.
func (e *Engine) SearchChunks(ctx context.Context, q string, topK int, docIds []int64) ([]*query.ChunkHit, error) {
	return e.planner.SearchChunks(ctx, q, topK, docIds)
}

// GraphView returns the ranked subgraph of one document.
func (e *Engine) GraphView(docId int64, limit int) *graph.View {
	if limit <= 0 {
		limit = 200
	}
	return e.graph.Export(docId, limit)
}

// GraphData renders the document subgraph as "json", "dot" or "svg".
func (e *Engine) GraphData(ctx context.Context, docId int64, format string) ([]byte, error) {
	view := e.GraphView(docId, 0)
	if format == "json" {
		return json.MarshalIndent(view, "", "  ")
	}
	return graph.Render(ctx, view, format)
}
