package engine

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/config"
	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/memory"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/bigf625oot/Tiga-sub000/rag/storage/blob"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceGraph = `{"nodes":{"n1":{"name":"Alice","type":"人物","attributes":{"description":"Acme 员工"}},
"n2":{"name":"Acme","type":"组织"}},"edges":{"e1":{"source":"n1","target":"n2","label":"加入"}}}`

// scriptLLM answers extraction prompts with a fixed graph and QA prompts
// with answer.
type scriptLLM struct {
	mu      sync.Mutex
	answer  string
	prompts []string
	// extraction prompts containing hold block until their ctx is done
	hold    string
	entered chan struct{}
}

func (s *scriptLLM) GenerateContent(ctx context.Context, msgs []llm.Message, options ...llm.GenerateOption) (*llm.Generation, error) {
	opts := llm.DefaultGenerateOption()
	for _, opt := range options {
		opt(opts)
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	prompt := b.String()
	if !strings.Contains(prompt, query.ChunkHeader) {
		if s.hold != "" && strings.Contains(prompt, s.hold) {
			select {
			case s.entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &llm.Generation{Content: aliceGraph}, nil
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(s.answer)); err != nil {
			return nil, err
		}
	}
	return &llm.Generation{Content: s.answer}, nil
}

func (s *scriptLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Generation, error) {
	return s.GenerateContent(ctx, []llm.Message{llm.NewUserMessage("", prompt)}, opts...)
}

func (s *scriptLLM) Model() string { return "script" }

func (s *scriptLLM) qaPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

type hashEmbed struct {
	dim int
}

func (h *hashEmbed) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		f := fnv.New32a()
		f.Write([]byte(in))
		s := f.Sum32()
		v := make([]float32, h.dim)
		for j := range v {
			v[j] = float32((s>>(uint(j)%32))&0xf) + 1
		}
		out[i] = v
	}
	return out, nil
}

type failingBlobs struct {
	rag.BlobStore
}

func (failingBlobs) Upload(context.Context, string, string) (string, error) {
	return "", errors.New("bucket unreachable")
}

type env struct {
	dir   string
	cfg   *config.Config
	docs  *memory.Documents
	blobs *blob.Local
	llm   *scriptLLM
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkingDir = filepath.Join(dir, "rag")
	cfg.Blob.Root = filepath.Join(dir, "blobs")
	cfg.Extract.Rate = 1000
	cfg.Ingest.BackoffSeconds = 0
	blobs, err := blob.NewLocal(cfg.Blob.Root)
	require.NoError(t, err)
	return &env{
		dir:   dir,
		cfg:   cfg,
		docs:  memory.NewDocuments(),
		blobs: blobs,
		llm:   &scriptLLM{answer: "Alice 加入了 Acme[1]。"},
	}
}

func (v *env) engine(t *testing.T, dim int, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithLLM(v.llm),
		WithEmbedClient(&hashEmbed{dim: dim}),
		WithDocuments(v.docs),
		WithBlobs(v.blobs),
	}, opts...)
	e := New(v.cfg, opts...)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func (v *env) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(v.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func ingest(t *testing.T, e *Engine, path string) *rag.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := e.Upload(ctx, path, "", nil)
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, doc.Id))
	e.Wait()
	doc, err = e.Document(ctx, doc.Id)
	require.NoError(t, err)
	require.Equal(t, rag.StatusIndexed, doc.Status, doc.ProgressNote)
	return doc
}

func TestEngine_UploadIngestAsk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	e := v.engine(t, 4)
	doc := ingest(t, e, v.file(t, "alice.txt", "Alice 在 2024 年加入了 Acme 公司。"))
	assert.True(t, strings.HasPrefix(doc.BlobKey, blob.KeyPrefix))
	assert.True(t, strings.HasSuffix(doc.ProgressNote, "index_progress:1/1"))

	var out strings.Builder
	ans, err := e.QAStream(ctx, &query.Request{Query: "Alice 加入了哪家公司", Scope: query.ScopeDoc, DocId: doc.Id, SessionId: "s"},
		func(s string) error {
			out.WriteString(s)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "Alice 加入了 Acme[1]。", ans.Text)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "alice.txt", ans.Sources[0].Title)
	assert.Contains(t, out.String(), "[1] alice.txt")

	prompts := v.llm.qaPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "知识库现有 1 篇已处理文档")

	// the next turn of the session sees the first one
	next := &query.Request{Query: "她什么时候加入的", Scope: query.ScopeDoc, DocId: doc.Id, SessionId: "s"}
	_, err = e.QA(ctx, next)
	require.NoError(t, err)
	prompts = v.llm.qaPrompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "assistant: Alice 加入了 Acme[1]。")
	assert.Nil(t, next.History)
	assert.Equal(t, query.ScopeDoc, next.Scope)

	// reusing the request still loads the session afresh
	_, err = e.QA(ctx, next)
	require.NoError(t, err)
	prompts = v.llm.qaPrompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[2], "user: 她什么时候加入的")
	assert.Nil(t, next.History)

	hits, err := e.SearchChunks(ctx, "Alice", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "alice.txt", hits[0].Title)
	assert.Equal(t, doc.Id, hits[0].DocId)

	data, err := e.GraphData(ctx, doc.Id, "json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Alice"`)
	assert.Contains(t, string(data), `"alice.txt"`)
}

func TestEngine_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	e := v.engine(t, 4)
	doc := ingest(t, e, v.file(t, "alice.txt", "Alice 在 2024 年加入了 Acme 公司。"))
	other := ingest(t, e, v.file(t, "acme.txt", "Acme 是一家公司。"))

	require.NoError(t, e.Delete(ctx, doc.Id))

	_, err := e.Document(ctx, doc.Id)
	assert.ErrorIs(t, err, rag.ErrNotFound)
	err = e.chunks.Scan(ctx, func(c *rag.Chunk) bool {
		assert.False(t, rag.HasMarker(c.FilePath, doc.Id), c.FilePath)
		return true
	})
	require.NoError(t, err)
	assert.Positive(t, e.chunks.Len())

	// Alice is sourced by both documents through the shared extraction
	alice, ok := e.graph.Node("Alice")
	require.True(t, ok)
	assert.False(t, rag.HasMarker(alice.SourceId, doc.Id))
	assert.True(t, rag.HasMarker(alice.SourceId, other.Id))
	_, ok = e.graph.Node("alice.txt")
	assert.False(t, ok)

	processed, err := e.status.Processed(ctx)
	require.NoError(t, err)
	for _, p := range processed {
		assert.False(t, rag.HasMarker(p, doc.Id))
	}
	assert.ErrorIs(t, v.blobs.Download(ctx, doc.BlobKey, filepath.Join(v.dir, "gone")), rag.ErrNotFound)
}

func TestEngine_DeleteWhileIndexing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	head := "Alice 在 2024 年加入了 Acme 公司。"
	v.cfg.Ingest.HeadSize = len([]rune(head))
	v.cfg.Ingest.SegmentSize = 20
	v.llm.hold = "Bob"
	v.llm.entered = make(chan struct{}, 1)
	e := v.engine(t, 4)

	doc, err := e.Upload(ctx, v.file(t, "long.txt", head+strings.Repeat("Bob 也加入了。", 4)), "", nil)
	require.NoError(t, err)
	require.NoError(t, e.Ingest(ctx, doc.Id))
	<-v.llm.entered

	require.NoError(t, e.Delete(ctx, doc.Id))
	e.Wait()

	_, err = e.Document(ctx, doc.Id)
	assert.ErrorIs(t, err, rag.ErrNotFound)
	assert.Zero(t, e.chunks.Len())
	_, ok := e.graph.Node("Alice")
	assert.False(t, ok)
	processed, err := e.status.Processed(ctx)
	require.NoError(t, err)
	assert.Empty(t, processed)
}

func TestEngine_DimensionChangeAndRebuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	first := v.engine(t, 4)
	doc := ingest(t, first, v.file(t, "alice.txt", "Alice 在 2024 年加入了 Acme 公司。"))
	require.NoError(t, first.Close(ctx))

	second := v.engine(t, 8)
	assert.Zero(t, second.chunks.Len())
	_, ok := second.graph.Node("Alice")
	assert.True(t, ok, "graph survives a dimension change")
	_, err := os.Stat(filepath.Join(v.cfg.WorkingDir, "vdb_chunks_4"))
	assert.True(t, os.IsNotExist(err))

	// doc scope falls back to the literal answer until the rebuild
	ans, err := second.QA(ctx, &query.Request{Query: "Alice", Scope: query.ScopeDoc, DocId: doc.Id})
	require.NoError(t, err)
	assert.Equal(t, query.NoAnswer, ans.Text)

	n, err := second.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Positive(t, second.chunks.Len())
	assert.Equal(t, 8, second.chunkVecs.Dim())

	ans, err = second.QA(ctx, &query.Request{Query: "Alice", Scope: query.ScopeDoc, DocId: doc.Id})
	require.NoError(t, err)
	assert.Equal(t, "Alice 加入了 Acme[1]。", ans.Text)
}

func TestEngine_EmbeddingRate(t *testing.T) {
	t.Parallel()

	v := newEnv(t)
	assert.Zero(t, v.engine(t, 4).embedder.Rate())

	v = newEnv(t)
	v.cfg.Embedding.Rate = 50
	assert.InDelta(t, 50.0, v.engine(t, 4).embedder.Rate(), 1e-9)
}

func TestEngine_MarkdownChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	v.cfg.Chunk.Strategy = "markdown"
	e := v.engine(t, 4)
	ingest(t, e, v.file(t, "guide.md", "# 指南\n\n## 安装\n\n运行安装脚本。\n\n## 使用\n\n打开应用。\n"))

	var found bool
	require.NoError(t, e.chunks.Scan(ctx, func(c *rag.Chunk) bool {
		if strings.Contains(c.Content, "打开应用") {
			found = true
			assert.Contains(t, c.Content, "## 使用")
			assert.NotContains(t, c.Content, "运行安装脚本")
		}
		return true
	}))
	assert.True(t, found)
}

func TestEngine_UploadFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	e := v.engine(t, 4, WithBlobs(failingBlobs{}))

	_, err := e.Upload(ctx, v.file(t, "a.txt", "内容"), "", nil)
	require.ErrorIs(t, err, rag.ErrStorageUnavailable)

	docs, err := e.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, rag.StatusFailed, docs[0].Status)
}

func TestEngine_RetryAfterParseFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := newEnv(t)
	e := v.engine(t, 4)

	doc, err := e.Upload(ctx, v.file(t, "blank.txt", "   \n  "), "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Ingest(ctx, doc.Id), rag.ErrParse)
	doc, err = e.Document(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, rag.StatusFailed, doc.Status)

	// the blob is kept, so a retry reaches the parser again
	assert.ErrorIs(t, e.Retry(ctx, doc.Id), rag.ErrParse)
}
