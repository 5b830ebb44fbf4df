package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "./rag_storage", cfg.WorkingDir)
	assert.Equal(t, 1200, cfg.Chunk.Size)
	assert.Equal(t, 100, cfg.Chunk.Overlap)
	assert.Equal(t, 5000, cfg.Ingest.HeadSize)
	assert.Equal(t, 20000, cfg.Ingest.SegmentSize)
	assert.Equal(t, 3, cfg.Ingest.Retries)
	assert.Equal(t, 15, cfg.Query.DocTopK)
	assert.Equal(t, 50000, cfg.Query.MaxKnowledge)
	assert.Equal(t, 10000, cfg.Query.MaxHistory)
	assert.Contains(t, cfg.Extract.EntityTypes, "文件")
}

func TestLoad_FileAndDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
working_dir: /data/rag
chunk:
  strategy: semantic
  size: 800
query:
  rerank_enabled: true
embedding:
  rate: 2.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/rag", cfg.WorkingDir)
	assert.Equal(t, "semantic", cfg.Chunk.Strategy)
	assert.Equal(t, 800, cfg.Chunk.Size)
	assert.Equal(t, 100, cfg.Chunk.Overlap)
	assert.True(t, cfg.Query.RerankEnabled)
	assert.InDelta(t, 2.5, cfg.Embedding.Rate, 1e-9)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", cfg.Chunk.Strategy)
}

func TestLoad_BadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Chunk.Size = 500
	err := applyEnv(cfg, []string{
		"OPENAI_API_KEY=sk-test",
		"OPENAI_BASE_URL=http://localhost:8080/v1",
		"TIGA_LLM__BASE_URL=http://llm:8000/v1",
		"TIGA_QUERY__DOC_TOP_K=7",
		"TIGA_NEO4J__ENABLED=true",
		"TIGA_EXTRACT__ENTITY_TYPES=人物,组织",
		"TIGA_WORKING_DIR=/tmp/tiga",
		"TIGA_EMBEDDING__RATE=4",
		"UNRELATED=1",
	})
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "http://llm:8000/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, 7, cfg.Query.DocTopK)
	assert.True(t, cfg.Neo4j.Enabled)
	assert.Equal(t, []string{"人物", "组织"}, cfg.Extract.EntityTypes)
	assert.Equal(t, "/tmp/tiga", cfg.WorkingDir)
	assert.Equal(t, 500, cfg.Chunk.Size)
	assert.InDelta(t, 4.0, cfg.Embedding.Rate, 1e-9)
}

func TestLoad_MarkdownStrategy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chunk:
  strategy: markdown
  max_heading_level: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.Chunk.Strategy)
	assert.Equal(t, 2, cfg.Chunk.MaxHeadingLevel)
	assert.Equal(t, 1200, cfg.Chunk.Size)
}
