package vector

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "vdb_chunks_1536", CollectionName("", "chunks", 1536))
	assert.Equal(t, "tiga_vdb_entities_768", CollectionName("tiga", "entities", 768))
}

func TestQdrant(t *testing.T) {
	host := os.Getenv("TIGA_QDRANT_HOST")
	if host == "" {
		t.Skip("TIGA_QDRANT_HOST not set")
	}
	port := 6334
	if p, err := strconv.Atoi(os.Getenv("TIGA_QDRANT_PORT")); err == nil {
		port = p
	}
	client, err := NewQdrantClient(QdrantConfig{Host: host, Port: port, APIKey: os.Getenv("TIGA_QDRANT_API_KEY")})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	prefix := "test" + uuid.NewString()[:8]
	q, err := OpenQdrant(ctx, client, prefix, "chunks", 3)
	require.NoError(t, err)
	defer func() { _ = q.Drop(ctx) }()

	require.NoError(t, q.Upsert(ctx, []*rag.VectorRecord{
		{Id: "chunk-x", Vector: []float32{1, 0, 0}, Content: "x", FilePath: "doc#1:a.txt"},
		{Id: "chunk-y", Vector: []float32{0, 1, 0}, Content: "y", FilePath: "doc#2:b.txt"},
	}))
	hits, err := q.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk-x", hits[0].Id)
	assert.Equal(t, "doc#1:a.txt", hits[0].FilePath)

	err = q.Upsert(ctx, []*rag.VectorRecord{{Id: "bad", Vector: []float32{1}}})
	assert.ErrorIs(t, err, rag.ErrDimensionMismatch)

	require.NoError(t, q.Delete(ctx, "chunk-x"))
	hits, err = q.Query(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "chunk-x", h.Id)
	}
}
