package kv

import (
	"context"
	"path/filepath"

	"github.com/bigf625oot/Tiga-sub000/rag"
)

const ChunksFile = "kv_store_text_chunks.json"

// ChunkStore keeps chunk records in kv_store_text_chunks.json.
type ChunkStore struct {
	store *Store[*rag.Chunk]
}

var _ rag.ChunkStore = (*ChunkStore)(nil)

func NewChunkStore(workingDir string) (*ChunkStore, error) {
	s, err := NewStore[*rag.Chunk](filepath.Join(workingDir, ChunksFile))
	if err != nil {
		return nil, err
	}
	return &ChunkStore{store: s}, nil
}

func (c *ChunkStore) Upsert(ctx context.Context, chunks []*rag.Chunk) error {
	items := make(map[string]*rag.Chunk, len(chunks))
	for _, chunk := range chunks {
		items[chunk.Id] = chunk
	}
	return c.store.Upsert(ctx, items)
}

func (c *ChunkStore) Get(ctx context.Context, ids ...string) (map[string]*rag.Chunk, error) {
	out, err := c.store.Get(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for id, chunk := range out {
		chunk.Id = id
	}
	return out, nil
}

func (c *ChunkStore) Scan(ctx context.Context, fn func(c *rag.Chunk) bool) error {
	return c.store.Scan(ctx, func(id string, chunk *rag.Chunk) bool {
		chunk.Id = id
		return fn(chunk)
	})
}

func (c *ChunkStore) Delete(ctx context.Context, ids ...string) error {
	return c.store.Delete(ctx, ids...)
}

func (c *ChunkStore) Len() int {
	return c.store.Len()
}

func (c *ChunkStore) Drop() error {
	return c.store.Drop()
}
