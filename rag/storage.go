package rag

import (
	"context"
)

// ChunkStore is the chunk KV store keyed by chunk id.
type ChunkStore interface {
	Upsert(ctx context.Context, chunks []*Chunk) error
	Get(ctx context.Context, ids ...string) (map[string]*Chunk, error)
	// Scan visits every chunk until fn returns false
	Scan(ctx context.Context, fn func(c *Chunk) bool) error
	Delete(ctx context.Context, ids ...string) error
}

// VectorStore is one vector table. All vectors share the same dimension.
type VectorStore interface {
	Dim() int
	Upsert(ctx context.Context, records []*VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int) ([]*VectorHit, error)
	Delete(ctx context.Context, ids ...string) error
}

// BlobStore keeps raw uploaded files.
type BlobStore interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Download(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string) (string, error)
}

// DocumentStore persists Document rows.
type DocumentStore interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id int64) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	List(ctx context.Context) ([]*Document, error)
	HardDelete(ctx context.Context, id int64) error
}

// ChatMessage is one persisted turn of a QA session.
type ChatMessage struct {
	SessionId string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []*Source `json:"sources,omitempty"`
	CreatedAt int64     `json:"created_at"`
}

// MessageStore is the opaque session/message persistence layer.
type MessageStore interface {
	Append(ctx context.Context, msg *ChatMessage) error
	History(ctx context.Context, sessionId string, limit int) ([]*ChatMessage, error)
}
