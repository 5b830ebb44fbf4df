package kv

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
)

const DocStatusFile = "kv_store_doc_status.json"

// DocStatus records what the index holds for one inserted text.
type DocStatus struct {
	Status         string   `json:"status"`
	FilePath       string   `json:"file_path"`
	ContentSummary string   `json:"content_summary"`
	ContentLength  int      `json:"content_length"`
	ChunksCount    int      `json:"chunks_count"`
	ChunkIds       []string `json:"chunk_ids"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
	Error          string   `json:"error,omitempty"`
}

const (
	DocProcessing = "processing"
	DocProcessed  = "processed"
	DocFailed     = "failed"
)

// DocStatusStore keeps kv_store_doc_status.json keyed by full doc id.
type DocStatusStore struct {
	store *Store[*DocStatus]
}

func NewDocStatusStore(workingDir string) (*DocStatusStore, error) {
	s, err := NewStore[*DocStatus](filepath.Join(workingDir, DocStatusFile))
	if err != nil {
		return nil, err
	}
	return &DocStatusStore{store: s}, nil
}

func (d *DocStatusStore) Put(ctx context.Context, id string, status *DocStatus) error {
	now := time.Now().Unix()
	if status.CreatedAt == 0 {
		status.CreatedAt = now
	}
	status.UpdatedAt = now
	return d.store.Upsert(ctx, map[string]*DocStatus{id: status})
}

func (d *DocStatusStore) Get(ctx context.Context, id string) (*DocStatus, error) {
	out, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st, ok := out[id]
	if !ok {
		return nil, rag.Errorf(rag.ErrNotFound, nil, "doc status %s", id)
	}
	return st, nil
}

func (d *DocStatusStore) Delete(ctx context.Context, ids ...string) error {
	return d.store.Delete(ctx, ids...)
}

// Scan visits every record until fn returns false.
func (d *DocStatusStore) Scan(ctx context.Context, fn func(id string, st *DocStatus) bool) error {
	return d.store.Scan(ctx, fn)
}

// Processed lists the file paths of fully processed entries.
func (d *DocStatusStore) Processed(ctx context.Context) ([]string, error) {
	var paths []string
	err := d.store.Scan(ctx, func(_ string, st *DocStatus) bool {
		if st.Status == DocProcessed {
			paths = append(paths, st.FilePath)
		}
		return true
	})
	return paths, err
}

func (d *DocStatusStore) Drop() error {
	return d.store.Drop()
}
