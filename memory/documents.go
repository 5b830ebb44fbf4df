package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
)

// Documents is an in-process DocumentStore used when no database is configured.
type Documents struct {
	mu     sync.RWMutex
	nextId int64
	docs   map[int64]*rag.Document
}

var _ rag.DocumentStore = (*Documents)(nil)

func NewDocuments() *Documents {
	return &Documents{docs: make(map[int64]*rag.Document)}
}

func (d *Documents) Create(ctx context.Context, doc *rag.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextId++
	now := time.Now()
	doc.Id, doc.CreatedAt, doc.UpdatedAt = d.nextId, now, now
	cp := *doc
	d.docs[doc.Id] = &cp
	return nil
}

func (d *Documents) Get(ctx context.Context, id int64) (*rag.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[id]
	if !ok || doc.IsDeleted {
		return nil, rag.Errorf(rag.ErrNotFound, nil, "document %d", id)
	}
	cp := *doc
	return &cp, nil
}

func (d *Documents) Update(ctx context.Context, doc *rag.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old, ok := d.docs[doc.Id]
	if !ok {
		return rag.Errorf(rag.ErrNotFound, nil, "document %d", doc.Id)
	}
	doc.CreatedAt = old.CreatedAt
	doc.UpdatedAt = time.Now()
	cp := *doc
	d.docs[doc.Id] = &cp
	return nil
}

func (d *Documents) List(ctx context.Context) ([]*rag.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*rag.Document, 0, len(d.docs))
	for _, doc := range d.docs {
		if doc.IsDeleted {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (d *Documents) HardDelete(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.docs, id)
	return nil
}
