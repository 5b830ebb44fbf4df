package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
)

// DocumentStore keeps document rows in one JSON file, for setups
// without a database.
type DocumentStore struct {
	// serializes id allocation
	mu    sync.Mutex
	last  int64
	store *Store[*rag.Document]
}

var _ rag.DocumentStore = (*DocumentStore)(nil)

func NewDocumentStore(path string) (*DocumentStore, error) {
	s, err := NewStore[*rag.Document](path)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{store: s}, nil
}

func docKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (d *DocumentStore) Create(ctx context.Context, doc *rag.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var maxId int64
	err := d.store.Scan(ctx, func(_ string, v *rag.Document) bool {
		if v.Id > maxId {
			maxId = v.Id
		}
		return true
	})
	if err != nil {
		return err
	}
	if d.last > maxId {
		maxId = d.last
	}
	d.last = maxId + 1
	now := time.Now()
	doc.Id, doc.CreatedAt, doc.UpdatedAt = d.last, now, now
	cp := *doc
	return d.store.Upsert(ctx, map[string]*rag.Document{docKey(doc.Id): &cp})
}

func (d *DocumentStore) Get(ctx context.Context, id int64) (*rag.Document, error) {
	got, err := d.store.Get(ctx, docKey(id))
	if err != nil {
		return nil, err
	}
	doc, ok := got[docKey(id)]
	if !ok || doc.IsDeleted {
		return nil, rag.Errorf(rag.ErrNotFound, nil, "document %d", id)
	}
	cp := *doc
	return &cp, nil
}

func (d *DocumentStore) Update(ctx context.Context, doc *rag.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	got, err := d.store.Get(ctx, docKey(doc.Id))
	if err != nil {
		return err
	}
	old, ok := got[docKey(doc.Id)]
	if !ok {
		return rag.Errorf(rag.ErrNotFound, nil, "document %d", doc.Id)
	}
	doc.CreatedAt = old.CreatedAt
	doc.UpdatedAt = time.Now()
	cp := *doc
	return d.store.Upsert(ctx, map[string]*rag.Document{docKey(doc.Id): &cp})
}

func (d *DocumentStore) List(ctx context.Context) ([]*rag.Document, error) {
	var out []*rag.Document
	err := d.store.Scan(ctx, func(_ string, v *rag.Document) bool {
		if !v.IsDeleted {
			cp := *v
			out = append(out, &cp)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (d *DocumentStore) HardDelete(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Delete(ctx, docKey(id))
}
