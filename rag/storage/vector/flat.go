package vector

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
)

const (
	metaFile = "meta.json"
	dataFile = "data.json"
)

// TableDir names the directory of a table, the dimension is part of the name.
func TableDir(workingDir, name string, dim int) string {
	return filepath.Join(workingDir, fmt.Sprintf("vdb_%s_%d", name, dim))
}

type tableMeta struct {
	Name string `json:"name"`
	Dim  int    `json:"dim"`
}

// Flat is an exact cosine-similarity table persisted as JSON.
type Flat struct {
	dir  string
	name string
	dim  int

	mu      sync.RWMutex
	records map[string]*rag.VectorRecord
}

var _ rag.VectorStore = (*Flat)(nil)

// OpenFlat opens or creates the table. A table written with another
// dimension fails with rag.ErrDimensionMismatch.
func OpenFlat(workingDir, name string, dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "invalid dimension %d", dim)
	}
	f := &Flat{
		dir:     TableDir(workingDir, name, dim),
		name:    name,
		dim:     dim,
		records: make(map[string]*rag.VectorRecord),
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "create vector table dir")
	}

	raw, err := os.ReadFile(filepath.Join(f.dir, metaFile))
	switch {
	case os.IsNotExist(err):
		if err := writeJSON(filepath.Join(f.dir, metaFile), tableMeta{Name: name, Dim: dim}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "read vector table meta")
	default:
		var meta tableMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, rag.NewError(rag.ErrStorageUnavailable, err, "decode vector table meta")
		}
		if meta.Dim != dim {
			return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "table %s holds %d-d vectors, engine uses %d", name, meta.Dim, dim)
		}
	}

	raw, err = os.ReadFile(filepath.Join(f.dir, dataFile))
	if err == nil && len(raw) > 0 {
		var records []*rag.VectorRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, rag.NewError(rag.ErrStorageUnavailable, err, "decode vector table")
		}
		for _, r := range records {
			if len(r.Vector) != dim {
				return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "record %s has %d-d vector, table is %d", r.Id, len(r.Vector), dim)
			}
			f.records[r.Id] = r
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "read vector table")
	}
	return f, nil
}

func (f *Flat) Dim() int {
	return f.dim
}

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

func (f *Flat) Upsert(_ context.Context, records []*rag.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != f.dim {
			return rag.Errorf(rag.ErrDimensionMismatch, nil, "record %s has %d-d vector, table is %d", r.Id, len(r.Vector), f.dim)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.records[r.Id] = r
	}
	return f.flushLocked()
}

func (f *Flat) Query(ctx context.Context, vector []float32, topK int) ([]*rag.VectorHit, error) {
	if len(vector) != f.dim {
		return nil, rag.Errorf(rag.ErrDimensionMismatch, nil, "query has %d-d vector, table is %d", len(vector), f.dim)
	}
	if topK <= 0 {
		return []*rag.VectorHit{}, nil
	}
	qn := norm(vector)

	f.mu.RLock()
	hits := make([]*rag.VectorHit, 0, len(f.records))
	for _, r := range f.records {
		if err := ctx.Err(); err != nil {
			f.mu.RUnlock()
			return nil, err
		}
		hits = append(hits, &rag.VectorHit{
			Id:       r.Id,
			Score:    cosine(vector, r.Vector, qn),
			Content:  r.Content,
			FilePath: r.FilePath,
		})
	}
	f.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].Id < hits[j].Id
		}
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *Flat) Delete(_ context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.records)
	for _, id := range ids {
		delete(f.records, id)
	}
	if n == len(f.records) {
		return nil
	}
	return f.flushLocked()
}

// Drop deletes the table directory.
func (f *Flat) Drop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make(map[string]*rag.VectorRecord)
	return errors.Wrap(os.RemoveAll(f.dir), "remove vector table")
}

func (f *Flat) flushLocked() error {
	records := make([]*rag.VectorRecord, 0, len(f.records))
	for _, r := range f.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Id < records[j].Id })
	return writeJSON(filepath.Join(f.dir, dataFile), records)
}

func writeJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode vector table")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "write "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "rename "+tmp)
	}
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(q, v []float32, qn float64) float64 {
	vn := norm(v)
	if qn == 0 || vn == 0 {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	return dot / (qn * vn)
}
