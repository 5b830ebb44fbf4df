package progress

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"go.uber.org/zap"
)

var noteRe = regexp.MustCompile(`index_progress:(\d+)/(\d+)`)

// Note renders index_progress:{done}/{total}, with an optional "(detail)".
func Note(done, total int, detail string) string {
	n := fmt.Sprintf("index_progress:%d/%d", done, total)
	if detail != "" {
		n += " (" + detail + ")"
	}
	return n
}

// Parse recovers done and total from a progress note.
func Parse(note string) (done, total int, ok bool) {
	m := noteRe.FindStringSubmatch(note)
	if m == nil {
		return 0, 0, false
	}
	done, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return done, total, true
}

// Percent is round(100·done/total), 0 when the note carries no progress.
func Percent(note string) int {
	done, total, ok := Parse(note)
	if !ok || total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Machine owns every write of Document.Status and Document.ProgressNote.
type Machine struct {
	docs   rag.DocumentStore
	mu     sync.Mutex
	logger *zap.Logger
}

func New(docs rag.DocumentStore) *Machine {
	return &Machine{docs: docs, logger: logger.Named("progress")}
}

// Create registers a new upload in UPLOADING.
func (m *Machine) Create(ctx context.Context, filename string, size int64, parentId *int64) (*rag.Document, error) {
	doc := &rag.Document{
		Filename: filename,
		Size:     size,
		ParentId: parentId,
		Status:   rag.StatusUploading,
	}
	if err := m.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CreateFolder bypasses the machine, folders are born INDEXED.
func (m *Machine) CreateFolder(ctx context.Context, name string, parentId *int64) (*rag.Document, error) {
	doc := &rag.Document{
		Filename: name,
		ParentId: parentId,
		IsFolder: true,
		Status:   rag.StatusIndexed,
	}
	if err := m.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Document reads the current row without changing it.
func (m *Machine) Document(ctx context.Context, id int64) (*rag.Document, error) {
	return m.docs.Get(ctx, id)
}

// transition loads the document, checks the source state and applies fn
// under the machine lock, so two callers never both leave the same state.
func (m *Machine) transition(ctx context.Context, id int64, to rag.DocStatus, allowed func(*rag.Document) error, apply func(*rag.Document)) (*rag.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.IsFolder {
		return nil, rag.Errorf(rag.ErrInvalidTransition, nil, "document %d is a folder", id)
	}
	if err := allowed(doc); err != nil {
		return nil, err
	}
	from := doc.Status
	doc.Status = to
	apply(doc)
	if err := m.docs.Update(ctx, doc); err != nil {
		return nil, err
	}
	if from != to {
		m.logger.Info("document status changed", zap.Int64("doc_id", id),
			zap.String("from", string(from)), zap.String("to", string(to)),
			zap.String("note", doc.ProgressNote))
	}
	return doc, nil
}

func from(states ...rag.DocStatus) func(*rag.Document) error {
	return func(doc *rag.Document) error {
		for _, s := range states {
			if doc.Status == s {
				return nil
			}
		}
		return rag.Errorf(rag.ErrInvalidTransition, nil, "document %d is %s", doc.Id, doc.Status)
	}
}

// Uploaded records the blob location: UPLOADING → UPLOADED.
func (m *Machine) Uploaded(ctx context.Context, id int64, key, url string) (*rag.Document, error) {
	return m.transition(ctx, id, rag.StatusUploaded, from(rag.StatusUploading), func(d *rag.Document) {
		d.BlobKey, d.BlobURL = key, url
		d.ProgressNote = ""
	})
}

// StartIndexing claims the document for one ingestion: UPLOADED → INDEXING.
// The total is not known before parsing, so the note starts as "parsing".
func (m *Machine) StartIndexing(ctx context.Context, id int64) (*rag.Document, error) {
	return m.transition(ctx, id, rag.StatusIndexing, from(rag.StatusUploaded), func(d *rag.Document) {
		d.ProgressNote = "parsing"
	})
}

// Tick records a completed segment, INDEXING → INDEXING.
func (m *Machine) Tick(ctx context.Context, id int64, done, total int, detail string) (*rag.Document, error) {
	check := func(d *rag.Document) error {
		if err := from(rag.StatusIndexing)(d); err != nil {
			return err
		}
		if total <= 0 || done < 0 || done > total {
			return rag.Errorf(rag.ErrInvalidTransition, nil, "bad progress %d/%d", done, total)
		}
		if prev, prevTotal, ok := Parse(d.ProgressNote); ok && prevTotal == total && done < prev {
			return rag.Errorf(rag.ErrInvalidTransition, nil, "progress went back from %d to %d", prev, done)
		}
		return nil
	}
	return m.transition(ctx, id, rag.StatusIndexing, check, func(d *rag.Document) {
		d.ProgressNote = Note(done, total, detail)
	})
}

// Indexed finishes ingestion, allowed only once every segment is done.
func (m *Machine) Indexed(ctx context.Context, id int64) (*rag.Document, error) {
	var total int
	check := func(d *rag.Document) error {
		if err := from(rag.StatusIndexing)(d); err != nil {
			return err
		}
		done, t, ok := Parse(d.ProgressNote)
		if !ok || done != t {
			return rag.Errorf(rag.ErrInvalidTransition, nil, "document %d not complete: %q", d.Id, d.ProgressNote)
		}
		total = t
		return nil
	}
	return m.transition(ctx, id, rag.StatusIndexed, check, func(d *rag.Document) {
		d.ProgressNote = Note(total, total, "")
	})
}

// Fail moves any state to FAILED and keeps the error on the note.
func (m *Machine) Fail(ctx context.Context, id int64, cause error) (*rag.Document, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return m.transition(ctx, id, rag.StatusFailed, func(*rag.Document) error { return nil }, func(d *rag.Document) {
		if done, total, ok := Parse(d.ProgressNote); ok {
			d.ProgressNote = Note(done, total, "failed: "+msg)
			return
		}
		d.ProgressNote = "failed: " + msg
	})
}

// Requeue sends an indexed or failed document back to UPLOADED so it can
// be ingested again. The blob must still be there.
func (m *Machine) Requeue(ctx context.Context, id int64) (*rag.Document, error) {
	check := func(d *rag.Document) error {
		if err := from(rag.StatusIndexed, rag.StatusFailed)(d); err != nil {
			return err
		}
		if d.BlobKey == "" {
			return rag.Errorf(rag.ErrInvalidTransition, nil, "document %d has no blob", d.Id)
		}
		return nil
	}
	return m.transition(ctx, id, rag.StatusUploaded, check, func(d *rag.Document) {
		d.ProgressNote = ""
	})
}
