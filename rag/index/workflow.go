package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/rag/progress"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TextParser turns a local file into normalized text.
type TextParser interface {
	Parse(ctx context.Context, filePath string) (string, error)
}

// Controller drives one document from UPLOADED to INDEXED. The head
// segment is written before Ingest returns, the tail is written in the
// background one segment at a time.
type Controller struct {
	machine *progress.Machine
	blobs   rag.BlobStore
	parser  TextParser
	writer  *Writer
	head    int
	size    int
	tempDir string
	wg      sync.WaitGroup
	logger  *zap.Logger

	mu       sync.Mutex
	jobs     map[int64]*job
	deleting map[int64]struct{}
}

// job is one running ingestion, head and tail included.
type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(machine *progress.Machine, blobs rag.BlobStore, parser TextParser, writer *Writer, opts ...ControllerOption) *Controller {
	o := &ControllerOptions{HeadSize: DefaultHeadSize, SegmentSize: DefaultSegmentSize}
	for _, opt := range opts {
		opt(o)
	}
	return &Controller{
		machine: machine,
		blobs:   blobs,
		parser:  parser,
		writer:  writer,
		head:    o.HeadSize,
		size:    o.SegmentSize,
		tempDir:  o.TempDir,
		logger:   logger.Named("ingest"),
		jobs:     make(map[int64]*job),
		deleting: make(map[int64]struct{}),
	}
}

// Writer exposes the write path used by Ingest.
func (c *Controller) Writer() *Writer {
	return c.writer
}

// Ingest claims the document by moving it to INDEXING. Only one caller
// can win the claim, the others get rag.ErrInvalidTransition.
func (c *Controller) Ingest(ctx context.Context, id int64) error {
	doc, j, err := c.claim(ctx, id)
	if err != nil {
		return err
	}
	tailing := false
	defer func() {
		if !tailing {
			c.finish(id, j)
		}
	}()
	log := c.logger.With(zap.Int64("doc_id", id), zap.String("marker", doc.Marker()))

	// the head follows the caller's ctx, the tail only follows Cancel
	bg := j.ctx
	head, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(bg, stop)()

	segments, err := c.load(head, doc)
	if err != nil {
		return c.fail(bg, id, err, log)
	}
	total := len(segments)
	if _, err = c.machine.Tick(head, id, 0, total, fmt.Sprintf("%d 段", total)); err != nil {
		return err
	}

	if err = c.writer.InsertText(head, segments[0], doc.Marker()); err != nil {
		return c.fail(bg, id, err, log)
	}
	if _, err = c.machine.Tick(head, id, 1, total, ""); err != nil {
		return err
	}
	if total == 1 {
		_, err = c.machine.Indexed(head, id)
		log.Info("document indexed", zap.Int("segments", total))
		return err
	}

	tailing = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finish(id, j)
		for i := 1; i < total; i++ {
			if !c.alive(bg, id) {
				log.Info("ingestion stopped", zap.Int("segment", i))
				return
			}
			if err := c.writer.InsertSegment(bg, segments[i], doc.Marker(), i); err != nil {
				if bg.Err() != nil {
					log.Info("ingestion stopped", zap.Int("segment", i))
					return
				}
				_ = c.fail(bg, id, err, log)
				return
			}
			if _, err := c.machine.Tick(bg, id, i+1, total, ""); err != nil {
				log.Error("progress tick failed", zap.Error(err))
				return
			}
		}
		if _, err := c.machine.Indexed(bg, id); err != nil {
			log.Error("finish indexing failed", zap.Error(err))
			return
		}
		log.Info("document indexed", zap.Int("segments", total))
	}()
	return nil
}

// Cancel stops the ingestion of id, waits for its writes to settle and
// refuses new ingestions of id until release is called.
func (c *Controller) Cancel(id int64) (release func()) {
	c.mu.Lock()
	c.deleting[id] = struct{}{}
	j := c.jobs[id]
	c.mu.Unlock()
	if j != nil {
		j.cancel()
		<-j.done
	}
	return func() {
		c.mu.Lock()
		delete(c.deleting, id)
		c.mu.Unlock()
	}
}

func (c *Controller) claim(ctx context.Context, id int64) (*rag.Document, *job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deleting[id]; ok {
		return nil, nil, rag.Errorf(rag.ErrInvalidTransition, nil, "document %d is being deleted", id)
	}
	doc, err := c.machine.StartIndexing(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	j := &job{done: make(chan struct{})}
	j.ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.jobs[id] = j
	return doc, j, nil
}

func (c *Controller) finish(id int64, j *job) {
	c.mu.Lock()
	if c.jobs[id] == j {
		delete(c.jobs, id)
	}
	c.mu.Unlock()
	j.cancel()
	close(j.done)
}

// alive reports whether the tail should keep writing id.
func (c *Controller) alive(ctx context.Context, id int64) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := c.machine.Document(ctx, id)
	return err == nil
}

// Reindex writes every segment of doc synchronously without touching its
// status. Used when rebuilding vectors after a dimension change.
func (c *Controller) Reindex(ctx context.Context, doc *rag.Document) error {
	segments, err := c.load(ctx, doc)
	if err != nil {
		return err
	}
	for i, s := range segments {
		if err = c.writer.InsertSegment(ctx, s, doc.Marker(), i); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every background tail has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) load(ctx context.Context, doc *rag.Document) ([]string, error) {
	if doc.BlobKey == "" {
		return nil, rag.Errorf(rag.ErrNotFound, nil, "document %d has no blob", doc.Id)
	}
	dir, err := os.MkdirTemp(c.tempDir, "tiga-ingest-")
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, filepath.Base(doc.Filename))
	if err = c.blobs.Download(ctx, doc.BlobKey, local); err != nil {
		if errors.Is(err, rag.ErrNotFound) {
			return nil, err
		}
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "download blob")
	}
	text, err := c.parser.Parse(ctx, local)
	if err != nil {
		return nil, err
	}
	segments := Segment(text, c.head, c.size)
	if len(segments) == 0 {
		return nil, rag.NewError(rag.ErrParse, nil, "document is empty")
	}
	return segments, nil
}

func (c *Controller) fail(ctx context.Context, id int64, cause error, log *zap.Logger) error {
	log.Error("ingestion failed", zap.Error(cause))
	if _, err := c.machine.Fail(ctx, id, cause); err != nil {
		log.Error("mark failed", zap.Error(err))
	}
	return cause
}
