package dimension

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"go.uber.org/zap"
)

const MetaFile = "vector_dim.meta"

var tableDirRe = regexp.MustCompile(`^vdb_.+_(\d+)$`)

// Manager keeps the vector tables in line with the embedding dimension.
// On a mismatch everything in the working directory except GraphML files
// is removed, the graph survives a model switch.
type Manager struct {
	workingDir string
	onReset    []func(ctx context.Context, old, cur int) error
	logger     *zap.Logger
}

type Option func(*Manager)

// WithOnReset registers a hook run after the working directory was wiped,
// used to drop in-memory store references and remote collections.
func WithOnReset(fn func(ctx context.Context, old, cur int) error) Option {
	return func(m *Manager) {
		m.onReset = append(m.onReset, fn)
	}
}

func New(workingDir string, opts ...Option) *Manager {
	m := &Manager{workingDir: workingDir, logger: logger.Named("dimension")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) metaPath() string {
	return filepath.Join(m.workingDir, MetaFile)
}

// Read returns the recorded dimension, 0 when nothing is recorded.
func (m *Manager) Read() (int, error) {
	b, err := os.ReadFile(m.metaPath())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, rag.NewError(rag.ErrStorageUnavailable, err, "read dimension meta")
	}
	dim, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		m.logger.Warn("dimension meta unreadable, treating as unset", zap.String("content", string(b)))
		return 0, nil
	}
	return dim, nil
}

func (m *Manager) Write(dim int) error {
	if err := os.MkdirAll(m.workingDir, 0o755); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "create working dir")
	}
	if err := os.WriteFile(m.metaPath(), []byte(strconv.Itoa(dim)), 0o644); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "write dimension meta")
	}
	return nil
}

// tableDims lists the dimensions encoded in vdb_* directory names.
func (m *Manager) tableDims() []int {
	entries, err := os.ReadDir(m.workingDir)
	if err != nil {
		return nil
	}
	var dims []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if sub := tableDirRe.FindStringSubmatch(e.Name()); sub != nil {
			if d, err := strconv.Atoi(sub[1]); err == nil {
				dims = append(dims, d)
			}
		}
	}
	return dims
}

// Reconcile compares the probed dimension with the recorded one and wipes
// the embeddings when they differ. Both chunk and entity tables go.
func (m *Manager) Reconcile(ctx context.Context, probed int) (bool, error) {
	if probed <= 0 {
		return false, rag.Errorf(rag.ErrDimensionMismatch, nil, "invalid probed dimension %d", probed)
	}
	recorded, err := m.Read()
	if err != nil {
		return false, err
	}
	if recorded == probed {
		return false, nil
	}

	stale := recorded != 0
	if recorded == 0 {
		for _, d := range m.tableDims() {
			if d != probed {
				stale, recorded = true, d
				break
			}
		}
	}
	if !stale {
		return false, m.Write(probed)
	}

	m.logger.Warn("embedding dimension changed, clearing vector and chunk stores",
		zap.Int("recorded", recorded), zap.Int("probed", probed))
	if err := m.Clean(); err != nil {
		return false, err
	}
	for _, fn := range m.onReset {
		if err := fn(ctx, recorded, probed); err != nil {
			m.logger.Warn("reset hook failed", zap.Error(err))
		}
	}
	return true, m.Write(probed)
}

// Clean removes every entry of the working directory except GraphML files.
func (m *Manager) Clean() error {
	entries, err := os.ReadDir(m.workingDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "list working dir")
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".graphml") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.workingDir, e.Name())); err != nil {
			m.logger.Warn("remove failed", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	m.logger.Info("working dir cleaned", zap.Int("removed", removed))
	return nil
}
