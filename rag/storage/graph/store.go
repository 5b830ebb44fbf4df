package graph

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const File = "graph_chunk_entity_relation.graphml"

// Mirror receives every change applied to the local graph.
type Mirror interface {
	Sync(ctx context.Context, sub *rag.Subgraph) error
	DeleteMarker(ctx context.Context, marker string) error
}

type edgeKey struct {
	a, b  string
	label string
}

// undirected edges are stored under their sorted endpoints
func keyOf(r *rag.Relation) edgeKey {
	a, b := r.Source, r.Target
	if b < a {
		a, b = b, a
	}
	return edgeKey{a: a, b: b, label: r.Label}
}

// Store is an undirected labeled multigraph persisted as GraphML.
type Store struct {
	path   string
	mirror Mirror
	logger *zap.Logger

	mu      sync.RWMutex
	nodes   map[string]*rag.Entity
	edges   map[edgeKey]*rag.Relation
	adj     map[string]map[edgeKey]struct{}
	modTime time.Time
	size    int64
}

type Option func(*Store)

func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

func Open(workingDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "create graph dir")
	}
	s := &Store{
		path:   filepath.Join(workingDir, File),
		logger: logger.Named("graph"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) reset() {
	s.nodes = make(map[string]*rag.Entity)
	s.edges = make(map[edgeKey]*rag.Relation)
	s.adj = make(map[string]map[edgeKey]struct{})
}

func (s *Store) reloadLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		s.reset()
		s.modTime, s.size = time.Time{}, 0
		return nil
	}
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "stat graph")
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "open graph")
	}
	defer f.Close()
	nodes, edges, err := decodeGraphML(f)
	if err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "load graph")
	}

	s.reset()
	for _, n := range nodes {
		s.nodes[n.Name] = n
	}
	for _, e := range edges {
		s.putEdgeLocked(e)
	}
	s.modTime, s.size = info.ModTime(), info.Size()
	return nil
}

func (s *Store) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadLocked(); err != nil {
		s.logger.Warn("graph reload failed, serving cached copy", zap.Error(err))
	}
}

func (s *Store) saveLocked() error {
	var buf bytes.Buffer
	if err := encodeGraphML(&buf, s.sortedNodesLocked(), s.sortedEdgesLocked()); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "write graph")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "rename graph")
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime, s.size = info.ModTime(), info.Size()
	}
	return nil
}

func (s *Store) putEdgeLocked(e *rag.Relation) {
	k := keyOf(e)
	s.edges[k] = e
	for _, end := range []string{k.a, k.b} {
		if s.adj[end] == nil {
			s.adj[end] = make(map[edgeKey]struct{})
		}
		s.adj[end][k] = struct{}{}
	}
}

func (s *Store) removeEdgeLocked(k edgeKey) {
	delete(s.edges, k)
	delete(s.adj[k.a], k)
	delete(s.adj[k.b], k)
}

// joinIds merges SEP-joined id lists keeping first-seen order.
func joinIds(existing, add string) string {
	var parts []string
	for _, p := range strings.Split(existing+rag.SourceSeparator+add, rag.SourceSeparator) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(funk.UniqString(parts), rag.SourceSeparator)
}

func mergeDescription(existing, add string) string {
	switch {
	case add == "" || strings.Contains(existing, add):
		return existing
	case existing == "":
		return add
	default:
		return existing + rag.SourceSeparator + add
	}
}

// Merge folds a subgraph in. Entities are keyed by name and relations by
// (endpoints, label), so merging the same subgraph twice changes nothing.
func (s *Store) Merge(ctx context.Context, sub *rag.Subgraph) error {
	if sub.Empty() {
		return nil
	}
	now := time.Now().Unix()

	s.mu.Lock()
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, e := range sub.Entities {
		if e.Name == "" {
			continue
		}
		s.mergeNodeLocked(e, now)
	}
	for _, r := range sub.Relations {
		if r.Source == "" || r.Target == "" || r.Source == r.Target {
			continue
		}
		for _, end := range []string{r.Source, r.Target} {
			if _, ok := s.nodes[end]; !ok {
				s.mergeNodeLocked(&rag.Entity{Name: end, Type: "其他", SourceId: r.SourceId, FilePath: r.FilePath}, now)
			}
		}
		k := keyOf(r)
		if old, ok := s.edges[k]; ok {
			old.SourceId = joinIds(old.SourceId, r.SourceId)
			old.FilePath = joinIds(old.FilePath, r.FilePath)
			old.Description = mergeDescription(old.Description, r.Description)
			old.Weight = max(old.Weight, r.Weight)
			continue
		}
		e := *r
		if e.Weight == 0 {
			e.Weight = 1
		}
		if e.CreatedAt == 0 {
			e.CreatedAt = now
		}
		s.putEdgeLocked(&e)
	}
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.mirror != nil {
		if err := s.mirror.Sync(ctx, sub); err != nil {
			s.logger.Warn("graph mirror sync failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) mergeNodeLocked(e *rag.Entity, now int64) {
	old, ok := s.nodes[e.Name]
	if !ok {
		n := *e
		if n.CreatedAt == 0 {
			n.CreatedAt = now
		}
		if n.Type == "" {
			n.Type = "其他"
		}
		s.nodes[n.Name] = &n
		return
	}
	if (old.Type == "" || old.Type == "其他") && e.Type != "" {
		old.Type = e.Type
	}
	old.Description = mergeDescription(old.Description, e.Description)
	old.SourceId = joinIds(old.SourceId, e.SourceId)
	old.FilePath = joinIds(old.FilePath, e.FilePath)
	for k, v := range e.Attributes {
		if old.Attributes == nil {
			old.Attributes = make(map[string]any)
		}
		if _, exists := old.Attributes[k]; !exists {
			old.Attributes[k] = v
		}
	}
}

func (s *Store) Node(name string) (*rag.Entity, bool) {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[name]
	if !ok {
		return nil, false
	}
	c := *n
	return &c, true
}

func (s *Store) Nodes() []*rag.Entity {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedNodesLocked()
}

func (s *Store) Edges() []*rag.Relation {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEdgesLocked()
}

func (s *Store) sortedNodesLocked() []*rag.Entity {
	out := make([]*rag.Entity, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := *n
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) sortedEdgesLocked() []*rag.Relation {
	keys := make([]edgeKey, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]*rag.Relation, 0, len(keys))
	for _, k := range keys {
		c := *s.edges[k]
		out = append(out, &c)
	}
	return out
}

func sortKeys(keys []edgeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		if keys[i].b != keys[j].b {
			return keys[i].b < keys[j].b
		}
		return keys[i].label < keys[j].label
	})
}

// EdgesOf returns the relations touching name.
func (s *Store) EdgesOf(name string) []*rag.Relation {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]edgeKey, 0, len(s.adj[name]))
	for k := range s.adj[name] {
		keys = append(keys, k)
	}
	sortKeys(keys)
	out := make([]*rag.Relation, 0, len(keys))
	for _, k := range keys {
		c := *s.edges[k]
		out = append(out, &c)
	}
	return out
}

func (s *Store) Degree(name string) int {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.adj[name])
}

// Len returns node and edge counts.
func (s *Store) Len() (int, int) {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// DocSubgraph returns the nodes tagged with the document marker and the
// edges among them.
func (s *Store) DocSubgraph(docId int64) *rag.Subgraph {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := &rag.Subgraph{}
	in := make(map[string]bool)
	for _, n := range s.sortedNodesLocked() {
		if rag.HasMarker(n.SourceId, docId) || rag.HasMarker(n.FilePath, docId) {
			in[n.Name] = true
			sub.Entities = append(sub.Entities, n)
		}
	}
	for _, e := range s.sortedEdgesLocked() {
		if in[e.Source] && in[e.Target] {
			sub.Relations = append(sub.Relations, e)
		}
	}
	return sub
}

// PageRank scores every node, dangling mass is spread evenly.
func (s *Store) PageRank() map[string]float64 {
	s.refresh()
	s.mu.RLock()
	defer s.mu.RUnlock()

	const (
		damping    = 0.85
		iterations = 30
	)
	n := len(s.nodes)
	rank := make(map[string]float64, n)
	if n == 0 {
		return rank
	}
	for name := range s.nodes {
		rank[name] = 1 / float64(n)
	}
	for i := 0; i < iterations; i++ {
		next := make(map[string]float64, n)
		dangling := 0.0
		for name := range s.nodes {
			if len(s.adj[name]) == 0 {
				dangling += rank[name]
			}
		}
		base := (1-damping)/float64(n) + damping*dangling/float64(n)
		for name := range s.nodes {
			next[name] = base
		}
		for k := range s.edges {
			next[k.b] += damping * rank[k.a] / float64(len(s.adj[k.a]))
			next[k.a] += damping * rank[k.b] / float64(len(s.adj[k.b]))
		}
		rank = next
	}
	return rank
}

// DeleteDoc strips the document marker from every node and edge and drops
// the ones it leaves without any source.
func (s *Store) DeleteDoc(ctx context.Context, docId int64) (int, int, error) {
	s.mu.Lock()
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return 0, 0, err
	}
	removedNodes, removedEdges := 0, 0
	for k, e := range s.edges {
		if !rag.HasMarker(e.SourceId, docId) && !rag.HasMarker(e.FilePath, docId) {
			continue
		}
		e.SourceId = dropMarker(e.SourceId, docId)
		e.FilePath = dropMarker(e.FilePath, docId)
		if e.SourceId == "" {
			s.removeEdgeLocked(k)
			removedEdges++
		}
	}
	for name, n := range s.nodes {
		if !rag.HasMarker(n.SourceId, docId) && !rag.HasMarker(n.FilePath, docId) {
			continue
		}
		n.SourceId = dropMarker(n.SourceId, docId)
		n.FilePath = dropMarker(n.FilePath, docId)
		if n.SourceId != "" {
			continue
		}
		for k := range s.adj[name] {
			s.removeEdgeLocked(k)
			removedEdges++
		}
		delete(s.adj, name)
		delete(s.nodes, name)
		removedNodes++
	}
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}

	if s.mirror != nil {
		if err := s.mirror.DeleteMarker(ctx, rag.MarkerPrefix(docId)); err != nil {
			s.logger.Warn("graph mirror delete failed", zap.Error(err))
		}
	}
	s.logger.Info("document removed from graph", zap.Int64("doc_id", docId),
		zap.Int("nodes", removedNodes), zap.Int("edges", removedEdges))
	return removedNodes, removedEdges, nil
}

func dropMarker(ids string, docId int64) string {
	parts := strings.Split(ids, rag.SourceSeparator)
	kept := funk.FilterString(parts, func(p string) bool {
		return p != "" && !rag.HasMarker(p, docId)
	})
	return strings.Join(kept, rag.SourceSeparator)
}

// Drop removes the graph file.
func (s *Store) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.modTime, s.size = time.Time{}, 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return rag.NewError(rag.ErrStorageUnavailable, err, "remove graph")
	}
	return nil
}
