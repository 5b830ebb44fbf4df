package graph

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docGraph(id int64, file string, names ...string) *rag.Subgraph {
	marker := rag.Marker(id, file)
	sub := &rag.Subgraph{}
	sub.Entities = append(sub.Entities, &rag.Entity{Name: file, Type: "文件", SourceId: marker, FilePath: marker})
	for _, n := range names {
		sub.Entities = append(sub.Entities, &rag.Entity{Name: n, Type: "人物", Description: n + " 的描述", SourceId: marker, FilePath: marker})
		sub.Relations = append(sub.Relations, &rag.Relation{Source: n, Target: file, Label: "mentioned_in", SourceId: marker, FilePath: marker, Weight: 1})
	}
	return sub
}

func TestStore_MergeIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	sub := docGraph(1, "a.txt", "Alice", "Acme")
	require.NoError(t, s.Merge(ctx, sub))
	nodes, edges := s.Len()
	require.NoError(t, s.Merge(ctx, sub))
	n2, e2 := s.Len()
	assert.Equal(t, nodes, n2)
	assert.Equal(t, edges, e2)
	assert.Equal(t, 3, nodes)
	assert.Equal(t, 2, edges)

	alice, ok := s.Node("Alice")
	require.True(t, ok)
	assert.Equal(t, "doc#1:a.txt", alice.SourceId)
	assert.Equal(t, "Alice 的描述", alice.Description)
}

func TestStore_MergeAccumulatesMarkers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Merge(ctx, docGraph(1, "a.txt", "Alice")))
	require.NoError(t, s.Merge(ctx, docGraph(10, "b.txt", "Alice")))

	alice, ok := s.Node("Alice")
	require.True(t, ok)
	assert.Equal(t, "doc#1:a.txt<SEP>doc#10:b.txt", alice.SourceId)
	assert.Equal(t, 2, s.Degree("Alice"))
}

func TestStore_EdgeEndpointsUndirected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Merge(ctx, &rag.Subgraph{Relations: []*rag.Relation{
		{Source: "A", Target: "B", Label: "knows", SourceId: "doc#1:x"},
		{Source: "B", Target: "A", Label: "knows", SourceId: "doc#2:y", Weight: 3},
		{Source: "A", Target: "B", Label: "works_with", SourceId: "doc#1:x"},
		{Source: "A", Target: "A", Label: "self", SourceId: "doc#1:x"},
	}}))

	nodes, edges := s.Len()
	assert.Equal(t, 2, nodes, "missing endpoints are created")
	assert.Equal(t, 2, edges)

	rels := s.EdgesOf("A")
	require.Len(t, rels, 2)
	assert.Equal(t, "knows", rels[0].Label)
	assert.Equal(t, "doc#1:x<SEP>doc#2:y", rels[0].SourceId)
	assert.Equal(t, 3.0, rels[0].Weight)
}

func TestStore_PersistAndReload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	sub := docGraph(1, "a.txt", "Alice")
	sub.Entities[1].Attributes = map[string]any{"职位": "工程师"}
	require.NoError(t, s.Merge(ctx, sub))
	assert.FileExists(t, filepath.Join(dir, File))

	other, err := Open(dir)
	require.NoError(t, err)
	alice, ok := other.Node("Alice")
	require.True(t, ok)
	assert.Equal(t, "人物", alice.Type)
	assert.Equal(t, "工程师", alice.Attributes["职位"])
	require.Len(t, other.Edges(), 1)
	assert.Equal(t, "mentioned_in", other.Edges()[0].Label)

	// a second writer is seen by the first instance
	require.NoError(t, other.Merge(ctx, docGraph(2, "b.txt", "Bob")))
	_, ok = s.Node("Bob")
	assert.True(t, ok)
}

func TestStore_DeleteDoc(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Merge(ctx, docGraph(1, "a.txt", "Alice", "Shared")))
	require.NoError(t, s.Merge(ctx, docGraph(10, "b.txt", "Bob", "Shared")))

	nodes, edges, err := s.DeleteDoc(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 2, edges)

	_, ok := s.Node("Alice")
	assert.False(t, ok)
	shared, ok := s.Node("Shared")
	require.True(t, ok)
	assert.Equal(t, "doc#10:b.txt", shared.SourceId)
	for _, e := range s.Edges() {
		assert.False(t, rag.HasMarker(e.SourceId, 1))
	}

	sub := s.DocSubgraph(10)
	assert.Len(t, sub.Entities, 3)
	assert.Empty(t, s.DocSubgraph(1).Entities)
}

func TestStore_PageRank(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Merge(ctx, docGraph(1, "hub.txt", "a", "b", "c", "d")))
	require.NoError(t, s.Merge(ctx, &rag.Subgraph{Entities: []*rag.Entity{{Name: "lonely", SourceId: "doc#1:hub.txt"}}}))

	rank := s.PageRank()
	require.Len(t, rank, 6)
	sum := 0.0
	for _, v := range rank {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, rank["hub.txt"], rank["a"])
	assert.Greater(t, rank["a"], rank["lonely"])
}

func TestStore_Export(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	sub := docGraph(1, "hub.txt", "a", "b", "c")
	sub.Relations[0].Description = strings.Repeat("描", 30)
	require.NoError(t, s.Merge(ctx, sub))

	view := s.Export(1, 2)
	require.Len(t, view.Nodes, 2)
	assert.Equal(t, "hub.txt", view.Nodes[0].Id)
	require.Len(t, view.Edges, 1)
	assert.Equal(t, 20, len([]rune(view.Edges[0].Label)))

	full := s.Export(1, 0)
	assert.Len(t, full.Nodes, 4)
	assert.Len(t, full.Edges, 3)
}

func TestRender(t *testing.T) {
	view := &View{
		Nodes: []*ViewNode{{Id: "Alice", Label: "Alice", Type: "人物"}, {Id: "Acme", Label: "Acme", Type: "组织"}},
		Edges: []*ViewEdge{{Source: "Alice", Target: "Acme", Label: "works_at"}},
	}
	out, err := Render(context.Background(), view, "dot")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Alice")
	assert.Contains(t, string(out), "works_at")

	_, err = Render(context.Background(), view, "pdf")
	assert.Error(t, err)
}

func TestDecodeGraphML_ForeignKeys(t *testing.T) {
	t.Parallel()

	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<graphml xmlns="http://graphml.graphdrawing.org/xmlns">
  <key id="k1" for="node" attr.name="entity_type" attr.type="string"/>
  <key id="k2" for="node" attr.name="source_id" attr.type="string"/>
  <key id="k3" for="edge" attr.name="weight" attr.type="double"/>
  <key id="k4" for="edge" attr.name="keywords" attr.type="string"/>
  <graph edgedefault="undirected">
    <node id="Alice"><data key="k1">人物</data><data key="k2">doc#1:a</data></node>
    <node id="Acme"><data key="k1">组织</data></node>
    <edge source="Alice" target="Acme"><data key="k3">2.5</data><data key="k4">works_at</data></edge>
  </graph>
</graphml>`
	nodes, edges, err := decodeGraphML(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "人物", nodes[0].Type)
	assert.Equal(t, "doc#1:a", nodes[0].SourceId)
	require.Len(t, edges, 1)
	assert.Equal(t, 2.5, edges[0].Weight)
	assert.Equal(t, "works_at", edges[0].Label)

	var buf bytes.Buffer
	require.NoError(t, encodeGraphML(&buf, nodes, edges))
	again, againEdges, err := decodeGraphML(&buf)
	require.NoError(t, err)
	assert.Equal(t, nodes, again)
	assert.Equal(t, edges, againEdges)
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, File), []byte("<graphml"), 0o644))
	_, err := Open(dir)
	assert.ErrorIs(t, err, rag.ErrStorageUnavailable)
}

type recordingMirror struct {
	synced  int
	deleted []string
}

func (m *recordingMirror) Sync(_ context.Context, _ *rag.Subgraph) error {
	m.synced++
	return nil
}

func (m *recordingMirror) DeleteMarker(_ context.Context, marker string) error {
	m.deleted = append(m.deleted, marker)
	return nil
}

func TestStore_Mirror(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := &recordingMirror{}
	s, err := Open(t.TempDir(), WithMirror(m))
	require.NoError(t, err)
	require.NoError(t, s.Merge(ctx, docGraph(3, "c.txt", "Carol")))
	_, _, err = s.DeleteDoc(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, m.synced)
	assert.Equal(t, []string{"doc#3:"}, m.deleted)
}

func TestNeo4jMirror(t *testing.T) {
	uri := os.Getenv("TIGA_NEO4J_URI")
	if uri == "" {
		t.Skip("TIGA_NEO4J_URI not set")
	}
	ctx := context.Background()
	m, err := NewNeo4jMirror(ctx, uri, os.Getenv("TIGA_NEO4J_USER"), os.Getenv("TIGA_NEO4J_PASSWORD"), "")
	require.NoError(t, err)
	defer m.Close(ctx)

	require.NoError(t, m.Sync(ctx, docGraph(9001, "neo.txt", "NeoAlice")))
	require.NoError(t, m.DeleteMarker(ctx, rag.MarkerPrefix(9001)))
}
