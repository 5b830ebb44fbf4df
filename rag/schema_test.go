package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMarker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "doc#3:report.pdf", Marker(3, "report.pdf"))
	assert.Equal(t, "doc#3:", MarkerPrefix(3))
	doc := &Document{Id: 12, Filename: "a b.txt"}
	assert.Equal(t, "doc#12:a b.txt", doc.Marker())
}

func TestHasMarker_PrefixSafe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    string
		id   int64
		want bool
	}{
		{"doc#1:a.txt", 1, true},
		{"doc#10:a.txt", 1, false},
		{"doc#1:a.txt", 10, false},
		{"doc#2:x<SEP>doc#1:a.txt", 1, true},
		{"", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasMarker(tt.s, tt.id), tt.s)
	}
}

func TestHasMarker_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64Range(1, 100000).Draw(t, "a")
		b := rapid.Int64Range(1, 100000).Draw(t, "b")
		name := rapid.StringMatching(`[a-z0-9_.]{0,12}`).Draw(t, "name")
		s := Marker(a, name)
		if HasMarker(s, b) != (a == b) {
			t.Fatalf("HasMarker(%q, %d) wrong", s, b)
		}
	})
}

func TestMarkerIds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int64{1, 22}, MarkerIds("doc#1:a<SEP>doc#22:b"))
	assert.Empty(t, MarkerIds("no markers"))
}

func TestStripMarker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "report.pdf", StripMarker("doc#3:report.pdf"))
	assert.Equal(t, "report.pdf", StripMarker("report.pdf"))
	assert.Equal(t, "x doc#3:y", StripMarker("x doc#3:y"))
}

func TestContentIds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ChunkId("abc"), ChunkId("abc"))
	assert.NotEqual(t, ChunkId("abc"), ChunkId("abd"))
	assert.True(t, strings.HasPrefix(ChunkId("x"), "chunk-"))
	assert.True(t, strings.HasPrefix(EntityId("x"), "ent-"))
	assert.True(t, strings.HasPrefix(DocId("x"), "doc-"))
	assert.Len(t, ChunkId("x"), len("chunk-")+32)
}

func TestSubgraphEmpty(t *testing.T) {
	t.Parallel()

	var nilGraph *Subgraph
	assert.True(t, nilGraph.Empty())
	assert.True(t, (&Subgraph{}).Empty())
	assert.False(t, (&Subgraph{Entities: []*Entity{{Name: "x"}}}).Empty())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("disk full")
	err := NewError(ErrStorageUnavailable, cause, "write chunks")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrParse)
	assert.Equal(t, "storage unavailable: write chunks: disk full", err.Error())

	err = Errorf(ErrNotFound, nil, "document %d", 4)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not found: document 4", err.Error())
}
