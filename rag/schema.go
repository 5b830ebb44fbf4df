package rag

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTokenEncoding = "cl100k_base"

	// SourceSeparator joins several doc markers inside one source_id.
	SourceSeparator = "<SEP>"
)

type DocStatus string

const (
	StatusUploading DocStatus = "UPLOADING"
	StatusUploaded  DocStatus = "UPLOADED"
	StatusIndexing  DocStatus = "INDEXING"
	StatusIndexed   DocStatus = "INDEXED"
	StatusFailed    DocStatus = "FAILED"
)

// Document is one uploaded file or folder.
type Document struct {
	Id           int64     `json:"id"`
	Filename     string    `json:"filename"`
	BlobKey      string    `json:"blob_key"`
	BlobURL      string    `json:"blob_url"`
	Size         int64     `json:"size"`
	ParentId     *int64    `json:"parent_id"`
	IsFolder     bool      `json:"is_folder"`
	Status       DocStatus `json:"status"`
	ProgressNote string    `json:"progress_note"`
	IsDeleted    bool      `json:"is_deleted"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Marker is the cross-store identity of the document.
func (d *Document) Marker() string {
	return Marker(d.Id, d.Filename)
}

// Chunk is a bounded text segment. FilePath carries the doc marker.
type Chunk struct {
	Id        string `json:"-"`
	Content   string `json:"content"`
	FilePath  string `json:"file_path"`
	Position  int    `json:"chunk_order_index"`
	Tokens    int    `json:"tokens"`
	FullDocId string `json:"full_doc_id"`
	// Segment is the ordinal of the ingestion segment, 0 for the head
	Segment int `json:"segment"`
}

type VectorRecord struct {
	Id       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Content  string    `json:"content"`
	FilePath string    `json:"file_path"`
}

type VectorHit struct {
	Id       string  `json:"id"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
	FilePath string  `json:"file_path"`
}

type Entity struct {
	Name        string         `json:"entity_name"`
	Type        string         `json:"entity_type"`
	Description string         `json:"description"`
	SourceId    string         `json:"source_id"`
	FilePath    string         `json:"file_path"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

type Relation struct {
	Source      string  `json:"src_id"`
	Target      string  `json:"tgt_id"`
	Label       string  `json:"keywords"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	SourceId    string  `json:"source_id"`
	FilePath    string  `json:"file_path"`
	CreatedAt   int64   `json:"created_at"`
}

// Source is one entry of the structured sources block.
type Source struct {
	Title         string `json:"title"`
	Content       string `json:"content,omitempty"`
	DocId         int64  `json:"doc_id,omitempty"`
	CitationIndex int    `json:"citation_index,omitempty"`
}

var markerIdRe = regexp.MustCompile(`doc#(\d+):`)

func Marker(id int64, filename string) string {
	return fmt.Sprintf("doc#%d:%s", id, filename)
}

// MarkerPrefix always keeps the trailing colon so doc#1 never matches doc#10.
func MarkerPrefix(id int64) string {
	return "doc#" + strconv.FormatInt(id, 10) + ":"
}

// HasMarker reports whether s mentions the document by its exact prefix.
func HasMarker(s string, id int64) bool {
	return strings.Contains(s, MarkerPrefix(id))
}

// MarkerIds extracts every doc id referenced by s.
func MarkerIds(s string) []int64 {
	ids := make([]int64, 0, 1)
	for _, m := range markerIdRe.FindAllStringSubmatch(s, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// StripMarker turns "doc#3:report.pdf" into "report.pdf".
func StripMarker(s string) string {
	if loc := markerIdRe.FindStringIndex(s); loc != nil && loc[0] == 0 {
		return s[loc[1]:]
	}
	return s
}

// Subgraph is what one extraction pass contributes to the graph.
type Subgraph struct {
	Entities  []*Entity   `json:"entities"`
	Relations []*Relation `json:"relations"`
}

func (s *Subgraph) Empty() bool {
	return s == nil || (len(s.Entities) == 0 && len(s.Relations) == 0)
}

// ChunkId is the content address of a chunk.
func ChunkId(content string) string {
	return "chunk-" + md5Hex(content)
}

// EntityId keys an entity's vector record.
func EntityId(name string) string {
	return "ent-" + md5Hex(name)
}

// DocId keys a doc status record for an inserted text.
func DocId(content string) string {
	return "doc-" + md5Hex(content)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
