package query

import (
	"github.com/bigf625oot/Tiga-sub000/rag"
)

const (
	ContextHeader  = "---Context---"
	ChunkHeader    = "Reference Document List"
	EntityHeader   = "####### Knowledge Graph Data (Entity)"
	SourcesHeader  = "**知识来源：**"
	NoAnswer       = "未检索到有效答案"
	RawChunkHeader = "以下是与问题相关的文档片段整理："

	DefaultTopK         = 60
	DefaultDocTopK      = 15
	DefaultGraphTopK    = 10
	DefaultEntityTopK   = 20
	DefaultHeadLen      = 8000
	DefaultMinScore     = 0.2
	DefaultMaxKnowledge = 50000
	DefaultMaxHistory   = 10000

	headScore = 100
)

type Scope string

const (
	ScopeDoc    Scope = "doc"
	ScopeGlobal Scope = "global"
)

// Mode selects how global evidence is gathered.
type Mode string

const (
	// ModeMix combines chunk vectors and graph entities.
	ModeMix Mode = "mix"
	// ModeLocal starts from entity vectors and keeps chunks of the
	// documents those entities come from.
	ModeLocal Mode = "local"
)

// Request is the per-query state threaded through retrieval and
// generation. Nothing of it lives on the engine.
type Request struct {
	DocId     int64    `json:"doc_id"`
	Query     string   `json:"query"`
	Scope     Scope    `json:"scope"`
	SessionId string   `json:"session_id"`
	History   []string `json:"history"`
	TopK      int      `json:"top_k"`
	Rerank    bool     `json:"rerank"`
	// Mode of the first retrieval pass, ModeMix when empty
	Mode Mode `json:"mode,omitempty"`
}

func (r *Request) mode() Mode {
	if r.Mode == ModeLocal {
		return ModeLocal
	}
	return ModeMix
}

// Filtered reports whether retrieval is restricted to one document.
func (r *Request) Filtered() bool {
	return r.Scope == ScopeDoc && r.DocId > 0
}

// ContextChunk is one bracket-indexed entry of the chunk section.
type ContextChunk struct {
	Id       string  `json:"id,omitempty"`
	Content  string  `json:"content"`
	FilePath string  `json:"file_path"`
	Score    float64 `json:"score"`
}

// ContextEntity is one record of the entity JSON array.
type ContextEntity struct {
	Name        string  `json:"entity_name"`
	Type        string  `json:"entity_type"`
	Description string  `json:"description,omitempty"`
	SourceId    string  `json:"source_id"`
	Content     string  `json:"content,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Retrieval is what the planner hands to the prompt.
type Retrieval struct {
	Chunks   []*ContextChunk  `json:"chunks"`
	Entities []*ContextEntity `json:"entities"`
	// HeadFallback is set when chunks came from the head of the document
	HeadFallback bool `json:"head_fallback"`
}

func (r *Retrieval) Empty() bool {
	return r == nil || (len(r.Chunks) == 0 && len(r.Entities) == 0)
}

// ChunkHit is a chunk search result for callers outside the QA path.
type ChunkHit struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Preview string  `json:"preview"`
	Score   float64 `json:"score"`
	DocId   int64   `json:"doc_id"`
}

// Answer is the outcome of one QA call.
type Answer struct {
	Text    string        `json:"answer"`
	Sources []*rag.Source `json:"sources"`
	// Reason names the fallback taken, empty when the first attempt succeeded
	Reason string `json:"reason,omitempty"`
}
