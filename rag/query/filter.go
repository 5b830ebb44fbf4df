package query

import (
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
)

// FilterContext keeps only the evidence of one document: chunk sections
// without the marker are dropped, entity records whose source_id lacks
// the marker are dropped, and an entity section left empty or
// unparseable is removed entirely.
func FilterContext(block string, docId int64) string {
	chunksPart, kgPart, _ := strings.Cut(block, EntityHeader)

	if strings.Contains(chunksPart, ChunkHeader) {
		chunksPart = filterChunks(chunksPart, docId)
	}

	out := strings.TrimRight(chunksPart, "\n")
	if kg := filterEntities(kgPart, docId); kg != "" {
		if out != "" {
			out += "\n\n"
		}
		out += strings.TrimRight(kg, "\n")
	}
	if out == "" {
		return ""
	}
	return out + "\n"
}

func filterChunks(part string, docId int64) string {
	locs := sectionRe.FindAllStringIndex(part, -1)
	if len(locs) == 0 {
		return part
	}
	var b strings.Builder
	b.WriteString(part[:locs[0][0]])
	for i, loc := range locs {
		end := len(part)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := part[loc[0]:end]
		header, _, _ := strings.Cut(section, "\n")
		if rag.HasMarker(header, docId) {
			b.WriteString(section)
		}
	}
	return b.String()
}

func filterEntities(part string, docId int64) string {
	start, end := strings.Index(part, "["), strings.LastIndex(part, "]")
	if start < 0 || end <= start {
		return ""
	}
	var records []map[string]any
	if err := json.Unmarshal([]byte(part[start:end+1]), &records); err != nil {
		return ""
	}
	kept := make([]map[string]any, 0, len(records))
	for _, r := range records {
		sid, _ := r["source_id"].(string)
		if rag.HasMarker(sid, docId) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return renderEntities(kept)
}

// DocOnlyNotice is appended to the system prompt when a filter is active.
func DocOnlyNotice(docId int64) string {
	return "\n\n注意：你当前处于“当前文档”检索模式，必须仅基于 " + rag.MarkerPrefix(docId) +
		" 的内容回答，严禁引用其他文档或你的预训练知识。"
}
