package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/thoas/go-funk"
)

var documentTypes = []string{"文件", "文档", "File", "Document"}

// ParseSources recovers the structured sources from a rendered context
// block. titleOf maps a doc id to its display name and may be nil.
func ParseSources(block string, titleOf func(docId int64) string) []*rag.Source {
	chunksPart, kgPart, _ := strings.Cut(block, EntityHeader)
	if _, after, ok := strings.Cut(chunksPart, ChunkHeader); ok {
		chunksPart = after
	}

	var out []*rag.Source
	locs := sectionRe.FindAllStringSubmatchIndex(chunksPart, -1)
	for i, loc := range locs {
		end := len(chunksPart)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		idx, err := strconv.Atoi(chunksPart[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		first, rest, _ := strings.Cut(chunksPart[loc[1]:end], "\n")
		src := strings.TrimSpace(first)
		content := unescapeSections(strings.TrimSpace(rest))
		s := &rag.Source{Content: content, CitationIndex: idx}
		if ids := rag.MarkerIds(src); len(ids) > 0 {
			s.DocId = ids[0]
		}
		if titleOf != nil && s.DocId > 0 {
			s.Title = titleOf(s.DocId)
		}
		if s.Title == "" && src != "" {
			s.Title = rag.StripMarker(src)
		}
		if s.Title == "" {
			s.Title = preview(content, 50)
		}
		out = append(out, s)
	}

	start, end := strings.Index(kgPart, "["), strings.LastIndex(kgPart, "]")
	if start < 0 || end <= start {
		return out
	}
	var records []*ContextEntity
	if err := json.Unmarshal([]byte(kgPart[start:end+1]), &records); err != nil {
		return out
	}
	for _, r := range records {
		if r.Name == "" || !funk.ContainsString(documentTypes, r.Type) {
			continue
		}
		s := &rag.Source{
			Title:   r.Name,
			Content: fmt.Sprintf("实体: %s\n类型: %s\n描述: %s", r.Name, r.Type, r.Description),
		}
		if ids := rag.MarkerIds(r.SourceId); len(ids) == 1 {
			s.DocId = ids[0]
		}
		out = append(out, s)
	}
	return out
}

// CitedSources keeps the indexed sources cited by answer, in order of
// first citation, followed by unindexed sources whose title has not been
// listed yet. An answer without citations has no sources.
func CitedSources(sources []*rag.Source, answer string) []*rag.Source {
	cited := Citations(answer)
	if len(cited) == 0 {
		return nil
	}
	byIndex := make(map[int]*rag.Source)
	for _, s := range sources {
		if s.CitationIndex > 0 {
			if _, ok := byIndex[s.CitationIndex]; !ok {
				byIndex[s.CitationIndex] = s
			}
		}
	}
	out := make([]*rag.Source, 0, len(cited))
	seen := make(map[string]bool)
	for _, i := range cited {
		if s, ok := byIndex[i]; ok {
			out = append(out, s)
			seen[s.Title] = true
		}
	}
	for _, s := range sources {
		if s.CitationIndex > 0 || seen[s.Title] {
			continue
		}
		seen[s.Title] = true
		out = append(out, s)
	}
	return out
}

// RenderSources renders the sources block lines, header first.
func RenderSources(header string, sources []*rag.Source) []string {
	if len(sources) == 0 {
		return nil
	}
	if header == "" {
		header = SourcesHeader
	}
	lines := []string{header}
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = "未知来源"
		}
		if s.CitationIndex > 0 {
			lines = append(lines, fmt.Sprintf("[%d] %s", s.CitationIndex, title))
		} else {
			lines = append(lines, "- "+title)
		}
	}
	return lines
}
