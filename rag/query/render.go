package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/tidwall/pretty"
)

// Render builds the context block the model sees after ---Context---.
func (r *Retrieval) Render() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	if len(r.Chunks) > 0 {
		b.WriteString(ChunkHeader + "\n")
		for i, c := range r.Chunks {
			fmt.Fprintf(&b, "[%d] Source: %s\n%s\n\n", i+1, c.FilePath, escapeSections(strings.TrimSpace(c.Content)))
		}
	}
	if len(r.Entities) > 0 {
		b.WriteString(renderEntities(r.Entities))
	}
	return b.String()
}

var (
	// sectionRe matches the header line Render writes for each chunk.
	sectionRe = regexp.MustCompile(`(?m)^\[(\d+)\] Source:`)
	escapedRe = regexp.MustCompile(`(?m)^\\(\[\d+\] Source:)`)
)

// escapeSections keeps chunk text from opening a section of its own.
func escapeSections(content string) string {
	return sectionRe.ReplaceAllString(content, `\[${1}] Source:`)
}

func unescapeSections(content string) string {
	return escapedRe.ReplaceAllString(content, "${1}")
}

func renderEntities(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return EntityHeader + "\n\n```json\n" + strings.TrimSpace(string(pretty.Pretty(raw))) + "\n```\n"
}
