package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/text"
	"go.uber.org/zap"
)

const (
	relationType       = "关系"
	relationsPerEntity = 10

	nameScore     = 10
	attrScore     = 2
	semanticScore = 6
	edgeScore     = 4
)

// keywords splits q on spaces and punctuation and keeps tokens of two
// runes or more.
func keywords(q string) []string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, strings.ToLower(f))
		}
	}
	return out
}

func containsAny(s string, kws []string) bool {
	s = strings.ToLower(s)
	for _, k := range kws {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func attrString(attrs map[string]any) string {
	if len(attrs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, attrs[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// GraphSearch scores the entities and relations of one document against
// q. Names found in the query score 10, matching attributes 2, semantic
// hits inside the document 6 plus similarity, matching relation labels 4.
// Without any hit the most connected entities are returned.
func (p *Planner) GraphSearch(ctx context.Context, docId int64, q string, topK int) []*ContextEntity {
	if topK <= 0 {
		topK = DefaultGraphTopK
	}
	sub := p.stores.Graph.DocSubgraph(docId)
	if sub.Empty() {
		return nil
	}
	q = strings.TrimSpace(q)
	nodes := make(map[string]*rag.Entity, len(sub.Entities))
	names := make([]string, 0, len(sub.Entities))
	for _, e := range sub.Entities {
		nodes[e.Name] = e
		names = append(names, e.Name)
	}
	mentioned := make(map[string]bool)
	for _, m := range text.NewMatcher(names, text.WithFoldCase()).FindAll(q) {
		mentioned[strings.ToLower(m)] = true
	}
	kws := keywords(q)
	for m := range mentioned {
		kws = append(kws, m)
	}

	var results []*ContextEntity
	added := make(map[string]bool)
	for _, name := range names {
		e := nodes[name]
		score := 0.0
		if q != "" && (mentioned[strings.ToLower(name)] || strings.Contains(strings.ToLower(name), strings.ToLower(q))) {
			score += nameScore
		}
		for _, v := range e.Attributes {
			if containsAny(fmt.Sprint(v), kws) {
				score += attrScore
			}
		}
		if score > 0 {
			added[name] = true
			results = append(results, entityRecord(e, "实体", score))
		}
	}

	if hits, err := p.SearchEntities(ctx, q, DefaultEntityTopK); err != nil {
		p.logger.Warn("graph vector search failed", zap.Error(err))
	} else {
		for _, h := range hits {
			e, ok := nodes[h.Content]
			if !ok || added[e.Name] {
				continue
			}
			added[e.Name] = true
			results = append(results, entityRecord(e, "实体", semanticScore+h.Score))
		}
	}

	for _, r := range sub.Relations {
		if r.Label == "" || !(containsAny(r.Label, kws) || (q != "" && strings.Contains(q, r.Label))) {
			continue
		}
		results = append(results, &ContextEntity{
			Name:        r.Source + " -> " + r.Target,
			Type:        relationType,
			Description: r.Description,
			SourceId:    r.SourceId,
			Content:     fmt.Sprintf("关系: %s (%s -> %s)\n", r.Label, r.Source, r.Target),
			Score:       edgeScore,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if len(results) == 0 {
		degree := make(map[string]int, len(names))
		for _, r := range sub.Relations {
			degree[r.Source]++
			degree[r.Target]++
		}
		sort.SliceStable(names, func(i, j int) bool { return degree[names[i]] > degree[names[j]] })
		for _, name := range names[:min(topK, len(names))] {
			e := nodes[name]
			rec := entityRecord(e, "核心实体", 1)
			rec.Content = fmt.Sprintf("核心实体: %s\n属性: %s\n(重要性: %d)", e.Name, attrString(e.Attributes), degree[name])
			results = append(results, rec)
		}
		p.logger.Info("graph search fell back to top degree", zap.Int64("doc_id", docId), zap.Int("hits", len(results)))
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func entityRecord(e *rag.Entity, label string, score float64) *ContextEntity {
	return &ContextEntity{
		Name:        e.Name,
		Type:        e.Type,
		Description: e.Description,
		SourceId:    e.SourceId,
		Content:     fmt.Sprintf("%s: %s\n属性: %s\n", label, e.Name, attrString(e.Attributes)),
		Score:       score,
	}
}
