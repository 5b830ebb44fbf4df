package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bigf625oot/Tiga-sub000/llm"
	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/counter"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/bigf625oot/Tiga-sub000/utils/logger"
	"github.com/bigf625oot/Tiga-sub000/utils/parallel"
	"github.com/mitchellh/mapstructure"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

const (
	DocumentEntityType = "文件"
	MentionedIn        = "mentioned_in"
	SourceFrom         = "source_from"
)

const extractPrompt = `你是一个知识图谱抽取器。请从下面的文本中抽取最重要的实体（nodes）和关系（edges）。
只返回一个合法的 JSON 对象，不要输出 markdown，也不要输出思考过程，结构如下：
{
  "nodes": {
    "n1": {"name": "实体名称", "type": "实体类型", "attributes": {"description": "一句话描述", "其他属性": "值"}},
    ...
  },
  "edges": {
    "e1": {"source": "n1", "target": "n2", "label": "关系类型", "description": "关系描述", "weight": 1.0},
    ...
  }
}
要求：
1. 最多抽取 {max_items} 个最重要的实体和关系，source/target 必须是 nodes 中存在的 id。
2. 实体名称使用中文；专有名词（人名、公司名、产品名）保留原文。
3. 实体类型从以下类型中选择：{entity_types}。
4. 必须包含一个代表来源文件的实体，名称为 "{document}"，类型为 "` + DocumentEntityType + `"；其余每个实体都要通过 "` + MentionedIn + `" 关系连接到该实体。
5. 不要使用 "概念A"、"概念B" 之类的占位名称，尽量给实体补充时间、角色、数值、状态等属性。

文本：
{input_text}`

// Extractor turns chunks into subgraphs with one LLM call per chunk.
type Extractor struct {
	model       *cachedModel
	entityTypes []string
	concurrency int
	maxItems    int
	logger      *zap.Logger
}

func NewExtractor(l llm.LLM, opts ...ExtractOption) *Extractor {
	o := defaultExtractOptions()
	for _, opt := range opts {
		opt(o)
	}
	lg := logger.Named("extract")
	return &Extractor{
		model:       newCachedModel(l, o.Rate, o.CacheDir, lg),
		entityTypes: o.EntityTypes,
		concurrency: o.Concurrency,
		maxItems:    o.MaxItems,
		logger:      lg,
	}
}

func (e *Extractor) prompt(chunk *rag.Chunk, document string) string {
	return strings.NewReplacer(
		"{max_items}", strconv.Itoa(e.maxItems),
		"{entity_types}", strings.Join(e.entityTypes, "、"),
		"{document}", document,
		"{input_text}", chunk.Content,
	).Replace(extractPrompt)
}

// Extract runs one chunk. Unparseable model output yields an empty
// subgraph, only a failed model call is an error.
func (e *Extractor) Extract(ctx context.Context, chunk *rag.Chunk) (*rag.Subgraph, error) {
	document := rag.StripMarker(chunk.FilePath)
	gen, err := e.model.Call(ctx, []llm.Message{llm.NewUserMessage("", e.prompt(chunk, document))},
		llm.WithTemperature(0.1))
	if err != nil {
		return nil, err
	}
	sub, err := ParseSubgraph(gen.Content, chunk.FilePath, document)
	if err != nil {
		e.logger.Warn("extraction output is not valid json, chunk skipped",
			zap.String("marker", chunk.FilePath), zap.Error(err))
		return &rag.Subgraph{}, nil
	}
	return sub, nil
}

// ExtractAll runs every chunk with bounded concurrency and concatenates
// the subgraphs in chunk order. Merging is left to the graph store.
func (e *Extractor) ExtractAll(ctx context.Context, chunks []*rag.Chunk) (*rag.Subgraph, error) {
	if len(chunks) == 0 {
		return &rag.Subgraph{}, nil
	}
	subs := make([]*rag.Subgraph, len(chunks))
	progress := counter.NewCounter(counter.WithTotal(len(chunks)),
		counter.WithDesc("extract "+chunks[0].FilePath), counter.WithLogger(e.logger))
	err := parallel.ForEach(ctx, func(ctx context.Context, i int) error {
		sub, err := e.Extract(ctx, chunks[i])
		if err != nil {
			return err
		}
		subs[i] = sub
		progress.Add()
		return nil
	}, len(chunks), e.concurrency)
	if err != nil {
		return nil, err
	}
	out := &rag.Subgraph{}
	for _, s := range subs {
		out.Entities = append(out.Entities, s.Entities...)
		out.Relations = append(out.Relations, s.Relations...)
	}
	return out, nil
}

type rawNode struct {
	Name        string         `mapstructure:"name"`
	Type        string         `mapstructure:"type"`
	Description string         `mapstructure:"description"`
	Attributes  map[string]any `mapstructure:"attributes"`
}

type rawEdge struct {
	Source      string  `mapstructure:"source"`
	Target      string  `mapstructure:"target"`
	Label       string  `mapstructure:"label"`
	Description string  `mapstructure:"description"`
	Weight      float64 `mapstructure:"weight"`
}

// ParseSubgraph decodes {nodes, edges} model output. Nodes and edges may
// be objects keyed by id or plain arrays. Every entity is tagged with the
// marker and linked to the document entity.
func ParseSubgraph(raw, marker, document string) (*rag.Subgraph, error) {
	var doc struct {
		Nodes any `json:"nodes"`
		Edges any `json:"edges"`
	}
	if err := json.Unmarshal([]byte(json.TrimJsonString(raw)), &doc); err != nil {
		return nil, err
	}

	sub := &rag.Subgraph{}
	names := make(map[string]string)
	index := make(map[string]*rag.Entity)

	for _, item := range items(doc.Nodes) {
		var n rawNode
		if err := decodeLoose(item.value, &n); err != nil {
			continue
		}
		name := strings.TrimSpace(n.Name)
		if name == "" {
			name = strings.TrimSpace(item.key)
		}
		if name == "" {
			continue
		}
		if item.key != "" {
			names[item.key] = name
		}
		desc := n.Description
		attrs := make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			if k == "description" {
				if s, ok := v.(string); ok && desc == "" {
					desc = s
				}
				continue
			}
			attrs[k] = v
		}
		if len(attrs) == 0 {
			attrs = nil
		}
		if old, ok := index[name]; ok {
			if old.Description == "" {
				old.Description = desc
			}
			continue
		}
		e := &rag.Entity{
			Name:        name,
			Type:        strings.TrimSpace(n.Type),
			Description: desc,
			SourceId:    marker,
			FilePath:    marker,
			Attributes:  attrs,
		}
		index[name] = e
		sub.Entities = append(sub.Entities, e)
	}

	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if n, ok := names[ref]; ok {
			return n
		}
		return ref
	}
	linked := make(map[string]bool)
	for _, item := range items(doc.Edges) {
		var r rawEdge
		if err := decodeLoose(item.value, &r); err != nil {
			continue
		}
		src, tgt := resolve(r.Source), resolve(r.Target)
		if src == "" || tgt == "" || src == tgt || index[src] == nil || index[tgt] == nil {
			continue
		}
		label := strings.TrimSpace(r.Label)
		if label == "" {
			label = "related"
		}
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		desc := r.Description
		if desc == "" {
			desc = label
		}
		sub.Relations = append(sub.Relations, &rag.Relation{
			Source:      src,
			Target:      tgt,
			Label:       label,
			Description: desc,
			Weight:      weight,
			SourceId:    marker,
			FilePath:    marker,
		})
		if funk.ContainsString([]string{MentionedIn, SourceFrom}, label) {
			if src == document {
				linked[tgt] = true
			} else if tgt == document {
				linked[src] = true
			}
		}
	}

	if len(sub.Entities) == 0 || document == "" {
		return sub, nil
	}
	if _, ok := index[document]; !ok {
		e := &rag.Entity{Name: document, Type: DocumentEntityType, Description: "来源文件 " + document, SourceId: marker, FilePath: marker}
		index[document] = e
		sub.Entities = append(sub.Entities, e)
	}
	for _, e := range sub.Entities {
		if e.Name == document || linked[e.Name] {
			continue
		}
		sub.Relations = append(sub.Relations, &rag.Relation{
			Source:      e.Name,
			Target:      document,
			Label:       MentionedIn,
			Description: fmt.Sprintf("%s 出现在 %s 中", e.Name, document),
			Weight:      1,
			SourceId:    marker,
			FilePath:    marker,
		})
	}
	return sub, nil
}

type keyed struct {
	key   string
	value any
}

// items flattens an object keyed by id (sorted for stable output) or an array.
func items(v any) []keyed {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]keyed, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyed{key: k, value: t[k]})
		}
		return out
	case []any:
		out := make([]keyed, 0, len(t))
		for _, x := range t {
			out = append(out, keyed{value: x})
		}
		return out
	}
	return nil
}

func decodeLoose(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
