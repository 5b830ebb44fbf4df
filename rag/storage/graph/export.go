package graph

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-graphviz"
	"github.com/pkg/errors"
)

const DefaultViewLimit = 200

type ViewNode struct {
	Id     string  `json:"id"`
	Label  string  `json:"label"`
	Type   string  `json:"type"`
	Rank   float64 `json:"rank"`
	Degree int     `json:"degree"`
}

type ViewEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

// View is the display form of a document subgraph.
type View struct {
	Nodes []*ViewNode `json:"nodes"`
	Edges []*ViewEdge `json:"edges"`
}

// Export keeps the limit highest-ranked nodes of the document subgraph.
// Nodes are ranked by PageRank, ties broken by degree then name.
func (s *Store) Export(docId int64, limit int) *View {
	if limit <= 0 {
		limit = DefaultViewLimit
	}
	sub := s.DocSubgraph(docId)
	rank := s.PageRank()

	nodes := make([]*ViewNode, 0, len(sub.Entities))
	for _, e := range sub.Entities {
		nodes = append(nodes, &ViewNode{
			Id:     e.Name,
			Label:  e.Name,
			Type:   e.Type,
			Rank:   rank[e.Name],
			Degree: s.Degree(e.Name),
		})
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Rank != nodes[j].Rank {
			return nodes[i].Rank > nodes[j].Rank
		}
		if nodes[i].Degree != nodes[j].Degree {
			return nodes[i].Degree > nodes[j].Degree
		}
		return nodes[i].Id < nodes[j].Id
	})
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	kept := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		kept[n.Id] = true
	}
	view := &View{Nodes: nodes, Edges: make([]*ViewEdge, 0)}
	for _, r := range sub.Relations {
		if !kept[r.Source] || !kept[r.Target] {
			continue
		}
		label := r.Description
		if label == "" {
			label = r.Label
		}
		view.Edges = append(view.Edges, &ViewEdge{
			Source: r.Source,
			Target: r.Target,
			Label:  truncateRunes(label, 20),
			Weight: r.Weight,
		})
	}
	return view
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Render draws the view with graphviz, format is "dot" or "svg".
func Render(ctx context.Context, view *View, format string) ([]byte, error) {
	var f graphviz.Format
	switch format {
	case "dot", "":
		f = graphviz.XDOT
	case "svg":
		f = graphviz.SVG
	default:
		return nil, errors.Errorf("unsupported graph format %q", format)
	}

	g, err := graphviz.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "init graphviz")
	}
	defer g.Close()
	graph, err := g.Graph()
	if err != nil {
		return nil, errors.Wrap(err, "create graph")
	}
	defer graph.Close()

	for _, n := range view.Nodes {
		node, err := graph.CreateNodeByName(n.Id)
		if err != nil {
			return nil, errors.Wrapf(err, "create node %s", n.Id)
		}
		node.SetLabel(fmt.Sprintf("%s\n(%s)", n.Label, n.Type))
	}
	for i, e := range view.Edges {
		src, err := graph.NodeByName(e.Source)
		if err != nil || src == nil {
			continue
		}
		dst, err := graph.NodeByName(e.Target)
		if err != nil || dst == nil {
			continue
		}
		edge, err := graph.CreateEdgeByName(fmt.Sprintf("e%d", i), src, dst)
		if err != nil {
			return nil, errors.Wrap(err, "create edge")
		}
		edge.SetLabel(e.Label)
	}

	var buf bytes.Buffer
	if err := g.Render(ctx, graph, f, &buf); err != nil {
		return nil, errors.Wrap(err, "render graph")
	}
	return buf.Bytes(), nil
}
