package graph

import (
	"encoding/xml"
	"io"
	"strconv"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
)

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

type gmlDoc struct {
	XMLName xml.Name `xml:"graphml"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Keys    []gmlKey `xml:"key"`
	Graph   gmlGraph `xml:"graph"`
}

type gmlKey struct {
	Id   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type gmlGraph struct {
	EdgeDefault string    `xml:"edgedefault,attr"`
	Nodes       []gmlNode `xml:"node"`
	Edges       []gmlEdge `xml:"edge"`
}

type gmlNode struct {
	Id   string    `xml:"id,attr"`
	Data []gmlData `xml:"data"`
}

type gmlEdge struct {
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []gmlData `xml:"data"`
}

type gmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var (
	nodeKeys = []gmlKey{
		{Id: "d0", For: "node", Name: "entity_type", Type: "string"},
		{Id: "d1", For: "node", Name: "description", Type: "string"},
		{Id: "d2", For: "node", Name: "source_id", Type: "string"},
		{Id: "d3", For: "node", Name: "file_path", Type: "string"},
		{Id: "d4", For: "node", Name: "created_at", Type: "long"},
		{Id: "d5", For: "node", Name: "attributes", Type: "string"},
	}
	edgeKeys = []gmlKey{
		{Id: "d6", For: "edge", Name: "weight", Type: "double"},
		{Id: "d7", For: "edge", Name: "description", Type: "string"},
		{Id: "d8", For: "edge", Name: "keywords", Type: "string"},
		{Id: "d9", For: "edge", Name: "source_id", Type: "string"},
		{Id: "d10", For: "edge", Name: "file_path", Type: "string"},
		{Id: "d11", For: "edge", Name: "created_at", Type: "long"},
	}
)

func encodeGraphML(w io.Writer, nodes []*rag.Entity, edges []*rag.Relation) error {
	doc := gmlDoc{
		Xmlns: graphMLNamespace,
		Keys:  append(append([]gmlKey{}, nodeKeys...), edgeKeys...),
		Graph: gmlGraph{EdgeDefault: "undirected"},
	}
	for _, n := range nodes {
		data := []gmlData{
			{Key: "d0", Value: n.Type},
			{Key: "d1", Value: n.Description},
			{Key: "d2", Value: n.SourceId},
			{Key: "d3", Value: n.FilePath},
			{Key: "d4", Value: strconv.FormatInt(n.CreatedAt, 10)},
		}
		if len(n.Attributes) > 0 {
			raw, err := json.Marshal(n.Attributes)
			if err != nil {
				return errors.Wrapf(err, "encode attributes of %s", n.Name)
			}
			data = append(data, gmlData{Key: "d5", Value: string(raw)})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, gmlNode{Id: n.Name, Data: data})
	}
	for _, e := range edges {
		doc.Graph.Edges = append(doc.Graph.Edges, gmlEdge{
			Source: e.Source,
			Target: e.Target,
			Data: []gmlData{
				{Key: "d6", Value: strconv.FormatFloat(e.Weight, 'f', -1, 64)},
				{Key: "d7", Value: e.Description},
				{Key: "d8", Value: e.Label},
				{Key: "d9", Value: e.SourceId},
				{Key: "d10", Value: e.FilePath},
				{Key: "d11", Value: strconv.FormatInt(e.CreatedAt, 10)},
			},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode graphml")
	}
	return enc.Flush()
}

// decodeGraphML reads files written by this package or by networkx, where
// key ids are arbitrary and resolved through attr.name.
func decodeGraphML(r io.Reader) ([]*rag.Entity, []*rag.Relation, error) {
	var doc gmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, errors.Wrap(err, "decode graphml")
	}
	names := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		names[k.Id] = k.Name
	}

	nodes := make([]*rag.Entity, 0, len(doc.Graph.Nodes))
	for _, n := range doc.Graph.Nodes {
		e := &rag.Entity{Name: n.Id}
		for _, d := range n.Data {
			switch names[d.Key] {
			case "entity_type":
				e.Type = d.Value
			case "description":
				e.Description = d.Value
			case "source_id":
				e.SourceId = d.Value
			case "file_path":
				e.FilePath = d.Value
			case "created_at":
				e.CreatedAt, _ = strconv.ParseInt(d.Value, 10, 64)
			case "attributes":
				_ = json.Unmarshal([]byte(d.Value), &e.Attributes)
			}
		}
		nodes = append(nodes, e)
	}

	edges := make([]*rag.Relation, 0, len(doc.Graph.Edges))
	for _, ge := range doc.Graph.Edges {
		e := &rag.Relation{Source: ge.Source, Target: ge.Target}
		for _, d := range ge.Data {
			switch names[d.Key] {
			case "weight":
				e.Weight, _ = strconv.ParseFloat(d.Value, 64)
			case "description":
				e.Description = d.Value
			case "keywords":
				e.Label = d.Value
			case "source_id":
				e.SourceId = d.Value
			case "file_path":
				e.FilePath = d.Value
			case "created_at":
				e.CreatedAt, _ = strconv.ParseInt(d.Value, 10, 64)
			}
		}
		edges = append(edges, e)
	}
	return nodes, edges, nil
}
