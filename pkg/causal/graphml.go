package causal

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

type graphMLDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var graphMLKeys = []graphMLKey{
	{ID: "type", For: "node", AttrName: "type", AttrType: "string"},
	{ID: "content", For: "node", AttrName: "content", AttrType: "string"},
	{ID: "confidence", For: "node", AttrName: "confidence", AttrType: "double"},
	{ID: "edge_type", For: "edge", AttrName: "edge_type", AttrType: "string"},
	{ID: "edge_confidence", For: "edge", AttrName: "confidence", AttrType: "double"},
	{ID: "strength", For: "edge", AttrName: "strength", AttrType: "string"},
	{ID: "reasoning_type", For: "edge", AttrName: "reasoning_type", AttrType: "string"},
}

// WriteGraphML writes the graph in GraphML format for external graph tools.
// Metadata maps are not exported.
func (g *Graph) WriteGraphML(w io.Writer) error {
	doc := graphMLDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys:  graphMLKeys,
		Graph: graphMLGraph{ID: g.ID, EdgeDefault: "directed"},
	}
	for _, n := range g.nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{
			ID: string(n.ID),
			Data: []graphMLData{
				{Key: "type", Value: string(n.Type)},
				{Key: "content", Value: n.Content},
				{Key: "confidence", Value: formatFloat(n.Confidence)},
			},
		})
	}
	for _, e := range g.edges {
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{
			Source: string(e.Source),
			Target: string(e.Target),
			Data: []graphMLData{
				{Key: "edge_type", Value: string(e.Type)},
				{Key: "edge_confidence", Value: formatFloat(e.Confidence)},
				{Key: "strength", Value: string(e.Strength)},
				{Key: "reasoning_type", Value: string(e.ReasoningType)},
			},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write GraphML header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode GraphML: %w", err)
	}
	return enc.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
