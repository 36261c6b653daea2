package causal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the serialized form of a Graph. It round-trips exactly: graph
// ID, timestamps and every node and edge field are preserved.
type Document struct {
	GraphID   string         `json:"graph_id"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
}

// Document returns the serializable snapshot of the graph.
func (g *Graph) Document() Document {
	return Document{
		GraphID:   g.ID,
		CreatedAt: g.CreatedAt,
		Metadata:  g.Metadata,
		Nodes:     g.Nodes(),
		Edges:     g.Edges(),
	}
}

// FromDocument rebuilds a graph from its serialized form.
// Node and edge fields are validated; an edge referencing a node missing from
// the document yields a *ReferenceError.
func FromDocument(doc Document) (*Graph, error) {
	if doc.GraphID == "" {
		return nil, &ValidationError{Field: "graph_id", Reason: "required"}
	}

	g := New(WithGraphID(doc.GraphID), WithGraphMetadata(doc.Metadata))
	g.CreatedAt = doc.CreatedAt

	for i := range doc.Nodes {
		n := doc.Nodes[i]
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if _, dup := g.nodeIndex[n.ID]; dup {
			return nil, fmt.Errorf("node %d: %w", i, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate node id %q", n.ID)})
		}
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		g.insertNode(n)
	}

	for i, e := range doc.Edges {
		_, _, err := g.AddEdge(e.Source, e.Target, e.Type, e.Confidence,
			WithStrength(e.Strength),
			WithEvidenceRefs(e.EvidenceRefs...),
			WithReasoningType(e.ReasoningType),
			WithEdgeMetadata(e.Metadata),
		)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
	}

	return g, nil
}

// MarshalJSON encodes the graph as a Document.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Document())
}

// UnmarshalJSON replaces g with the graph decoded from a Document.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode graph document: %w", err)
	}
	decoded, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}
