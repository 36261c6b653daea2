package trail

import "github.com/dyluth/sevai/pkg/causal"

// Position is left at the origin; layout happens in the consumer.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VizNodeData is the payload of a visualization node.
type VizNodeData struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Type       causal.NodeType `json:"type"`
}

// VizNode is a node in the React Flow shape.
type VizNode struct {
	ID       causal.NodeID `json:"id"`
	Data     VizNodeData   `json:"data"`
	Type     string        `json:"type"`
	Position Position      `json:"position"`
}

// VizEdgeData is the payload of a visualization edge.
type VizEdgeData struct {
	Confidence float64         `json:"confidence"`
	Strength   causal.Strength `json:"strength"`
}

// VizEdge is an edge in the React Flow shape.
type VizEdge struct {
	ID       string        `json:"id"`
	Source   causal.NodeID `json:"source"`
	Target   causal.NodeID `json:"target"`
	Label    string        `json:"label"`
	Data     VizEdgeData   `json:"data"`
	Animated bool          `json:"animated"`
}

// Visualization is a graph ready for a node/edge renderer.
type Visualization struct {
	Nodes []VizNode `json:"nodes"`
	Edges []VizEdge `json:"edges"`
}

// ExportForVisualization maps every node and edge of g, in insertion order.
func ExportForVisualization(g *causal.Graph) Visualization {
	v := Visualization{Nodes: []VizNode{}, Edges: []VizEdge{}}
	for _, n := range g.Nodes() {
		v.Nodes = append(v.Nodes, VizNode{
			ID:   n.ID,
			Data: VizNodeData{Label: n.Content, Confidence: n.Confidence, Type: n.Type},
			Type: string(n.Type),
		})
	}
	for _, e := range g.Edges() {
		v.Edges = append(v.Edges, VizEdge{
			ID:       string(e.Source) + "-" + string(e.Target),
			Source:   e.Source,
			Target:   e.Target,
			Label:    string(e.Type),
			Data:     VizEdgeData{Confidence: e.Confidence, Strength: e.Strength},
			Animated: e.Confidence > AnimatedAbove,
		})
	}
	return v
}
