package causal

import (
	"fmt"
	"time"
)

// NodeType classifies a node in the causal graph.
type NodeType string

const (
	NodeSymptom   NodeType = "symptom"
	NodeDiagnosis NodeType = "diagnosis"
	NodeTreatment NodeType = "treatment"
	NodeOutcome   NodeType = "outcome"
	NodeEvidence  NodeType = "evidence"
)

// NodeTypes lists every node type in canonical order.
var NodeTypes = []NodeType{NodeSymptom, NodeDiagnosis, NodeTreatment, NodeOutcome, NodeEvidence}

// Validate checks that the node type is one of the known values.
func (t NodeType) Validate() error {
	switch t {
	case NodeSymptom, NodeDiagnosis, NodeTreatment, NodeOutcome, NodeEvidence:
		return nil
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown node type %q", string(t))}
	}
}

// EdgeType classifies the relationship carried by an edge.
type EdgeType string

const (
	EdgeCauses    EdgeType = "causes"
	EdgeTreatedBy EdgeType = "treated_by"
	EdgeLeadsTo   EdgeType = "leads_to"
	EdgeSupports  EdgeType = "supports"
)

// Validate checks that the edge type is one of the known values.
func (t EdgeType) Validate() error {
	switch t {
	case EdgeCauses, EdgeTreatedBy, EdgeLeadsTo, EdgeSupports:
		return nil
	default:
		return &ValidationError{Field: "edge_type", Reason: fmt.Sprintf("unknown edge type %q", string(t))}
	}
}

// Strength is a coarse bucket of an edge's confidence.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// Validate checks that the strength is one of the known values.
func (s Strength) Validate() error {
	switch s {
	case StrengthWeak, StrengthModerate, StrengthStrong:
		return nil
	default:
		return &ValidationError{Field: "strength", Reason: fmt.Sprintf("unknown strength %q", string(s))}
	}
}

// StrengthFor buckets a confidence value: >= 0.8 strong, >= 0.6 moderate,
// otherwise weak.
func StrengthFor(confidence float64) Strength {
	switch {
	case confidence >= 0.8:
		return StrengthStrong
	case confidence >= 0.6:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// ReasoningType records how an edge was derived.
type ReasoningType string

const (
	ReasoningSymbolic      ReasoningType = "symbolic"
	ReasoningProbabilistic ReasoningType = "probabilistic"
	ReasoningLLM           ReasoningType = "llm_based"
)

// Validate checks that the reasoning type is one of the known values.
func (r ReasoningType) Validate() error {
	switch r {
	case ReasoningSymbolic, ReasoningProbabilistic, ReasoningLLM:
		return nil
	default:
		return &ValidationError{Field: "reasoning_type", Reason: fmt.Sprintf("unknown reasoning type %q", string(r))}
	}
}

// NodeID identifies a node within a graph.
type NodeID string

// Node is a single medical claim in the graph.
type Node struct {
	ID         NodeID         `json:"id"`
	Type       NodeType       `json:"type"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks the node's structural invariants.
func (n *Node) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if err := n.Type.Validate(); err != nil {
		return err
	}
	return validateConfidence(n.Confidence)
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	Source        NodeID         `json:"source"`
	Target        NodeID         `json:"target"`
	Type          EdgeType       `json:"edge_type"`
	Confidence    float64        `json:"confidence"`
	Strength      Strength       `json:"strength"`
	EvidenceRefs  []string       `json:"evidence_refs"`
	ReasoningType ReasoningType  `json:"reasoning_type"`
	Metadata      map[string]any `json:"metadata"`
}

// Validate checks the edge's field invariants. Endpoint existence is checked
// by the owning graph, not here.
func (e *Edge) Validate() error {
	if e.Source == "" {
		return &ValidationError{Field: "source", Reason: "required"}
	}
	if e.Target == "" {
		return &ValidationError{Field: "target", Reason: "required"}
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if err := e.Strength.Validate(); err != nil {
		return err
	}
	if err := e.ReasoningType.Validate(); err != nil {
		return err
	}
	return validateConfidence(e.Confidence)
}

func validateConfidence(c float64) error {
	// NaN fails both comparisons, so test the accepted range directly.
	if !(c >= 0 && c <= 1) {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("must be in [0,1], got %v", c)}
	}
	return nil
}

// Stats summarises a graph's structure.
type Stats struct {
	NumNodes    int              `json:"num_nodes"`
	NumEdges    int              `json:"num_edges"`
	NodeTypes   map[NodeType]int `json:"node_types"`
	EdgeTypes   map[EdgeType]int `json:"edge_types"`
	Density     float64          `json:"density"`
	IsDAG       bool             `json:"is_dag"`
	IsConnected bool             `json:"is_connected"`
}
