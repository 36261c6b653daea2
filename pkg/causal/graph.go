package causal

import (
	"time"

	"github.com/google/uuid"
)

type edgeKey struct {
	source int
	target int
}

// Graph is a directed causal graph stored as an arena of nodes and edges.
//
// Nodes and edges are addressed by position in their arena slices; adjacency
// is kept as per-node index lists into the edge arena. Node positions are
// stable for the life of the graph (nodes are never removed). Edge positions
// change when edges are pruned.
type Graph struct {
	ID        string
	CreatedAt time.Time
	Metadata  map[string]any

	nodes     []Node
	nodeIndex map[NodeID]int

	edges     []Edge
	edgeIndex map[edgeKey]int
	out       [][]int
	in        [][]int

	now func() time.Time
}

// GraphOption configures a new Graph.
type GraphOption func(*Graph)

// WithGraphID sets an explicit graph ID instead of a generated UUID.
func WithGraphID(id string) GraphOption {
	return func(g *Graph) { g.ID = id }
}

// WithGraphMetadata sets the graph's free-form metadata.
func WithGraphMetadata(md map[string]any) GraphOption {
	return func(g *Graph) { g.Metadata = md }
}

// WithClock overrides the time source used for CreatedAt stamps.
func WithClock(now func() time.Time) GraphOption {
	return func(g *Graph) { g.now = now }
}

// New creates an empty graph with a fresh UUID and creation timestamp.
func New(opts ...GraphOption) *Graph {
	g := &Graph{
		ID:        uuid.New().String(),
		Metadata:  map[string]any{},
		nodeIndex: make(map[NodeID]int),
		edgeIndex: make(map[edgeKey]int),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.Metadata == nil {
		g.Metadata = map[string]any{}
	}
	g.CreatedAt = g.now()
	return g
}

type nodeOptions struct {
	id       NodeID
	metadata map[string]any
}

// NodeOption configures AddNode.
type NodeOption func(*nodeOptions)

// WithID supplies an explicit node ID, bypassing content addressing.
func WithID(id NodeID) NodeOption {
	return func(o *nodeOptions) { o.id = id }
}

// WithMetadata attaches metadata to a new node.
func WithMetadata(md map[string]any) NodeOption {
	return func(o *nodeOptions) { o.metadata = md }
}

// AddNode inserts a node and returns its ID.
//
// Insertion is idempotent: if a node with the same ID already exists the
// existing node is kept unchanged and its ID returned.
func (g *Graph) AddNode(content string, t NodeType, confidence float64, opts ...NodeOption) (NodeID, error) {
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	id := o.id
	if id == "" {
		id = NewNodeID(t, content)
	}

	md := o.metadata
	if md == nil {
		md = map[string]any{}
	}
	n := Node{
		ID:         id,
		Type:       t,
		Content:    content,
		Confidence: confidence,
		Metadata:   md,
		CreatedAt:  g.now(),
	}
	if err := n.Validate(); err != nil {
		return "", err
	}
	if _, exists := g.nodeIndex[id]; exists {
		return id, nil
	}

	g.insertNode(n)
	return id, nil
}

func (g *Graph) insertNode(n Node) {
	g.nodeIndex[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
}

// AddSymptom adds a symptom node.
func (g *Graph) AddSymptom(content string, confidence float64) (NodeID, error) {
	return g.AddNode(content, NodeSymptom, confidence)
}

// AddDiagnosis adds a diagnosis node.
func (g *Graph) AddDiagnosis(content string, confidence float64) (NodeID, error) {
	return g.AddNode(content, NodeDiagnosis, confidence)
}

// AddTreatment adds a treatment node.
func (g *Graph) AddTreatment(content string, confidence float64) (NodeID, error) {
	return g.AddNode(content, NodeTreatment, confidence)
}

// AddOutcome adds an outcome node.
func (g *Graph) AddOutcome(content string, confidence float64) (NodeID, error) {
	return g.AddNode(content, NodeOutcome, confidence)
}

// AddEvidence adds an evidence node with its source recorded in metadata.
func (g *Graph) AddEvidence(content string, confidence float64, source string) (NodeID, error) {
	return g.AddNode(content, NodeEvidence, confidence, WithMetadata(map[string]any{"source": source}))
}

type edgeOptions struct {
	strength      Strength
	evidenceRefs  []string
	reasoningType ReasoningType
	metadata      map[string]any
}

// EdgeOption configures AddEdge.
type EdgeOption func(*edgeOptions)

// WithStrength sets the edge strength (default moderate).
func WithStrength(s Strength) EdgeOption {
	return func(o *edgeOptions) { o.strength = s }
}

// WithEvidenceRefs sets the edge's ordered evidence references.
func WithEvidenceRefs(refs ...string) EdgeOption {
	return func(o *edgeOptions) { o.evidenceRefs = refs }
}

// WithReasoningType sets how the edge was derived (default llm_based).
func WithReasoningType(r ReasoningType) EdgeOption {
	return func(o *edgeOptions) { o.reasoningType = r }
}

// WithEdgeMetadata attaches metadata to the edge.
func WithEdgeMetadata(md map[string]any) EdgeOption {
	return func(o *edgeOptions) { o.metadata = md }
}

// AddEdge inserts a directed edge between two existing nodes.
//
// Returns a *ReferenceError if either endpoint is absent and a
// *ValidationError for bad field values; in both cases the graph is left
// unchanged. Adding an edge for a (source, target) pair that already has one
// replaces the existing edge's attributes.
func (g *Graph) AddEdge(source, target NodeID, t EdgeType, confidence float64, opts ...EdgeOption) (NodeID, NodeID, error) {
	si, ok := g.nodeIndex[source]
	if !ok {
		return "", "", &ReferenceError{Source: source, Target: target, Missing: source}
	}
	ti, ok := g.nodeIndex[target]
	if !ok {
		return "", "", &ReferenceError{Source: source, Target: target, Missing: target}
	}

	o := edgeOptions{
		strength:      StrengthModerate,
		reasoningType: ReasoningLLM,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.evidenceRefs == nil {
		o.evidenceRefs = []string{}
	}
	if o.metadata == nil {
		o.metadata = map[string]any{}
	}

	e := Edge{
		Source:        source,
		Target:        target,
		Type:          t,
		Confidence:    confidence,
		Strength:      o.strength,
		EvidenceRefs:  o.evidenceRefs,
		ReasoningType: o.reasoningType,
		Metadata:      o.metadata,
	}
	if err := e.Validate(); err != nil {
		return "", "", err
	}

	key := edgeKey{si, ti}
	if existing, ok := g.edgeIndex[key]; ok {
		g.edges[existing] = e
		return source, target, nil
	}

	g.edgeIndex[key] = len(g.edges)
	g.out[si] = append(g.out[si], len(g.edges))
	g.in[ti] = append(g.in[ti], len(g.edges))
	g.edges = append(g.edges, e)
	return source, target, nil
}

// Node returns the node with the given ID. ok is false when it is absent.
func (g *Graph) Node(id NodeID) (Node, bool) {
	i, ok := g.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Edge returns the edge from source to target. ok is false when it is absent.
func (g *Graph) Edge(source, target NodeID) (Edge, bool) {
	si, ok := g.nodeIndex[source]
	if !ok {
		return Edge{}, false
	}
	ti, ok := g.nodeIndex[target]
	if !ok {
		return Edge{}, false
	}
	ei, ok := g.edgeIndex[edgeKey{si, ti}]
	if !ok {
		return Edge{}, false
	}
	return g.edges[ei], true
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Successors returns the IDs of nodes reachable by one outgoing edge.
func (g *Graph) Successors(id NodeID) []NodeID {
	i, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	out := make([]NodeID, 0, len(g.out[i]))
	for _, ei := range g.out[i] {
		out = append(out, g.edges[ei].Target)
	}
	return out
}

// Predecessors returns the IDs of nodes with an edge into id.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	i, ok := g.nodeIndex[id]
	if !ok {
		return nil
	}
	out := make([]NodeID, 0, len(g.in[i]))
	for _, ei := range g.in[i] {
		out = append(out, g.edges[ei].Source)
	}
	return out
}

// FindNodesByType returns the IDs of all nodes of type t in insertion order.
func (g *Graph) FindNodesByType(t NodeType) []NodeID {
	var ids []NodeID
	for _, n := range g.nodes {
		if n.Type == t {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// PruneBelowConfidence removes every edge with confidence below threshold and
// returns the number removed. Nodes are never removed, even if they become
// isolated.
func (g *Graph) PruneBelowConfidence(threshold float64) int {
	kept := g.edges[:0]
	removed := 0
	for _, e := range g.edges {
		if e.Confidence < threshold {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0
	}
	g.edges = kept
	g.reindexEdges()
	return removed
}

// reindexEdges rebuilds the edge index and adjacency lists from the edge arena.
func (g *Graph) reindexEdges() {
	g.edgeIndex = make(map[edgeKey]int, len(g.edges))
	for i := range g.out {
		g.out[i] = nil
		g.in[i] = nil
	}
	for ei, e := range g.edges {
		si := g.nodeIndex[e.Source]
		ti := g.nodeIndex[e.Target]
		g.edgeIndex[edgeKey{si, ti}] = ei
		g.out[si] = append(g.out[si], ei)
		g.in[ti] = append(g.in[ti], ei)
	}
}

// Stats computes node/edge counts, per-type counts, density and the
// cycle/connectivity flags.
func (g *Graph) Stats() Stats {
	s := Stats{
		NumNodes:    len(g.nodes),
		NumEdges:    len(g.edges),
		NodeTypes:   make(map[NodeType]int),
		EdgeTypes:   make(map[EdgeType]int),
		IsDAG:       !g.HasCycles(),
		IsConnected: g.IsWeaklyConnected(),
	}
	for _, n := range g.nodes {
		s.NodeTypes[n.Type]++
	}
	for _, e := range g.edges {
		s.EdgeTypes[e.Type]++
	}
	if n := len(g.nodes); n > 1 {
		s.Density = float64(len(g.edges)) / float64(n*(n-1))
	}
	return s
}

// Clone returns a deep copy of the graph. Metadata maps are copied one level
// deep.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		ID:        g.ID,
		CreatedAt: g.CreatedAt,
		Metadata:  copyMap(g.Metadata),
		nodeIndex: make(map[NodeID]int, len(g.nodes)),
		now:       g.now,
	}
	for _, n := range g.nodes {
		n.Metadata = copyMap(n.Metadata)
		c.insertNode(n)
	}
	c.edges = make([]Edge, len(g.edges))
	for i, e := range g.edges {
		e.EvidenceRefs = append([]string{}, e.EvidenceRefs...)
		e.Metadata = copyMap(e.Metadata)
		c.edges[i] = e
	}
	c.reindexEdges()
	return c
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
