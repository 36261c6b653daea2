// Package trail turns a causal graph into symptom-to-outcome reasoning paths,
// narratives and a visualization export.
package trail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/sevai/pkg/causal"
)

// Output caps.
const (
	MaxPaths      = 10
	MaxNarratives = 5
	MaxKeySteps   = 5
	// EvidenceExcerpt is how many characters of an evidence node a narrative quotes.
	EvidenceExcerpt = 50
	// AnimatedAbove marks visualization edges whose confidence exceeds it.
	AnimatedAbove = 0.8
)

// NoPathNarrative is rendered for an empty path.
const NoPathNarrative = "No reasoning path available."

// Path is one simple path from a symptom to an outcome.
type Path struct {
	Nodes  []causal.NodeID `json:"path"`
	Start  causal.NodeID   `json:"start"`
	End    causal.NodeID   `json:"end"`
	Length int             `json:"length"`
}

// KeyStep is a node that appears on many reasoning paths.
type KeyStep struct {
	NodeID     causal.NodeID   `json:"node_id"`
	Content    string          `json:"content"`
	Type       causal.NodeType `json:"type"`
	Confidence float64         `json:"confidence"`
	Frequency  int             `json:"frequency"`
}

// Trail is the extracted reasoning for one graph.
type Trail struct {
	GraphID    string       `json:"graph_id"`
	NumPaths   int          `json:"num_paths"`
	Paths      []Path       `json:"paths"`
	Narratives []string     `json:"narratives"`
	KeySteps   []KeyStep    `json:"key_steps"`
	GraphStats causal.Stats `json:"graph_stats"`
}

// Extract enumerates every simple path from each symptom to each outcome.
func Extract(g *causal.Graph) Trail {
	var all []Path
	for _, s := range g.FindNodesByType(causal.NodeSymptom) {
		for _, o := range g.FindNodesByType(causal.NodeOutcome) {
			for _, p := range g.AllSimplePaths(s, o) {
				all = append(all, Path{Nodes: p, Start: s, End: o, Length: len(p)})
			}
		}
	}

	t := Trail{
		GraphID:    g.ID,
		NumPaths:   len(all),
		Paths:      []Path{},
		Narratives: []string{},
		KeySteps:   keySteps(g, all),
		GraphStats: g.Stats(),
	}
	t.Paths = append(t.Paths, all[:min(len(all), MaxPaths)]...)
	for _, p := range all[:min(len(all), MaxNarratives)] {
		t.Narratives = append(t.Narratives, Narrative(g, p.Nodes))
	}
	return t
}

// Narrative renders one path as indented prose, one line per node and one
// annotation line per edge.
func Narrative(g *causal.Graph, path []causal.NodeID) string {
	if len(path) == 0 {
		return NoPathNarrative
	}

	var lines []string
	for i, id := range path {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		if line := describe(n); line != "" {
			lines = append(lines, line)
		}
		if i < len(path)-1 {
			if e, ok := g.Edge(id, path[i+1]); ok {
				lines = append(lines, fmt.Sprintf("  └─ (%s, confidence: %s)", e.Type, percent(e.Confidence)))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func describe(n causal.Node) string {
	switch n.Type {
	case causal.NodeSymptom:
		return fmt.Sprintf("Patient presented with %s (confidence: %s)", n.Content, percent(n.Confidence))
	case causal.NodeDiagnosis:
		return fmt.Sprintf("Diagnosed with %s (confidence: %s)", n.Content, percent(n.Confidence))
	case causal.NodeTreatment:
		return fmt.Sprintf("Treatment: %s (confidence: %s)", n.Content, percent(n.Confidence))
	case causal.NodeOutcome:
		return fmt.Sprintf("Expected outcome: %s (confidence: %s)", n.Content, percent(n.Confidence))
	case causal.NodeEvidence:
		return fmt.Sprintf("Supporting evidence: %s...", excerpt(n.Content, EvidenceExcerpt))
	}
	return ""
}

// keySteps ranks nodes by how many paths they lie on. Ties keep the order in
// which nodes were first seen.
func keySteps(g *causal.Graph, paths []Path) []KeyStep {
	freq := map[causal.NodeID]int{}
	var order []causal.NodeID
	for _, p := range paths {
		for _, id := range p.Nodes {
			if freq[id] == 0 {
				order = append(order, id)
			}
			freq[id]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })

	steps := []KeyStep{}
	for _, id := range order[:min(len(order), MaxKeySteps)] {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		steps = append(steps, KeyStep{
			NodeID:     id,
			Content:    n.Content,
			Type:       n.Type,
			Confidence: n.Confidence,
			Frequency:  freq[id],
		})
	}
	return steps
}

func percent(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
