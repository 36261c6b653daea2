// Package builder assembles a causal graph from the four producer payloads.
package builder

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/pkg/causal"
)

// Default node confidences by type.
const (
	SymptomConfidence   = 0.85
	DiagnosisConfidence = 0.80
	TreatmentConfidence = 0.75
	OutcomeConfidence   = 0.70
)

// Build constants.
const (
	MaxEvidenceDocuments   = 3
	EvidenceContentLength  = 100
	EvidenceLinkConfidence = 0.7
	PruneThreshold         = 0.3
)

// Builder turns producer payloads into a pruned causal graph.
type Builder struct {
	logger *zap.Logger
	opts   []causal.GraphOption
}

// New creates a builder. Graph options are applied to every graph it builds.
func New(logger *zap.Logger, opts ...causal.GraphOption) *Builder {
	return &Builder{logger: logging.OrNop(logger).Named("builder"), opts: opts}
}

// entityPool maps case-folded entity text to its node, remembering
// insertion order so substring resolution is deterministic.
type entityPool struct {
	keys []string
	ids  map[string]causal.NodeID
}

func newEntityPool() *entityPool {
	return &entityPool{ids: make(map[string]causal.NodeID)}
}

func (p *entityPool) add(entity string, id causal.NodeID) {
	key := strings.ToLower(entity)
	if _, ok := p.ids[key]; ok {
		return
	}
	p.keys = append(p.keys, key)
	p.ids[key] = id
}

// match returns the first key, in insertion order, that equals key or
// contains it.
func (p *entityPool) match(key string) (causal.NodeID, bool) {
	for _, k := range p.keys {
		if k == key || strings.Contains(k, key) {
			return p.ids[k], true
		}
	}
	return "", false
}

// Build assembles the graph:
//
//  1. one node per distinct symptom, diagnosis, treatment and outcome
//  2. one evidence node per top context document
//  3. one edge per resolvable causal chain
//  4. every evidence node supports the first diagnosis
//  5. edges below PruneThreshold are pruned
//
// Unresolvable chain endpoints are skipped. Cycles and disconnected
// components are logged, never rejected.
func (b *Builder) Build(
	evidence producer.EvidencePayload,
	docs []producer.ContextDocument,
	causalOut producer.CausalPayload,
	contradictions producer.ContradictionPayload,
) (*causal.Graph, error) {
	g := causal.New(b.opts...)
	g.Metadata["num_contradictions"] = len(contradictions.Contradictions)
	g.Metadata["num_resolutions"] = len(contradictions.Resolutions)

	pools := []*entityPool{newEntityPool(), newEntityPool(), newEntityPool(), newEntityPool()}
	groups := []struct {
		entities   []string
		nodeType   causal.NodeType
		confidence float64
	}{
		{evidence.Symptoms, causal.NodeSymptom, SymptomConfidence},
		{evidence.Diagnoses, causal.NodeDiagnosis, DiagnosisConfidence},
		{evidence.Treatments, causal.NodeTreatment, TreatmentConfidence},
		{evidence.Outcomes, causal.NodeOutcome, OutcomeConfidence},
	}

	// Entity nodes
	for i, grp := range groups {
		for _, entity := range grp.entities {
			id, err := g.AddNode(entity, grp.nodeType, grp.confidence)
			if err != nil {
				return nil, err
			}
			pools[i].add(entity, id)
		}
	}

	// Evidence nodes from the top context documents
	var evidenceIDs []causal.NodeID
	for i, doc := range docs {
		if i == MaxEvidenceDocuments {
			break
		}
		md := doc.Metadata
		if md == nil {
			md = map[string]any{}
		}
		id, err := g.AddNode(truncate(doc.Text, EvidenceContentLength), causal.NodeEvidence, doc.Score,
			causal.WithMetadata(map[string]any{"source": md}))
		if err != nil {
			return nil, err
		}
		evidenceIDs = append(evidenceIDs, id)
	}

	// Causal edges
	for _, chain := range causalOut.Chains {
		from, okFrom := resolve(pools, chain.From)
		to, okTo := resolve(pools, chain.To)
		if !okFrom || !okTo {
			b.logger.Debug("Skipping causal chain with unresolved endpoint",
				zap.String("from", chain.From),
				zap.String("to", chain.To),
				zap.Bool("from_resolved", okFrom),
				zap.Bool("to_resolved", okTo))
			continue
		}

		_, _, err := g.AddEdge(from, to, EdgeTypeFor(chain.Relationship), chain.Confidence,
			causal.WithStrength(causal.StrengthFor(chain.Confidence)),
			causal.WithEvidenceRefs(chain.Evidence),
			causal.WithReasoningType(causal.ReasoningLLM),
			causal.WithEdgeMetadata(map[string]any{"relationship": chain.Relationship}),
		)
		if err != nil {
			return nil, err
		}
	}

	// Evidence supports the primary diagnosis
	if diagnoses := g.FindNodesByType(causal.NodeDiagnosis); len(diagnoses) > 0 {
		for _, ev := range evidenceIDs {
			_, _, err := g.AddEdge(ev, diagnoses[0], causal.EdgeSupports, EvidenceLinkConfidence,
				causal.WithStrength(causal.StrengthModerate))
			if err != nil {
				return nil, err
			}
		}
	}

	if removed := g.PruneBelowConfidence(PruneThreshold); removed > 0 {
		b.logger.Info("Pruned low-confidence edges", zap.Int("removed", removed))
	}

	stats := g.Stats()
	if !stats.IsDAG {
		b.logger.Warn("Causal graph contains cycles", zap.String("graph_id", g.ID))
	}
	if !stats.IsConnected {
		b.logger.Warn("Causal graph is not weakly connected", zap.String("graph_id", g.ID))
	}
	b.logger.Info("Causal graph built",
		zap.String("graph_id", g.ID),
		zap.Int("nodes", stats.NumNodes),
		zap.Int("edges", stats.NumEdges),
		zap.Float64("density", stats.Density))

	return g, nil
}

// resolve maps an entity string to a node by case-insensitive exact or
// substring match (pool key contains the entity). Pools are searched in
// order symptom, diagnosis, treatment, outcome and the first hit wins, so
// a substring match in an earlier pool beats an exact match in a later one.
func resolve(pools []*entityPool, entity string) (causal.NodeID, bool) {
	key := strings.ToLower(strings.TrimSpace(entity))
	if key == "" {
		return "", false
	}
	for _, p := range pools {
		if id, ok := p.match(key); ok {
			return id, true
		}
	}
	return "", false
}

// EdgeTypeFor classifies relationship text by keyword.
func EdgeTypeFor(relationship string) causal.EdgeType {
	r := strings.ToLower(relationship)
	switch {
	case strings.Contains(r, "cause"), strings.Contains(r, "leads to"):
		return causal.EdgeCauses
	case strings.Contains(r, "treat"):
		return causal.EdgeTreatedBy
	case strings.Contains(r, "result"), strings.Contains(r, "outcome"):
		return causal.EdgeLeadsTo
	default:
		return causal.EdgeSupports
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
