// Package bias flags demographic-impact and anchoring patterns in a built
// causal graph and proposes counterfactual re-runs.
//
// Both checks are heuristics over graph content. They report risk, they do
// not judge clinical correctness.
package bias

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/pkg/causal"
)

// Detected bias types.
const (
	TypeHighDemographicImpact = "high_demographic_impact"
	TypePrematureClosure      = "premature_closure"
)

// Recommendations attached to detections.
const (
	RecommendVerifyDemographics   = "Verify demographic factors are clinically relevant"
	RecommendAlternativeDiagnoses = "Consider alternative diagnoses (premature closure detected)"
)

// Thresholds.
const (
	DemographicImpactThreshold = 0.7
	ClosureConfidence          = 0.8
	ClosureMinEvidence         = 2
)

// SensitiveAttributes are the case metadata keys scanned for in node content.
var SensitiveAttributes = []string{"age", "gender", "sex", "race", "ethnicity", "socioeconomic_status"}

// DemographicUsage describes which sensitive attributes appear in the graph.
type DemographicUsage struct {
	UsedExplicitly bool                `json:"used_explicitly"`
	UsedAttributes []string            `json:"used_attributes"`
	ImpactScore    float64             `json:"impact_score"`
	MatchedNodes   map[string][]string `json:"matched_nodes,omitempty"`
}

// Counterfactual proposes re-running the analysis with one attribute changed.
type Counterfactual struct {
	Attribute      string `json:"attribute"`
	Original       any    `json:"original"`
	Counterfactual any    `json:"counterfactual"`
}

// Report is the outcome of a bias check.
type Report struct {
	HasBias         bool             `json:"has_bias"`
	Score           float64          `json:"bias_score"`
	DetectedTypes   []string         `json:"detected_types"`
	Details         map[string]any   `json:"details"`
	Counterfactuals []Counterfactual `json:"counterfactuals"`
	Recommendations []string         `json:"recommendations"`
}

// Detector runs the bias heuristics.
type Detector struct {
	logger *zap.Logger
}

// New creates a detector.
func New(logger *zap.Logger) *Detector {
	return &Detector{logger: logging.OrNop(logger).Named("bias")}
}

// CheckGraph inspects g against the case metadata.
func (d *Detector) CheckGraph(g *causal.Graph, caseMetadata map[string]any) Report {
	r := Report{
		DetectedTypes:   []string{},
		Details:         map[string]any{},
		Recommendations: []string{},
	}

	usage := demographicUsage(g, caseMetadata)
	if usage.UsedExplicitly {
		r.Details["demographic_usage"] = usage
		if usage.ImpactScore > DemographicImpactThreshold {
			r.DetectedTypes = append(r.DetectedTypes, TypeHighDemographicImpact)
			r.Recommendations = append(r.Recommendations, RecommendVerifyDemographics)
		}
	}

	if prematureClosure(g) {
		r.DetectedTypes = append(r.DetectedTypes, TypePrematureClosure)
		r.Details["premature_closure"] = true
		r.Recommendations = append(r.Recommendations, RecommendAlternativeDiagnoses)
	}

	r.Counterfactuals = Counterfactuals(caseMetadata)
	r.HasBias = len(r.DetectedTypes) > 0
	if r.HasBias {
		r.Score = math.Min(1, 0.5+0.1*float64(len(r.DetectedTypes)))
		d.logger.Warn("Potential bias detected",
			zap.String("graph_id", g.ID),
			zap.Strings("types", r.DetectedTypes),
			zap.Float64("score", r.Score))
	}
	return r
}

// demographicUsage scans node content for each sensitive attribute's value.
// Impact is the highest confidence among matching nodes.
func demographicUsage(g *causal.Graph, md map[string]any) DemographicUsage {
	u := DemographicUsage{UsedAttributes: []string{}, MatchedNodes: map[string][]string{}}
	used := map[string]bool{}

	for _, n := range g.Nodes() {
		content := strings.ToLower(n.Content)
		for _, attr := range SensitiveAttributes {
			v, ok := md[attr]
			if !ok || v == nil {
				continue
			}
			value := strings.ToLower(fmt.Sprint(v))
			if value == "" || !strings.Contains(content, value) {
				continue
			}
			u.UsedExplicitly = true
			used[attr] = true
			u.MatchedNodes[attr] = append(u.MatchedNodes[attr], string(n.ID))
			u.ImpactScore = math.Max(u.ImpactScore, n.Confidence)
		}
	}

	for attr := range used {
		u.UsedAttributes = append(u.UsedAttributes, attr)
	}
	sort.Strings(u.UsedAttributes)
	return u
}

// prematureClosure flags a confident diagnosis reached with little evidence.
// A graph with no diagnoses never triggers.
func prematureClosure(g *causal.Graph) bool {
	diagnoses := g.FindNodesByType(causal.NodeDiagnosis)
	if len(diagnoses) == 0 {
		return false
	}
	var maxConf float64
	for _, id := range diagnoses {
		if n, ok := g.Node(id); ok {
			maxConf = math.Max(maxConf, n.Confidence)
		}
	}
	return maxConf > ClosureConfidence && len(g.FindNodesByType(causal.NodeEvidence)) < ClosureMinEvidence
}

// Counterfactuals suggests alternate values for gender and age. Suggestions
// are independent of whether any bias was detected.
func Counterfactuals(md map[string]any) []Counterfactual {
	out := []Counterfactual{}

	if v, ok := md["gender"]; ok && v != nil {
		switch g := strings.ToLower(fmt.Sprint(v)); g {
		case "male", "m":
			out = append(out, Counterfactual{Attribute: "gender", Original: g, Counterfactual: "female"})
		case "female", "f":
			out = append(out, Counterfactual{Attribute: "gender", Original: g, Counterfactual: "male"})
		}
	}

	if age, ok := parseAge(md["age"]); ok {
		switch {
		case age < 18:
			out = append(out, Counterfactual{Attribute: "age", Original: age, Counterfactual: 35})
		case age > 65:
			out = append(out, Counterfactual{Attribute: "age", Original: age, Counterfactual: 45})
		}
	}
	return out
}

func parseAge(v any) (int, bool) {
	switch a := v.(type) {
	case int:
		return a, true
	case int64:
		return int(a), true
	case float64:
		return int(a), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(a))
		return n, err == nil
	default:
		return 0, false
	}
}
