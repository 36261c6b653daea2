package confidence

import (
	"fmt"
	"strings"
)

// Explanation breaks an overall score into per-factor contributions.
type Explanation struct {
	Overall       float64            `json:"overall_confidence"`
	Level         Level              `json:"level"`
	Factors       Factors            `json:"factors"`
	Weights       map[string]float64 `json:"weights"`
	Contributions map[string]float64 `json:"contributions"`
}

// Explain scores f and reports how much each factor contributed.
func (s Scorer) Explain(f Factors) (Explanation, error) {
	overall, err := s.CalculateFromFactors(f)
	if err != nil {
		return Explanation{}, err
	}
	return Explanation{
		Overall: overall,
		Level:   Classify(overall),
		Factors: f,
		Weights: map[string]float64{
			"evidence_quality":    WeightEvidenceQuality,
			"reasoning_coherence": WeightReasoningCoherence,
			"llm_confidence":      WeightLLMConfidence,
			"context_match":       WeightContextMatch,
		},
		Contributions: map[string]float64{
			"evidence_quality":    f.EvidenceQuality * WeightEvidenceQuality,
			"reasoning_coherence": f.ReasoningCoherence * WeightReasoningCoherence,
			"llm_confidence":      f.LLMConfidence * WeightLLMConfidence,
			"context_match":       f.ContextMatch * WeightContextMatch,
		},
	}, nil
}

// String renders the explanation as a short multi-line report.
func (e Explanation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall confidence: %.1f%% (%s)\n", e.Overall*100, e.Level)
	for _, name := range []string{"evidence_quality", "reasoning_coherence", "llm_confidence", "context_match"} {
		fmt.Fprintf(&b, "  %-20s weight %.2f  contribution %.3f\n", name, e.Weights[name], e.Contributions[name])
	}
	return b.String()
}
