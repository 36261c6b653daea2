// Package confidence implements the multi-factor confidence arithmetic used to
// score a reasoning run.
//
// All functions are pure. Inputs outside [0,1] are rejected with a *RangeError
// except where clamping is documented.
package confidence

import (
	"errors"
	"fmt"
	"math"
)

// Factor weights. They sum to 1.0.
const (
	WeightEvidenceQuality    = 0.40
	WeightReasoningCoherence = 0.30
	WeightLLMConfidence      = 0.20
	WeightContextMatch       = 0.10
)

// DefaultDecayFactor penalises long chains when decay is requested.
const DefaultDecayFactor = 0.95

// DefaultProceedThreshold is the minimum confidence ShouldProceed accepts
// when no threshold is configured.
const DefaultProceedThreshold = 0.40

// Level is the qualitative band of a confidence value.
type Level string

const (
	LevelHigh         Level = "high"
	LevelMedium       Level = "medium"
	LevelLow          Level = "low"
	LevelInsufficient Level = "insufficient"
)

// RangeError reports a factor outside [0,1].
type RangeError struct {
	Factor string
	Value  float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be in [0,1], got %v", e.Factor, e.Value)
}

// IsRange reports whether err is (or wraps) a *RangeError.
func IsRange(err error) bool {
	var re *RangeError
	return errors.As(err, &re)
}

// Factors are the four inputs to the overall confidence score.
type Factors struct {
	EvidenceQuality    float64 `json:"evidence_quality"`
	ReasoningCoherence float64 `json:"reasoning_coherence"`
	LLMConfidence      float64 `json:"llm_confidence"`
	ContextMatch       float64 `json:"context_match"`
}

// Validate checks every factor is within [0,1].
func (f Factors) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"evidence_quality", f.EvidenceQuality},
		{"reasoning_coherence", f.ReasoningCoherence},
		{"llm_confidence", f.LLMConfidence},
		{"context_match", f.ContextMatch},
	}
	for _, c := range checks {
		if !(c.value >= 0 && c.value <= 1) {
			return &RangeError{Factor: c.name, Value: c.value}
		}
	}
	return nil
}

// Scorer carries the tunable parameters of the aggregation rules.
type Scorer struct {
	DecayFactor float64
}

// NewScorer returns a scorer with the default decay factor.
func NewScorer() Scorer {
	return Scorer{DecayFactor: DefaultDecayFactor}
}

// Calculate returns the weighted combination of the four factors.
func (s Scorer) Calculate(evidenceQuality, reasoningCoherence, llmConfidence, contextMatch float64) (float64, error) {
	return s.CalculateFromFactors(Factors{
		EvidenceQuality:    evidenceQuality,
		ReasoningCoherence: reasoningCoherence,
		LLMConfidence:      llmConfidence,
		ContextMatch:       contextMatch,
	})
}

// CalculateFromFactors is Calculate over a Factors value.
func (s Scorer) CalculateFromFactors(f Factors) (float64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	return f.EvidenceQuality*WeightEvidenceQuality +
		f.ReasoningCoherence*WeightReasoningCoherence +
		f.LLMConfidence*WeightLLMConfidence +
		f.ContextMatch*WeightContextMatch, nil
}

// AggregateChain applies weakest-link semantics: the chain is as confident as
// its least confident step. With useDecay the minimum is further multiplied by
// DecayFactor^len, so longer chains never score higher. Empty input yields 0.
func (s Scorer) AggregateChain(confidences []float64, useDecay bool) float64 {
	if len(confidences) == 0 {
		return 0
	}
	weakest := confidences[0]
	for _, c := range confidences[1:] {
		if c < weakest {
			weakest = c
		}
	}
	if useDecay {
		weakest *= math.Pow(s.decay(), float64(len(confidences)))
	}
	return weakest
}

func (s Scorer) decay() float64 {
	if s.DecayFactor <= 0 || s.DecayFactor > 1 {
		return DefaultDecayFactor
	}
	return s.DecayFactor
}

// AggregateParallel averages independent lines of support. Empty input
// yields 0.
func (s Scorer) AggregateParallel(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		sum += c
	}
	return sum / float64(len(confidences))
}

// Classify maps a confidence to its band. Lower bounds are inclusive.
func Classify(c float64) Level {
	switch {
	case c >= 0.80:
		return LevelHigh
	case c >= 0.60:
		return LevelMedium
	case c >= 0.40:
		return LevelLow
	default:
		return LevelInsufficient
	}
}

// EvidenceQuality combines source credibility, sample size and recency into
// one score, clamped to [0,1].
func EvidenceQuality(sourceCredibility, recencyScore, sampleSizeScore float64) float64 {
	q := 0.5*sourceCredibility + 0.3*sampleSizeScore + 0.2*recencyScore
	return math.Max(0, math.Min(1, q))
}

// ReasoningCoherence is a three-tier override: contradictions dominate (0.3),
// then an incomplete chain (0.6), otherwise the raw consistency score.
func ReasoningCoherence(hasContradictions, isCompleteChain bool, logicalConsistencyScore float64) float64 {
	if hasContradictions {
		return 0.3
	}
	if !isCompleteChain {
		return 0.6
	}
	return logicalConsistencyScore
}

// ShouldProceed reports whether c meets threshold. A non-positive threshold
// selects DefaultProceedThreshold.
func ShouldProceed(c, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultProceedThreshold
	}
	return c >= threshold
}
