package producer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Fallback confidences used when a producer's answer cannot be parsed.
const (
	EvidenceFallbackConfidence      = 0.8
	CausalFallbackConfidence        = 0.5
	ContradictionFallbackConfidence = 0.5
	DefaultChainConfidence          = 0.5
	DefaultDocumentScore            = 0.5
)

// ParseFailureUncertainty is recorded on a causal payload that could not be
// parsed.
const ParseFailureUncertainty = "Failed to parse LLM response"

// StringList decodes a JSON list of strings leniently: a bare string becomes
// a one-element list, non-string items are rendered as text, and blank
// entries are dropped.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = appendNonBlank(nil, single)
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		// Anything else (objects, numbers, null) decodes to an empty list.
		*l = StringList{}
		return nil
	}
	out := StringList{}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = appendNonBlank(out, v)
		case nil:
		default:
			out = appendNonBlank(out, fmt.Sprint(v))
		}
	}
	*l = out
	return nil
}

func appendNonBlank(l StringList, s string) StringList {
	if s = strings.TrimSpace(s); s != "" {
		return append(l, s)
	}
	return l
}

// EvidencePayload is the structured extraction of a case text.
type EvidencePayload struct {
	Symptoms     StringList `json:"symptoms"`
	Diagnoses    StringList `json:"diagnoses"`
	Treatments   StringList `json:"treatments"`
	Medications  StringList `json:"medications"`
	TestResults  StringList `json:"test_results"`
	Outcomes     StringList `json:"outcomes"`
	TemporalInfo string     `json:"temporal_info,omitempty"`
}

// EntityCount returns the number of extracted entities across all lists.
func (p EvidencePayload) EntityCount() int {
	return len(p.Symptoms) + len(p.Diagnoses) + len(p.Treatments) +
		len(p.Medications) + len(p.TestResults) + len(p.Outcomes)
}

func (p *EvidencePayload) normalise() {
	for _, l := range []*StringList{&p.Symptoms, &p.Diagnoses, &p.Treatments, &p.Medications, &p.TestResults, &p.Outcomes} {
		if *l == nil {
			*l = StringList{}
		}
	}
}

// ContextDocument is one retrieved reference passage.
type ContextDocument struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// UnmarshalJSON defaults a missing score to DefaultDocumentScore and clamps
// it to [0,1].
func (d *ContextDocument) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text     string         `json:"text"`
		Score    *float64       `json:"score"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Text = raw.Text
	d.Score = DefaultDocumentScore
	if raw.Score != nil {
		d.Score = clamp01(*raw.Score)
	}
	d.Metadata = raw.Metadata
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	return nil
}

// CausalChain is one proposed cause-effect link.
type CausalChain struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
	Evidence     string  `json:"evidence"`
}

// UnmarshalJSON defaults a missing or non-numeric confidence to
// DefaultChainConfidence and clamps it to [0,1].
func (c *CausalChain) UnmarshalJSON(data []byte) error {
	var raw struct {
		From         string `json:"from"`
		To           string `json:"to"`
		Relationship string `json:"relationship"`
		Confidence   any    `json:"confidence"`
		Evidence     any    `json:"evidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.From = strings.TrimSpace(raw.From)
	c.To = strings.TrimSpace(raw.To)
	c.Relationship = raw.Relationship
	c.Confidence = DefaultChainConfidence
	if f, ok := raw.Confidence.(float64); ok {
		c.Confidence = clamp01(f)
	}
	switch v := raw.Evidence.(type) {
	case nil:
	case string:
		c.Evidence = v
	default:
		c.Evidence = fmt.Sprint(v)
	}
	return nil
}

// CausalPayload is the causal producer's answer.
type CausalPayload struct {
	Chains            []CausalChain `json:"causal_chains"`
	OverallConfidence float64       `json:"overall_confidence"`
	Uncertainties     StringList    `json:"uncertainties"`
}

// Contradiction is a pair of conflicting statements.
type Contradiction struct {
	Statement1 string `json:"statement_1"`
	Statement2 string `json:"statement_2"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
}

// Critical reports whether the contradiction has high or critical severity.
func (c Contradiction) Critical() bool {
	s := strings.ToLower(c.Severity)
	return s == "high" || s == "critical"
}

// Resolution proposes how to settle one contradiction.
type Resolution struct {
	ContradictionIndex int     `json:"contradiction_index"`
	Resolution         string  `json:"resolution"`
	Rationale          string  `json:"rationale"`
	Confidence         float64 `json:"confidence"`
}

// ContradictionPayload is the contradiction producer's answer.
type ContradictionPayload struct {
	Contradictions    []Contradiction `json:"contradictions"`
	Resolutions       []Resolution    `json:"resolutions"`
	OverallConfidence float64         `json:"overall_confidence"`
}

// CriticalCount returns the number of high or critical contradictions.
func (p ContradictionPayload) CriticalCount() int {
	n := 0
	for _, c := range p.Contradictions {
		if c.Critical() {
			n++
		}
	}
	return n
}

// ParseEvidence decodes an evidence answer. ok is false when text held no
// parsable object, in which case the empty payload is returned.
func ParseEvidence(text string) (p EvidencePayload, ok bool) {
	ok = decodeObject(text, &p)
	if !ok {
		p = EvidencePayload{}
	}
	p.normalise()
	return p, ok
}

// ParseCausal decodes a causal answer, applying the fallback payload on
// failure and defaulting a missing overall confidence.
func ParseCausal(text string) (CausalPayload, bool) {
	var raw struct {
		Chains            []CausalChain `json:"causal_chains"`
		OverallConfidence *float64      `json:"overall_confidence"`
		Uncertainties     StringList    `json:"uncertainties"`
	}
	if !decodeObject(text, &raw) {
		return CausalPayload{
			Chains:            []CausalChain{},
			OverallConfidence: CausalFallbackConfidence,
			Uncertainties:     StringList{ParseFailureUncertainty},
		}, false
	}

	p := CausalPayload{
		Chains:            raw.Chains,
		OverallConfidence: CausalFallbackConfidence,
		Uncertainties:     raw.Uncertainties,
	}
	if raw.OverallConfidence != nil {
		p.OverallConfidence = clamp01(*raw.OverallConfidence)
	}
	if p.Chains == nil {
		p.Chains = []CausalChain{}
	}
	if p.Uncertainties == nil {
		p.Uncertainties = StringList{}
	}
	return p, true
}

// ParseContradiction decodes a contradiction answer, applying the fallback
// payload on failure.
func ParseContradiction(text string) (ContradictionPayload, bool) {
	var raw struct {
		Contradictions    []Contradiction `json:"contradictions"`
		Resolutions       []Resolution    `json:"resolutions"`
		OverallConfidence *float64        `json:"overall_confidence"`
	}
	ok := decodeObject(text, &raw)
	p := ContradictionPayload{
		Contradictions:    raw.Contradictions,
		Resolutions:       raw.Resolutions,
		OverallConfidence: ContradictionFallbackConfidence,
	}
	if !ok {
		p.Contradictions, p.Resolutions = nil, nil
	} else if raw.OverallConfidence != nil {
		p.OverallConfidence = clamp01(*raw.OverallConfidence)
	}
	if p.Contradictions == nil {
		p.Contradictions = []Contradiction{}
	}
	if p.Resolutions == nil {
		p.Resolutions = []Resolution{}
	}
	return p, ok
}

// decodeObject finds the JSON object in text (tolerating surrounding prose
// or markdown fences) and decodes it into v.
func decodeObject(text string, v any) bool {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return false
	}
	return json.Unmarshal([]byte(text[start:end+1]), v) == nil
}

func clamp01(f float64) float64 {
	switch {
	case f != f:
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
