package producer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvidence(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		p, ok := ParseEvidence(`{"symptoms":["fever","cough"],"diagnoses":["pneumonia"],"temporal_info":"3 days"}`)
		require.True(t, ok)
		assert.Equal(t, StringList{"fever", "cough"}, p.Symptoms)
		assert.Equal(t, StringList{"pneumonia"}, p.Diagnoses)
		assert.Equal(t, StringList{}, p.Treatments)
		assert.Equal(t, "3 days", p.TemporalInfo)
		assert.Equal(t, 3, p.EntityCount())
	})

	t.Run("tolerates fences and lenient lists", func(t *testing.T) {
		p, ok := ParseEvidence("```json\n{\"symptoms\": \"fever\", \"diagnoses\": [\"flu\", 42, null, \" \"], \"outcomes\": {\"x\": 1}}\n```")
		require.True(t, ok)
		assert.Equal(t, StringList{"fever"}, p.Symptoms)
		assert.Equal(t, StringList{"flu", "42"}, p.Diagnoses)
		assert.Equal(t, StringList{}, p.Outcomes)
	})

	t.Run("garbage falls back to empty lists", func(t *testing.T) {
		p, ok := ParseEvidence("I could not find anything")
		assert.False(t, ok)
		assert.Equal(t, 0, p.EntityCount())
		assert.NotNil(t, p.Symptoms)
	})
}

func TestParseCausal(t *testing.T) {
	t.Run("defaults missing confidences", func(t *testing.T) {
		p, ok := ParseCausal(`{"causal_chains":[{"from":" fever ","to":"pneumonia","relationship":"leads to"},{"from":"a","to":"b","confidence":1.7,"evidence":["x"]}]}`)
		require.True(t, ok)
		require.Len(t, p.Chains, 2)
		assert.Equal(t, "fever", p.Chains[0].From)
		assert.Equal(t, DefaultChainConfidence, p.Chains[0].Confidence)
		assert.Equal(t, 1.0, p.Chains[1].Confidence)
		assert.Equal(t, "[x]", p.Chains[1].Evidence)
		assert.Equal(t, CausalFallbackConfidence, p.OverallConfidence)
		assert.Empty(t, p.Uncertainties)
	})

	t.Run("parse failure uses fallback payload", func(t *testing.T) {
		p, ok := ParseCausal("{not json")
		assert.False(t, ok)
		assert.Empty(t, p.Chains)
		assert.Equal(t, 0.5, p.OverallConfidence)
		assert.Equal(t, StringList{ParseFailureUncertainty}, p.Uncertainties)
	})

	t.Run("keeps overall confidence", func(t *testing.T) {
		p, ok := ParseCausal(`{"causal_chains":[],"overall_confidence":0.72,"uncertainties":["dose unknown"]}`)
		require.True(t, ok)
		assert.Equal(t, 0.72, p.OverallConfidence)
		assert.Equal(t, StringList{"dose unknown"}, p.Uncertainties)
	})
}

func TestParseContradiction(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		p, ok := ParseContradiction(`{"contradictions":[{"statement_1":"a","statement_2":"b","type":"diagnosis","severity":"High"}],"resolutions":[{"contradiction_index":0,"resolution":"r","rationale":"why","confidence":0.6}],"overall_confidence":0.7}`)
		require.True(t, ok)
		require.Len(t, p.Contradictions, 1)
		assert.True(t, p.Contradictions[0].Critical())
		assert.Equal(t, 1, p.CriticalCount())
		assert.Equal(t, 0.7, p.OverallConfidence)
		assert.Equal(t, "r", p.Resolutions[0].Resolution)
	})

	t.Run("parse failure uses fallback payload", func(t *testing.T) {
		p, ok := ParseContradiction(`{"contradictions": "nope"}`)
		assert.False(t, ok)
		assert.Empty(t, p.Contradictions)
		assert.Empty(t, p.Resolutions)
		assert.Equal(t, ContradictionFallbackConfidence, p.OverallConfidence)
	})
}

func TestContextDocumentDefaults(t *testing.T) {
	var docs []ContextDocument
	require.NoError(t, json.Unmarshal([]byte(`[{"text":"a"},{"text":"b","score":0.91,"metadata":{"source":"x"}},{"text":"c","score":-3}]`), &docs))

	assert.Equal(t, DefaultDocumentScore, docs[0].Score)
	assert.NotNil(t, docs[0].Metadata)
	assert.Equal(t, 0.91, docs[1].Score)
	assert.Equal(t, "x", docs[1].Metadata["source"])
	assert.Equal(t, 0.0, docs[2].Score)
}
