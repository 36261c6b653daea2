package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dyluth/sevai/internal/bias"
	"github.com/dyluth/sevai/internal/governance"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/pkg/vault"
	"github.com/dyluth/sevai/pkg/vault/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	evidenceAnswer      = `{"symptoms":["fever","cough"],"diagnoses":["pneumonia"],"treatments":["antibiotics"],"outcomes":["recovery"]}`
	causalAnswer        = `{"causal_chains":[{"from":"fever","to":"pneumonia","relationship":"causes","confidence":0.85,"evidence":"chest x-ray"},{"from":"pneumonia","to":"antibiotics","relationship":"treated_by","confidence":0.9,"evidence":"guideline"},{"from":"antibiotics","to":"recovery","relationship":"leads_to","confidence":0.8,"evidence":"follow-up"}],"overall_confidence":0.8}`
	noContradictions    = `{"contradictions":[],"resolutions":[],"overall_confidence":0.9}`
	severeContradiction = `{"contradictions":[{"statement_1":"bacterial","statement_2":"viral","type":"diagnosis","severity":"high"}],"resolutions":[],"overall_confidence":0.5}`
)

type staticRetriever struct {
	docs []producer.ContextDocument
}

func (r staticRetriever) Retrieve(ctx context.Context, query string, topK int) ([]producer.ContextDocument, error) {
	return r.docs, nil
}

func scriptedGenerator(contradictionAnswer string) *producer.StaticGenerator {
	return &producer.StaticGenerator{Rules: []producer.StaticRule{
		{Match: producer.MatchEvidence, Text: evidenceAnswer},
		{Match: producer.MatchCausal, Text: causalAnswer},
		{Match: producer.MatchContradiction, Text: contradictionAnswer},
	}}
}

type harness struct {
	coord *Coordinator
	store *memstore.Store
	vault *vault.Vault
	gen   *producer.StaticGenerator
}

func newHarness(t *testing.T, gen *producer.StaticGenerator, cfg Config) *harness {
	t.Helper()
	mgr, err := producer.NewManager(gen, producer.ManagerConfig{
		MaxAttempts:     2,
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	store := memstore.New()
	v := vault.New(store)
	coord, err := New(Deps{
		Producer:  mgr,
		Retriever: staticRetriever{docs: []producer.ContextDocument{{Text: "Community-acquired pneumonia is treated with antibiotics.", Score: 0.8}}},
		Vault:     v,
	}, cfg)
	require.NoError(t, err)
	return &harness{coord: coord, store: store, vault: v, gen: gen}
}

func testCase() Case {
	return Case{
		Name:     "pneumonia",
		Text:     "Patient presents with fever and cough. Chest x-ray suggests pneumonia; antibiotics started, patient recovered.",
		Source:   "clinical_note",
		Metadata: map[string]any{"age": 45},
	}
}

func TestNew(t *testing.T) {
	t.Run("requires producer and vault", func(t *testing.T) {
		_, err := New(Deps{}, Config{})
		assert.Error(t, err)

		mgr, err := producer.NewManager(&producer.StaticGenerator{Default: "{}"}, producer.ManagerConfig{}, nil, nil)
		require.NoError(t, err)
		_, err = New(Deps{Producer: mgr}, Config{})
		assert.Error(t, err)
	})

	t.Run("fills defaults", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(noContradictions), Config{})
		assert.Equal(t, DefaultThresholds(), h.coord.cfg.Thresholds)
		assert.Equal(t, producer.DefaultTopK, h.coord.cfg.TopK)
		assert.Len(t, h.coord.policy.Rules(), len(governance.DefaultRules()))
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("records a complete trail", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(noContradictions), Config{})

		res, err := h.coord.Run(ctx, testCase())
		require.NoError(t, err)

		assert.Equal(t, int64(1), res.InputID)
		assert.Equal(t, res.Agents[producer.AgentContradiction].ExecutionID, res.ExecutionID)
		assert.Len(t, res.Agents, 4)
		assert.Equal(t, "Identified diagnoses: pneumonia. Based on symptoms: fever, cough. Established 3 causal relationships.", res.Conclusion)

		assert.Equal(t, producer.ContextFoundConfidence, res.Factors.ContextMatch)
		assert.InDelta(t, (0.8+0.8+0.9)/3, res.Factors.LLMConfidence, 1e-9)
		assert.Equal(t, res.Explanation.Overall, res.Confidence)
		assert.NotContains(t, res.RiskFlags, FlagNoContext)
		assert.NotContains(t, res.RiskFlags, FlagContradictions)
		assert.NotEmpty(t, res.Recommendations)

		assert.Positive(t, res.Graph.Stats.NumNodes)
		assert.Equal(t, res.Graph.ID, res.Trail.GraphID)
		assert.Contains(t, res.Summary, "Reasoning Summary for "+res.Graph.ID)
		assert.Len(t, res.Graph.Visualization.Nodes, res.Graph.Stats.NumNodes)

		trail, err := h.vault.GetReasoningTrail(ctx, res.ExecutionID)
		require.NoError(t, err)
		require.NotNil(t, trail.Output)
		assert.Equal(t, res.OutputID, trail.Output.ID)
		assert.Equal(t, res.Conclusion, trail.Output.Conclusion)
		assert.Equal(t, res.RiskFlags, trail.Output.RiskFlags)
		assert.Len(t, trail.PolicyChecks, len(governance.DefaultRules()))

		causalTrail, err := h.vault.GetReasoningTrail(ctx, res.Agents[producer.AgentCausal].ExecutionID)
		require.NoError(t, err)
		require.Len(t, causalTrail.CausalSteps, 3)
		assert.Equal(t, "fever", causalTrail.CausalSteps[0].Premise)
		assert.Equal(t, []string{"chest x-ray"}, causalTrail.CausalSteps[0].EvidenceRefs)
		assert.Equal(t, "causal", causalTrail.CausalSteps[0].ReasoningType)

		reports, err := h.vault.VerifyAll(ctx)
		require.NoError(t, err)
		for _, r := range reports {
			assert.True(t, r.Valid, "kind %s", r.Kind)
		}
	})

	t.Run("severe contradictions escalate", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(severeContradiction), Config{})

		res, err := h.coord.Run(ctx, testCase())
		require.NoError(t, err)

		assert.Contains(t, res.RiskFlags, FlagContradictions)
		assert.Contains(t, res.Recommendations, "Expert consultation advised to resolve contradictions")
		assert.Contains(t, res.Conclusion, "Note: 1 contradictions found and 0 resolutions proposed")

		var ids []string
		for _, f := range res.Findings {
			ids = append(ids, f.RuleID)
		}
		assert.Contains(t, ids, "SAFETY-002")
	})

	t.Run("masks PHI before recording", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(noContradictions), Config{MaskPHI: true})
		cs := testCase()
		cs.Text += " MRN 12345678."
		cs.Metadata["patient_id"] = "48213377"

		res, err := h.coord.Run(ctx, cs)
		require.NoError(t, err)

		in, err := h.vault.GetInput(ctx, res.InputID)
		require.NoError(t, err)
		assert.NotContains(t, in.Content, "12345678")
		assert.Contains(t, in.Content, "[REDACTED] (PHI:MRN)")
		assert.Equal(t, "[REDACTED] (PHI:MRN)", in.Metadata["patient_id"])
	})

	t.Run("producer exhaustion aborts the run", func(t *testing.T) {
		gen := &producer.StaticGenerator{Rules: []producer.StaticRule{{Match: producer.MatchEvidence, Text: evidenceAnswer}}}
		h := newHarness(t, gen, Config{})

		_, err := h.coord.Run(ctx, testCase())
		require.Error(t, err)
		assert.True(t, producer.IsProducerError(err))

		outputs, err := h.vault.List(ctx, vault.KindOutput, vault.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, outputs)
	})

	t.Run("storage failure writes no output", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(noContradictions), Config{})
		h.store.FailAppends(vault.KindCausalStep, errors.New("disk full"))

		_, err := h.coord.Run(ctx, testCase())
		require.Error(t, err)
		assert.True(t, vault.IsStorage(err))

		for _, kind := range []vault.Kind{vault.KindCausalStep, vault.KindPolicyCheck, vault.KindOutput} {
			entries, err := h.vault.List(ctx, kind, vault.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, entries, "kind %s", kind)
		}
		// Contradiction resolution never ran.
		execs, err := h.vault.List(ctx, vault.KindAgentExecution, vault.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, execs, 3)
	})

	t.Run("rejects empty text", func(t *testing.T) {
		h := newHarness(t, scriptedGenerator(noContradictions), Config{})
		_, err := h.coord.Run(ctx, Case{Text: "  "})
		assert.ErrorIs(t, err, ErrEmptyCase)
		assert.Equal(t, 0, h.gen.Calls())
	})
}

func TestRunBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scriptedGenerator(noContradictions), Config{})

	cases := []Case{testCase(), testCase(), {Name: "empty"}, testCase()}
	results, err := h.coord.RunBatch(ctx, cases, 2)
	require.NoError(t, err)
	require.Len(t, results, len(cases))

	for i, r := range results {
		if cases[i].Name == "empty" {
			assert.Error(t, r.Err)
			assert.Nil(t, r.Result)
			continue
		}
		require.NoError(t, r.Err)
		assert.NotEmpty(t, r.Result.Conclusion)
	}

	outputs, err := h.vault.List(ctx, vault.KindOutput, vault.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, outputs, 3)

	reports, err := h.vault.VerifyAll(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.True(t, r.Valid, "kind %s", r.Kind)
	}

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		results, err := h.coord.RunBatch(cctx, []Case{testCase()}, 1)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, results, 1)
		assert.Error(t, results[0].Err)
	})
}

func TestConclusion(t *testing.T) {
	got := Conclusion(producer.EvidencePayload{}, producer.CausalPayload{}, producer.ContradictionPayload{})
	assert.Equal(t, "Insufficient information for conclusive analysis.", got)

	got = Conclusion(producer.EvidencePayload{Symptoms: producer.StringList{"a", "b", "c", "d"}}, producer.CausalPayload{}, producer.ContradictionPayload{})
	assert.Equal(t, "Based on symptoms: a, b, c.", got)
}

func TestRecommendations(t *testing.T) {
	h := newHarness(t, scriptedGenerator(noContradictions), Config{})

	recs := h.coord.recommendations(nil, 0.9, bias.Report{})
	assert.Equal(t, []string{"Analysis appears sound - proceed with clinical judgment"}, recs)

	recs = h.coord.recommendations([]string{FlagLowConfidence, FlagNoContext}, 0.3, bias.Report{})
	assert.Equal(t, []string{
		"Human review recommended due to low confidence",
		"Consider gathering additional medical context",
		"CRITICAL: Confidence below threshold - do not proceed without review",
	}, recs)
}
