package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/pkg/vault"
	"github.com/dyluth/sevai/pkg/vault/memstore"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// setupVault records two runs one minute apart. The clock ticks one second
// per record.
func setupVault(t *testing.T) (*vault.Vault, *memstore.Store) {
	t.Helper()
	now := base
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	s := memstore.New()
	v := vault.New(s, vault.WithClock(clock))
	ctx := context.Background()

	for run, agent := range []string{"causal_inference", "contradiction_resolution"} {
		if run == 1 {
			now = now.Add(time.Minute)
		}
		inputID, err := v.LogInput(ctx, "clinical_note", "fever and cough\nsecond line", nil)
		require.NoError(t, err)
		execID, err := v.LogAgentExecution(ctx, vault.AgentExecution{InputID: inputID, AgentID: agent, DurationMS: 10})
		require.NoError(t, err)
		_, err = v.LogCausalStep(ctx, vault.CausalStep{ExecutionID: execID, Premise: "fever", Conclusion: "pneumonia", Confidence: 0.8, EvidenceRefs: []string{"x-ray"}})
		require.NoError(t, err)
		_, err = v.LogPolicyCheck(ctx, vault.PolicyCheck{
			ExecutionID: execID, PolicyName: "SAFETY-001", Result: vault.ResultWarn,
			Details: map[string]any{"description": "Low confidence requires review"},
		})
		require.NoError(t, err)
		_, err = v.LogOutput(ctx, vault.Output{ExecutionID: execID, Conclusion: "Identified diagnoses: pneumonia.", Confidence: 0.65, RiskFlags: []string{"LOW_CONFIDENCE"}})
		require.NoError(t, err)
	}
	return v, s
}

func TestQuery(t *testing.T) {
	v, _ := setupVault(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    vault.Kind
		c       Criteria
		wantIDs []int64
	}{
		{"no filters", vault.KindInput, Criteria{}, []int64{1, 2}},
		{"limit keeps latest", vault.KindOutput, Criteria{Limit: 1}, []int64{2}},
		{"since", vault.KindInput, Criteria{Since: base.Add(30 * time.Second)}, []int64{2}},
		{"until", vault.KindInput, Criteria{Until: base.Add(30 * time.Second)}, []int64{1}},
		{"agent glob", vault.KindAgentExecution, Criteria{AgentGlob: "contradiction_*"}, []int64{2}},
		{"agent glob on other kind", vault.KindOutput, Criteria{AgentGlob: "*"}, nil},
		{"execution id", vault.KindCausalStep, Criteria{ExecutionID: 1}, []int64{1}},
		{"execution id on executions", vault.KindAgentExecution, Criteria{ExecutionID: 2}, []int64{2}},
		{"execution id with limit", vault.KindPolicyCheck, Criteria{ExecutionID: 2, Limit: 5}, []int64{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Query(ctx, v, tt.kind, tt.c)
			require.NoError(t, err)
			var ids []int64
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestCriteriaHasFilters(t *testing.T) {
	assert.False(t, Criteria{}.HasFilters())
	assert.False(t, Criteria{Limit: 3}.HasFilters())
	assert.True(t, Criteria{AgentGlob: "x"}.HasFilters())
	assert.True(t, Criteria{Since: base}.HasFilters())
}

func TestList(t *testing.T) {
	v, _ := setupVault(t)
	ctx := context.Background()
	Now = func() time.Time { return base.Add(2 * time.Hour) }
	t.Cleanup(func() { Now = time.Now })

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, v, vault.KindPolicyCheck, Criteria{}, FormatTable, &buf))
		out := buf.String()
		assert.Contains(t, out, "SAFETY-001: warn")
		assert.Contains(t, out, "1h ago")
		assert.Contains(t, out, "2 policy_check records")
	})

	t.Run("empty table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, v, vault.KindInput, Criteria{ExecutionID: 99}, FormatTable, &buf))
		assert.Equal(t, "No input records found\n", buf.String())
	})

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, v, vault.KindOutput, Criteria{}, FormatJSONL, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)

		var e vault.Entry
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
		assert.Equal(t, vault.KindOutput, e.Kind)
		assert.Equal(t, int64(2), e.ID)
		var o vault.Output
		require.NoError(t, e.Decode(&o))
		assert.Equal(t, 0.65, o.Confidence)
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, List(ctx, v, vault.KindOutput, Criteria{}, "xml", &bytes.Buffer{}))
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)
	f, err = ParseFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	v, _ := setupVault(t)
	ctx := context.Background()

	tests := []struct {
		kind vault.Kind
		want string
	}{
		{vault.KindInput, "clinical_note: fever and cough"},
		{vault.KindAgentExecution, "causal_inference (input 1, 10ms)"},
		{vault.KindCausalStep, "fever → pneumonia (80%)"},
		{vault.KindPolicyCheck, "SAFETY-001: warn"},
		{vault.KindOutput, "65% Identified diagnoses: pneumonia. [LOW_CONFIDENCE]"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			entries, err := v.List(ctx, tt.kind, vault.ListOptions{Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.want, Summarize(entries[0]))
		})
	}

	assert.Equal(t, "-", Summarize(vault.Entry{Kind: vault.KindOutput, Payload: json.RawMessage(`"nope"`)}))
	assert.Equal(t, strings.Repeat("a", 37)+"...", excerpt(strings.Repeat("a", 60)))
}

func TestShowTrail(t *testing.T) {
	v, _ := setupVault(t)
	ctx := context.Background()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ShowTrail(ctx, v, 1, TrailText, &buf))
		out := buf.String()
		assert.Contains(t, out, "Execution 1: causal_inference")
		assert.Contains(t, out, "1. fever → pneumonia (symbolic, confidence: 80%)")
		assert.Contains(t, out, "evidence: x-ray")
		assert.Contains(t, out, "[WARN] SAFETY-001: Low confidence requires review")
		assert.Contains(t, out, "Risk flags: LOW_CONFIDENCE")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ShowTrail(ctx, v, 2, TrailJSON, &buf))
		var trail vault.ReasoningTrail
		require.NoError(t, json.Unmarshal(buf.Bytes(), &trail))
		assert.Equal(t, "contradiction_resolution", trail.Execution.AgentID)
		require.NotNil(t, trail.Output)
		assert.Equal(t, int64(2), trail.Output.ID)
	})

	t.Run("unknown execution", func(t *testing.T) {
		err := ShowTrail(ctx, v, 42, TrailText, &bytes.Buffer{})
		assert.True(t, vault.IsNotFound(err))
	})
}

func TestWriteVerify(t *testing.T) {
	v, store := setupVault(t)
	ctx := context.Background()

	reports, err := v.VerifyAll(ctx)
	require.NoError(t, err)
	var buf bytes.Buffer
	ok, err := WriteVerify(&buf, reports)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, buf.String(), "TAMPERED")

	require.True(t, store.Tamper(vault.KindOutput, 1, func(e *vault.Entry) {
		e.Payload = json.RawMessage(`{"execution_id":1,"conclusion":"edited","confidence":0.99,"risk_flags":[],"recommendations":[]}`)
	}))
	reports, err = v.VerifyAll(ctx)
	require.NoError(t, err)
	buf.Reset()
	ok, err = WriteVerify(&buf, reports)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "TAMPERED")
	assert.Contains(t, buf.String(), "output 1: hash_mismatch")
}
