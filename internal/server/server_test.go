package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/internal/pipeline"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/pkg/vault"
	"github.com/dyluth/sevai/pkg/vault/redisstore"
)

func newTestServer(t *testing.T) (*Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	store, err := redisstore.New(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
	}, "test")
	require.NoError(t, err)
	v := vault.New(store)
	t.Cleanup(func() { v.Close() })

	gen := &producer.StaticGenerator{Rules: []producer.StaticRule{
		{Match: producer.MatchEvidence, Text: `{"symptoms":["fever"],"diagnoses":["pneumonia"],"treatments":[]}`},
		{Match: producer.MatchCausal, Text: `{"causal_chains":[{"from":"fever","to":"pneumonia","relationship":"causes","confidence":0.8,"evidence":"x-ray"}],"overall_confidence":0.8}`},
		{Match: producer.MatchContradiction, Text: `{"contradictions":[],"resolutions":[],"overall_confidence":0.9}`},
	}}
	mgr, err := producer.NewManager(gen, producer.ManagerConfig{
		MaxAttempts:     1,
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	coord, err := pipeline.New(pipeline.Deps{Producer: mgr, Vault: v}, pipeline.Config{})
	require.NoError(t, err)
	return New(coord, "127.0.0.1:0", nil), mr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func analyze(t *testing.T, h http.Handler) pipeline.Result {
	t.Helper()
	w := do(t, h, http.MethodPost, "/v1/analyze", `{"text":"Fever for two days, pneumonia suspected.","source":"api"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHealth(t *testing.T) {
	s, mr := newTestServer(t)
	h := s.Handler()

	t.Run("healthy", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "connected", resp.Vault)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/healthz", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("unhealthy when redis is gone", func(t *testing.T) {
		mr.Close()
		w := do(t, h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "disconnected", resp.Vault)
		assert.NotEmpty(t, resp.Error)
	})
}

func TestAnalyze(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	res := analyze(t, h)
	assert.Equal(t, "Identified diagnoses: pneumonia. Based on symptoms: fever. Established 1 causal relationships.", res.Conclusion)
	assert.Positive(t, res.OutputID)

	tests := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest, "invalid_request"},
		{"empty text", `{"text":"   "}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/v1/analyze", tt.body)
			assert.Equal(t, tt.code, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestTrail(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	res := analyze(t, h)

	w := do(t, h, http.MethodGet, fmt.Sprintf("/v1/trails/%d", res.ExecutionID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var trail vault.ReasoningTrail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	assert.Equal(t, res.ExecutionID, trail.Execution.ID)
	require.NotNil(t, trail.Output)
	assert.Equal(t, res.OutputID, trail.Output.ID)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/trails/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/trails/abc", "").Code)
}

func TestRecords(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	analyze(t, h)
	analyze(t, h)

	tests := []struct {
		path string
		code int
		want int
	}{
		{"/v1/records/output", http.StatusOK, 2},
		{"/v1/records/output?limit=1", http.StatusOK, 1},
		{"/v1/records/agent_execution?agent=causal_*", http.StatusOK, 2},
		{"/v1/records/input?until=2000-01-01", http.StatusOK, 0},
		{"/v1/records/bogus", http.StatusNotFound, -1},
		{"/v1/records/output?limit=-1", http.StatusBadRequest, -1},
		{"/v1/records/output?since=yesterday", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, "")
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.want < 0 {
				return
			}
			var entries []vault.Entry
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
			assert.Len(t, entries, tt.want)
		})
	}
}

func TestVerify(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	analyze(t, h)

	w := do(t, h, http.MethodGet, "/v1/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Len(t, resp.Reports, len(vault.Kinds))

	w = do(t, h, http.MethodGet, "/v1/verify?kind=output", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, vault.KindOutput, resp.Reports[0].Kind)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/verify?kind=nope", "").Code)
}
