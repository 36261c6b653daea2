package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/internal/config"
	"github.com/dyluth/sevai/internal/pipeline"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/pkg/vault"
)

const staticFixture = `rules:
  - match: extraction expert
    text: '{"symptoms":["fever"],"diagnoses":["pneumonia"],"treatments":["antibiotics"]}'
  - match: causal inference
    text: '{"causal_chains":[{"from":"fever","to":"pneumonia","relationship":"causes","confidence":0.8,"evidence":"x-ray"}],"overall_confidence":0.8}'
  - match: evidence analysis
    text: '{"contradictions":[],"resolutions":[],"overall_confidence":0.9}'
`

const knowledgeFixture = `documents:
  - id: cap
    topic: pneumonia
    text: Community acquired pneumonia presents with fever and cough and is treated with antibiotics.
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Producer.Backend = config.ProducerStatic
	cfg.Producer.StaticFile = writeFile(t, dir, "producer.yml", staticFixture)
	cfg.Retrieval.KnowledgeFile = writeFile(t, dir, "knowledge.yml", knowledgeFixture)
	cfg.Logging.AuditPath = filepath.Join(dir, "audit.jsonl")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	res, err := a.Coordinator.Run(ctx, pipeline.Case{Text: "Fever and cough, pneumonia suspected."})
	require.NoError(t, err)
	assert.Equal(t, producer.ContextFoundConfidence, res.Factors.ContextMatch)
	assert.NotContains(t, res.RiskFlags, pipeline.FlagNoContext)

	outputs, err := a.Vault.List(ctx, vault.KindOutput, vault.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, outputs, 1)

	require.NoError(t, a.Audit.Sync())
	audit, err := os.ReadFile(cfg.Logging.AuditPath)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "pipeline_complete")
}

func TestNewFailsOnBadProducer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Producer.StaticFile = filepath.Join(t.TempDir(), "missing.yml")

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "failed to create producer")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := OpenStore(ctx, config.VaultConfig{Backend: config.BackendMemory})
		require.NoError(t, err)
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenStore(ctx, config.VaultConfig{Backend: config.BackendSQLite, DatabasePath: filepath.Join(t.TempDir(), "vault.db")})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := OpenStore(ctx, config.VaultConfig{Backend: "etcd"})
		assert.ErrorContains(t, err, "unknown vault backend")
	})
}

func TestNewRetriever(t *testing.T) {
	r, err := NewRetriever(config.RetrievalConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = NewRetriever(config.RetrievalConfig{KnowledgeFile: "does-not-exist.yml"}, nil)
	assert.Error(t, err)
}

func TestWithTemperature(t *testing.T) {
	var got producer.Options
	gen := withTemperature(producer.GeneratorFunc(func(ctx context.Context, prompt, system string, opts ...producer.Option) (*producer.Response, error) {
		got = producer.ApplyOptions(opts...)
		return &producer.Response{Text: "ok"}, nil
	}), 0.1)

	_, err := gen.Generate(context.Background(), "p", "s", producer.WithTemperature(0.7), producer.WithJSONResponse())
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.1, *got.Temperature)
	assert.True(t, got.JSONResponse)
}
