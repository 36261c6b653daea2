package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sevai/internal/governance"
)

func governanceRule(id, expression string) governance.Rule {
	return governance.Rule{
		ID:         id,
		Priority:   1,
		Action:     governance.ActionWarn,
		Condition:  governance.ConditionExpression,
		Expression: expression,
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "sevai.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0644))
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `vault:
  backend: sqlite
  database_path: /tmp/vault.db
producer:
  backend: command
  command: ["./oracle.sh"]
  max_retries: 5
  request_timeout: 45s
  temperature: 0.2
retrieval:
  knowledge_file: knowledge.yml
  top_k: 3
thresholds:
  low_confidence: 0.65
governance:
  mask_phi: false
  rules:
    - id: LOCAL-001
      priority: 10
      action: warn
      condition: expression
      expression: 'confidence < 0.9 && contradictions > 0'
logging:
  level: debug
  format: console
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, config.Vault.Backend)
	assert.Equal(t, "/tmp/vault.db", config.Vault.DatabasePath)
	assert.Equal(t, []string{"./oracle.sh"}, config.Producer.Command)
	assert.Equal(t, 5, config.Producer.MaxRetries)
	assert.Equal(t, 45*time.Second, config.Producer.RequestTimeout)
	require.NotNil(t, config.Producer.Temperature)
	assert.Equal(t, 0.2, *config.Producer.Temperature)
	assert.Equal(t, 3, config.Retrieval.TopK)
	assert.Equal(t, 120, config.Retrieval.ChunkSize, "unset fields keep defaults")
	assert.Equal(t, 0.65, config.Thresholds.LowConfidence)
	assert.Equal(t, 0.5, config.Thresholds.Critical)
	assert.False(t, config.MaskPHIEnabled())
	assert.Len(t, config.PolicyRules(), 4)
	assert.Equal(t, "console", config.Logging.Format)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/sevai.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `vault:
  - this is invalid
    yaml syntax
`)
	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestDefault_IsValid(t *testing.T) {
	config := Default()
	require.NoError(t, config.Validate())
	assert.True(t, config.MaskPHIEnabled())
	assert.Len(t, config.PolicyRules(), 3)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown vault backend", func(c *Config) { c.Vault.Backend = "etcd" }, "invalid vault.backend"},
		{"redis without url", func(c *Config) { c.Vault.Backend = BackendRedis }, "vault.redis_url is required"},
		{"redis without instance", func(c *Config) {
			c.Vault.Backend = BackendRedis
			c.Vault.RedisURL = "redis://localhost:6379"
			c.Vault.Instance = ""
		}, "vault.instance is required"},
		{"sqlite without path", func(c *Config) {
			c.Vault.Backend = BackendSQLite
			c.Vault.DatabasePath = ""
		}, "vault.database_path is required"},
		{"unknown producer", func(c *Config) { c.Producer.Backend = "oracle" }, "invalid producer.backend"},
		{"command without argv", func(c *Config) { c.Producer.Backend = ProducerCommand }, "producer.command is required"},
		{"static without file", func(c *Config) { c.Producer.Backend = ProducerStatic }, "producer.static_file is required"},
		{"gemini without model", func(c *Config) { c.Producer.Model = "" }, "producer.model is required"},
		{"zero retries", func(c *Config) { c.Producer.MaxRetries = 0 }, "producer.max_retries"},
		{"zero timeout", func(c *Config) { c.Producer.RequestTimeout = 0 }, "producer.request_timeout"},
		{"hot temperature", func(c *Config) { v := 3.0; c.Producer.Temperature = &v }, "producer.temperature"},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"overlap too large", func(c *Config) { c.Retrieval.ChunkOverlap = 120 }, "retrieval.chunk_overlap"},
		{"threshold above one", func(c *Config) { c.Thresholds.Critical = 1.5 }, "thresholds.critical"},
		{"zero parallelism", func(c *Config) { c.Pipeline.Parallelism = 0 }, "pipeline.parallelism"},
		{"bad rule", func(c *Config) {
			c.Governance.Rules = append(c.Governance.Rules, governanceRule("X", "not an expression ("))
		}, "invalid governance rules"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvRedisURL:     "redis://cache:6379/0",
		EnvGeminiAPIKey: "secret",
		EnvLogLevel:     "warn",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	c := Default()
	c.ApplyEnv(lookup)
	assert.Equal(t, BackendRedis, c.Vault.Backend, "a redis url switches the memory backend")
	assert.Equal(t, "redis://cache:6379/0", c.Vault.RedisURL)
	assert.Equal(t, "secret", c.Producer.APIKey)
	assert.Equal(t, "warn", c.Logging.Level)

	c = Default()
	c.Vault.Backend = BackendSQLite
	c.ApplyEnv(func(k string) (string, bool) {
		if k == EnvDatabasePath {
			return "/data/vault.db", true
		}
		return "", false
	})
	assert.Equal(t, BackendSQLite, c.Vault.Backend)
	assert.Equal(t, "/data/vault.db", c.Vault.DatabasePath)
}

func TestDisableDefaultRules(t *testing.T) {
	c := Default()
	c.Governance.DisableDefaultRules = true
	c.Governance.Rules = append(c.Governance.Rules, governanceRule("ONLY", "confidence < 0.1"))
	require.NoError(t, c.Validate())
	rules := c.PolicyRules()
	require.Len(t, rules, 1)
	assert.Equal(t, "ONLY", rules[0].ID)
}

func TestLoadOrDefault(t *testing.T) {
	config, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.Server.Addr)
}
