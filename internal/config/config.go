package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/sevai/internal/governance"
)

// DefaultPath is where the CLI and service look for configuration.
const DefaultPath = "sevai.yml"

// Environment overrides.
const (
	EnvRedisURL     = "SEVAI_REDIS_URL"
	EnvDatabasePath = "SEVAI_DATABASE_PATH"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvLogLevel     = "SEVAI_LOG_LEVEL"
)

// Vault backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Producer backends.
const (
	ProducerCommand = "command"
	ProducerGemini  = "gemini"
	ProducerStatic  = "static"
)

// Config represents the top-level sevai.yml configuration
type Config struct {
	Vault      VaultConfig      `yaml:"vault"`
	Producer   ProducerConfig   `yaml:"producer"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Governance GovernanceConfig `yaml:"governance"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// VaultConfig selects and configures the audit store
type VaultConfig struct {
	Backend      string `yaml:"backend"`       // memory, redis or sqlite
	RedisURL     string `yaml:"redis_url"`     // Required for redis
	Instance     string `yaml:"instance"`      // Redis key namespace
	DatabasePath string `yaml:"database_path"` // Required for sqlite
}

// ProducerConfig selects the reasoning oracle behind the agents
type ProducerConfig struct {
	Backend        string        `yaml:"backend"`     // command, gemini or static
	Command        []string      `yaml:"command"`     // Required for command
	StaticFile     string        `yaml:"static_file"` // Required for static
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"-"` // From GEMINI_API_KEY only
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Temperature    *float64      `yaml:"temperature,omitempty"`
}

// RetrievalConfig points the context agent at a knowledge file
type RetrievalConfig struct {
	KnowledgeFile string `yaml:"knowledge_file"` // Empty disables retrieval
	TopK          int    `yaml:"top_k"`
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
}

// ThresholdsConfig holds the confidence cut-offs used for risk flags
type ThresholdsConfig struct {
	LowConfidence float64 `yaml:"low_confidence"` // LOW_CONFIDENCE risk flag below this
	Critical      float64 `yaml:"critical"`       // Critical recommendation below this
	Proceed       float64 `yaml:"proceed"`        // ShouldProceed threshold
}

// PipelineConfig tunes batch execution
type PipelineConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// GovernanceConfig controls PHI masking and policy rules
type GovernanceConfig struct {
	MaskPHI *bool `yaml:"mask_phi,omitempty"`
	// Rules are added to the defaults unless DisableDefaultRules is set.
	Rules               []governance.Rule `yaml:"rules,omitempty"`
	DisableDefaultRules bool              `yaml:"disable_default_rules,omitempty"`
	SensitiveKeys       []string          `yaml:"sensitive_keys,omitempty"`
}

// LoggingConfig configures the operational and audit logs
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or console
	AuditPath string `yaml:"audit_path"`
}

// ServerConfig configures sevaid
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration that runs fully in-process.
func Default() *Config {
	mask := true
	return &Config{
		Vault: VaultConfig{
			Backend:      BackendMemory,
			Instance:     "default",
			DatabasePath: "sevai_vault.db",
		},
		Producer: ProducerConfig{
			Backend:        ProducerGemini,
			Model:          "gemini-2.5-flash",
			MaxRetries:     3,
			RequestTimeout: 30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			ChunkSize:    120,
			ChunkOverlap: 20,
		},
		Thresholds: ThresholdsConfig{
			LowConfidence: 0.7,
			Critical:      0.5,
			Proceed:       0.4,
		},
		Pipeline:   PipelineConfig{Parallelism: 4},
		Governance: GovernanceConfig{MaskPHI: &mask},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// MaskPHIEnabled reports whether inputs are masked before they are stored.
func (c *Config) MaskPHIEnabled() bool {
	return c.Governance.MaskPHI == nil || *c.Governance.MaskPHI
}

// PolicyRules returns the rule set to hand to the policy engine.
func (c *Config) PolicyRules() []governance.Rule {
	if c.Governance.DisableDefaultRules {
		return append([]governance.Rule{}, c.Governance.Rules...)
	}
	return append(governance.DefaultRules(), c.Governance.Rules...)
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	// Vault backend
	switch c.Vault.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Vault.RedisURL == "" {
			return fmt.Errorf("vault.redis_url is required for the redis backend")
		}
		if c.Vault.Instance == "" {
			return fmt.Errorf("vault.instance is required for the redis backend")
		}
	case BackendSQLite:
		if c.Vault.DatabasePath == "" {
			return fmt.Errorf("vault.database_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid vault.backend: %s (must be 'memory', 'redis' or 'sqlite')", c.Vault.Backend)
	}

	// Producer backend
	switch c.Producer.Backend {
	case ProducerCommand:
		if len(c.Producer.Command) == 0 {
			return fmt.Errorf("producer.command is required for the command backend")
		}
	case ProducerGemini:
		if c.Producer.Model == "" {
			return fmt.Errorf("producer.model is required for the gemini backend")
		}
	case ProducerStatic:
		if c.Producer.StaticFile == "" {
			return fmt.Errorf("producer.static_file is required for the static backend")
		}
	default:
		return fmt.Errorf("invalid producer.backend: %s (must be 'command', 'gemini' or 'static')", c.Producer.Backend)
	}
	if c.Producer.MaxRetries < 1 {
		return fmt.Errorf("producer.max_retries must be >= 1, got %d", c.Producer.MaxRetries)
	}
	if c.Producer.RequestTimeout <= 0 {
		return fmt.Errorf("producer.request_timeout must be positive, got %s", c.Producer.RequestTimeout)
	}
	if t := c.Producer.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("producer.temperature must be in [0, 2], got %v", *t)
	}

	// Retrieval
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.ChunkSize < 1 || c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be in [0, chunk_size), got size %d overlap %d",
			c.Retrieval.ChunkSize, c.Retrieval.ChunkOverlap)
	}

	// Thresholds
	for name, v := range map[string]float64{
		"low_confidence": c.Thresholds.LowConfidence,
		"critical":       c.Thresholds.Critical,
		"proceed":        c.Thresholds.Proceed,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("thresholds.%s must be in [0, 1], got %v", name, v)
		}
	}

	if c.Pipeline.Parallelism < 1 {
		return fmt.Errorf("pipeline.parallelism must be >= 1, got %d", c.Pipeline.Parallelism)
	}

	// Governance rules compile here so a bad expression fails at startup
	if _, err := governance.NewEngine(c.PolicyRules(), nil); err != nil {
		return fmt.Errorf("invalid governance rules: %w", err)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}

// ApplyEnv overlays environment overrides using lookup, normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Vault.RedisURL = v
		if c.Vault.Backend == BackendMemory {
			c.Vault.Backend = BackendRedis
		}
	}
	if v, ok := lookup(EnvDatabasePath); ok && v != "" {
		c.Vault.DatabasePath = v
		if c.Vault.Backend == BackendMemory {
			c.Vault.Backend = BackendSQLite
		}
	}
	if v, ok := lookup(EnvGeminiAPIKey); ok {
		c.Producer.APIKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load reads sevai.yml from the specified path, overlays it on Default,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads path when it exists and otherwise returns the
// defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := Default()
		config.ApplyEnv(os.LookupEnv)
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return config, nil
	}
	return Load(path)
}
