// Package app assembles a pipeline, its vault and its producer from a
// loaded configuration. Both sevai and sevaid start here.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/config"
	"github.com/dyluth/sevai/internal/governance"
	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/internal/pipeline"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/internal/retrieval"
	"github.com/dyluth/sevai/pkg/vault"
	"github.com/dyluth/sevai/pkg/vault/memstore"
	"github.com/dyluth/sevai/pkg/vault/redisstore"
	"github.com/dyluth/sevai/pkg/vault/sqlitestore"
)

// App is a fully wired engine. Close releases the store and flushes logs.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Audit       *logging.AuditLogger
	Vault       *vault.Vault
	Producer    *producer.Manager
	Coordinator *pipeline.Coordinator
}

// OpenVault opens only the configured vault, for read-side commands.
func OpenVault(ctx context.Context, cfg *config.Config, logger *zap.Logger, audit *logging.AuditLogger) (*vault.Vault, error) {
	store, err := OpenStore(ctx, cfg.Vault)
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("vault backend %s not reachable: %w", cfg.Vault.Backend, err)
	}
	return vault.New(store, vault.WithLogger(logger), vault.WithAudit(audit)), nil
}

// OpenStore opens the storage backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.VaultConfig) (vault.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memstore.New(), nil
	case config.BackendRedis:
		s, err := redisstore.NewFromURL(cfg.RedisURL, cfg.Instance)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis vault: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlitestore.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite vault: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown vault backend: %s", cfg.Backend)
}

// NewGenerator builds the configured producer backend.
func NewGenerator(ctx context.Context, cfg config.ProducerConfig) (producer.Generator, error) {
	var gen producer.Generator
	var err error
	switch cfg.Backend {
	case config.ProducerCommand:
		gen, err = producer.NewCommandGenerator(cfg.Command, "")
	case config.ProducerGemini:
		gen, err = producer.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	case config.ProducerStatic:
		gen, err = producer.LoadStaticGenerator(cfg.StaticFile)
	default:
		return nil, fmt.Errorf("unknown producer backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Temperature != nil {
		gen = withTemperature(gen, *cfg.Temperature)
	}
	return gen, nil
}

// withTemperature overrides the per-agent sampling temperature.
func withTemperature(gen producer.Generator, t float64) producer.Generator {
	return producer.GeneratorFunc(func(ctx context.Context, prompt, system string, opts ...producer.Option) (*producer.Response, error) {
		return gen.Generate(ctx, prompt, system, append(opts, producer.WithTemperature(t))...)
	})
}

// NewRetriever indexes the configured knowledge file. No file means no
// retriever, and the context agent reports NO_CONTEXT_AVAILABLE.
func NewRetriever(cfg config.RetrievalConfig, logger *zap.Logger) (producer.Retriever, error) {
	if cfg.KnowledgeFile == "" {
		return nil, nil
	}
	docs, err := retrieval.LoadKnowledgeFile(cfg.KnowledgeFile)
	if err != nil {
		return nil, err
	}
	idx, err := retrieval.NewKeywordIndex(docs, retrieval.ChunkOptions{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}, logger)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// New wires every component described by cfg. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	// 1. Audit log
	audit, err := logging.NewAudit(cfg.Logging.AuditPath)
	if err != nil {
		return nil, err
	}

	// 2. Vault
	v, err := OpenVault(ctx, cfg, logger, audit)
	if err != nil {
		audit.Sync()
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Audit: audit, Vault: v}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	// 3. Producer
	gen, err := NewGenerator(ctx, cfg.Producer)
	if err != nil {
		return fail(fmt.Errorf("failed to create producer: %w", err))
	}
	a.Producer, err = producer.NewManager(gen, producer.ManagerConfig{
		MaxAttempts: cfg.Producer.MaxRetries,
		Timeout:     cfg.Producer.RequestTimeout,
	}, logger, audit)
	if err != nil {
		return fail(err)
	}

	// 4. Retrieval
	retriever, err := NewRetriever(cfg.Retrieval, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to load knowledge file: %w", err))
	}

	// 5. Governance
	policy, err := governance.NewEngine(cfg.PolicyRules(), logger)
	if err != nil {
		return fail(fmt.Errorf("failed to load policy rules: %w", err))
	}

	// 6. Pipeline
	deps := pipeline.Deps{
		Producer:  a.Producer,
		Retriever: retriever,
		Vault:     v,
		Policy:    policy,
		Deid:      governance.NewDeidentifier(cfg.Governance.SensitiveKeys...),
		Logger:    logger,
		Audit:     audit,
	}
	a.Coordinator, err = pipeline.New(deps, pipeline.Config{
		Thresholds: pipeline.Thresholds{
			LowConfidence: cfg.Thresholds.LowConfidence,
			Critical:      cfg.Thresholds.Critical,
			Proceed:       cfg.Thresholds.Proceed,
		},
		TopK:    cfg.Retrieval.TopK,
		MaskPHI: cfg.MaskPHIEnabled(),
	})
	if err != nil {
		return fail(err)
	}

	logger.Info("Engine ready",
		zap.String("vault", cfg.Vault.Backend),
		zap.String("producer", cfg.Producer.Backend),
		zap.Bool("retrieval", retriever != nil),
		zap.Bool("mask_phi", cfg.MaskPHIEnabled()),
		zap.Int("policy_rules", len(policy.Rules())))
	return a, nil
}

// Close releases the vault and flushes the audit log.
func (a *App) Close() error {
	var errs []error
	if a.Vault != nil {
		errs = append(errs, a.Vault.Close())
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Sync())
	}
	return errors.Join(errs...)
}
