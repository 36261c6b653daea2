// Package pipeline runs a case through the reasoning agents, builds and
// scores the causal graph, applies governance rules, and records every step
// in the vault.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/bias"
	"github.com/dyluth/sevai/internal/builder"
	"github.com/dyluth/sevai/internal/governance"
	"github.com/dyluth/sevai/internal/logging"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/internal/trail"
	"github.com/dyluth/sevai/pkg/causal"
	"github.com/dyluth/sevai/pkg/confidence"
	"github.com/dyluth/sevai/pkg/vault"
)

// ErrEmptyCase is returned by Run for a case with no text.
var ErrEmptyCase = errors.New("case text cannot be empty")

// Fixed confidence inputs used until per-source scoring exists.
const (
	SourceCredibility  = 0.7
	RecencyScore       = 0.9
	SampleSizeScore    = 0.6
	LogicalConsistency = 0.85
)

// Risk flags attached to a result.
const (
	FlagLowConfidence   = "LOW_CONFIDENCE"
	FlagContradictions  = "CONTRADICTIONS_FOUND"
	FlagNoContext       = "NO_CONTEXT_AVAILABLE"
	FlagBiasPrefix      = "BIAS_DETECTED: "
	FlagGraphCycles     = "GRAPH_HAS_CYCLES"
	FlagGraphDisconnect = "GRAPH_DISCONNECTED"
)

// Thresholds are the confidence cut-offs that drive flags and recommendations.
type Thresholds struct {
	LowConfidence float64
	Critical      float64
	Proceed       float64
}

// DefaultThresholds returns the standard cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{LowConfidence: 0.7, Critical: 0.5, Proceed: 0.4}
}

// Deps are the components a Coordinator drives. Producer and Vault are
// required; the rest fall back to defaults when nil.
type Deps struct {
	Producer  *producer.Manager
	Retriever producer.Retriever
	Vault     *vault.Vault
	Policy    *governance.Engine
	Deid      *governance.Deidentifier
	Logger    *zap.Logger
	Audit     *logging.AuditLogger
}

// Config tunes a Coordinator.
type Config struct {
	Thresholds Thresholds
	TopK       int
	// MaskPHI masks case text and metadata before they reach agents or the vault.
	MaskPHI bool
}

// Coordinator runs the full reasoning pipeline. It holds no per-run state
// and is safe for concurrent use.
type Coordinator struct {
	evidence      *producer.EvidenceAgent
	context       *producer.ContextAgent
	causal        *producer.CausalAgent
	contradiction *producer.ContradictionAgent

	builder *builder.Builder
	scorer  confidence.Scorer
	bias    *bias.Detector
	policy  *governance.Engine
	deid    *governance.Deidentifier
	vault   *vault.Vault

	cfg    Config
	logger *zap.Logger
	audit  *logging.AuditLogger
	now    func() time.Time
}

// New wires a Coordinator from its dependencies.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Producer == nil {
		return nil, fmt.Errorf("producer manager is required")
	}
	if deps.Vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = producer.DefaultTopK
	}

	logger := logging.OrNop(deps.Logger)
	policy := deps.Policy
	if policy == nil {
		var err error
		if policy, err = governance.NewEngine(nil, logger); err != nil {
			return nil, fmt.Errorf("failed to create default policy engine: %w", err)
		}
	}
	deid := deps.Deid
	if deid == nil {
		deid = governance.NewDeidentifier()
	}
	audit := deps.Audit
	if audit == nil {
		audit = logging.NopAudit()
	}

	return &Coordinator{
		evidence:      producer.NewEvidenceAgent(deps.Producer, logger),
		context:       producer.NewContextAgent(deps.Retriever, cfg.TopK, logger),
		causal:        producer.NewCausalAgent(deps.Producer, logger),
		contradiction: producer.NewContradictionAgent(deps.Producer, logger),
		builder:       builder.New(logger),
		scorer:        confidence.NewScorer(),
		bias:          bias.New(logger),
		policy:        policy,
		deid:          deid,
		vault:         deps.Vault,
		cfg:           cfg,
		logger:        logger.Named("pipeline"),
		audit:         audit,
		now:           time.Now,
	}, nil
}

// Vault returns the vault the coordinator records into.
func (c *Coordinator) Vault() *vault.Vault { return c.vault }

// Case is one unit of work.
type Case struct {
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	Text     string         `yaml:"text" json:"text"`
	Source   string         `yaml:"source,omitempty" json:"source,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// AgentResult is one agent's parsed output and execution record.
type AgentResult struct {
	ExecutionID int64              `json:"execution_id"`
	Output      any                `json:"output"`
	Execution   producer.Execution `json:"execution"`
	DurationMS  float64            `json:"duration_ms"`
}

// GraphResult is the graph view of a result.
type GraphResult struct {
	ID            string              `json:"graph_id"`
	Stats         causal.Stats        `json:"stats"`
	Document      causal.Document     `json:"document"`
	Visualization trail.Visualization `json:"visualization"`
}

// Result is everything a run produced.
type Result struct {
	RunID           string                 `json:"run_id"`
	Name            string                 `json:"name,omitempty"`
	InputID         int64                  `json:"input_id"`
	ExecutionID     int64                  `json:"execution_id"`
	OutputID        int64                  `json:"output_id"`
	Conclusion      string                 `json:"conclusion"`
	Confidence      float64                `json:"confidence"`
	Level           confidence.Level       `json:"confidence_level"`
	Factors         confidence.Factors     `json:"confidence_factors"`
	Explanation     confidence.Explanation `json:"confidence_explanation"`
	Proceed         bool                   `json:"proceed"`
	RiskFlags       []string               `json:"risk_flags"`
	Recommendations []string               `json:"recommendations"`
	Bias            bias.Report            `json:"bias_report"`
	Graph           GraphResult            `json:"causal_graph"`
	Trail           trail.Trail            `json:"reasoning_trail"`
	Summary         string                 `json:"trail_summary"`
	PolicyChecks    []governance.Check     `json:"policy_checks"`
	Findings        []governance.Finding   `json:"policy_findings"`
	Agents          map[string]AgentResult `json:"agent_results"`
	TokenUsage      producer.TokenUsage    `json:"token_usage"`
	StartedAt       time.Time              `json:"started_at"`
	DurationMS      float64                `json:"total_duration_ms"`
}

// Blocked reports whether any triggered policy asked to block the output.
func (r *Result) Blocked() bool {
	for _, f := range r.Findings {
		if f.Action == governance.ActionBlock {
			return true
		}
	}
	return false
}

// Run executes the pipeline for one case. A *producer.ProducerError or a
// vault.StorageError aborts the run; once a storage write fails nothing else
// is recorded for the case.
func (c *Coordinator) Run(ctx context.Context, in Case) (res *Result, err error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyCase
	}
	if in.Source == "" {
		in.Source = "user"
	}

	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("sevai.run_id", runID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.audit.Event(logging.AuditPipelineError, zap.String("run_id", runID), zap.Error(err))
			logger.Error("Pipeline run failed", zap.Error(err))
		}
		span.End()
	}()

	start := c.now()
	res = &Result{RunID: runID, Name: in.Name, StartedAt: start, Agents: make(map[string]AgentResult, 4)}
	c.audit.Event(logging.AuditPipelineStart, zap.String("run_id", runID), zap.String("source", in.Source))
	logger.Info("Starting reasoning pipeline", zap.String("source", in.Source))

	text, metadata := in.Text, in.Metadata
	if c.cfg.MaskPHI {
		text = c.deid.Mask(text)
		metadata = c.deid.MaskMap(metadata)
	}

	// Step 1: record the input
	if res.InputID, err = c.vault.LogInput(ctx, in.Source, text, metadata); err != nil {
		return nil, fmt.Errorf("failed to log input: %w", err)
	}

	// Step 2: evidence extraction
	evidence, exec, err := c.evidence.Extract(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("evidence extraction failed: %w", err)
	}
	if err := c.record(ctx, res, exec, text, evidence, nil); err != nil {
		return nil, err
	}

	// Step 3: context retrieval
	docs, query, exec := c.context.Retrieve(ctx, evidence)
	toolCalls := []map[string]any{{"tool": "retrieve", "query": query, "top_k": c.cfg.TopK, "results": len(docs)}}
	if err := c.record(ctx, res, exec, encode(evidence), docs, toolCalls); err != nil {
		return nil, err
	}

	// Step 4: causal inference, one causal step per chain
	causalOut, exec, err := c.causal.Infer(ctx, evidence, docs)
	if err != nil {
		return nil, fmt.Errorf("causal inference failed: %w", err)
	}
	if err := c.record(ctx, res, exec, encode(map[string]any{"extracted_data": evidence}), causalOut, nil); err != nil {
		return nil, err
	}
	causalExecID := res.Agents[producer.AgentCausal].ExecutionID
	for _, chain := range causalOut.Chains {
		_, err := c.vault.LogCausalStep(ctx, vault.CausalStep{
			ExecutionID:   causalExecID,
			Premise:       chain.From,
			Conclusion:    chain.To,
			Confidence:    chain.Confidence,
			EvidenceRefs:  []string{chain.Evidence},
			ReasoningType: "causal",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to log causal step: %w", err)
		}
	}

	// Step 5: contradiction resolution
	contradictions, exec, err := c.contradiction.Resolve(ctx, causalOut.Chains)
	if err != nil {
		return nil, fmt.Errorf("contradiction resolution failed: %w", err)
	}
	if err := c.record(ctx, res, exec, encode(map[string]any{"causal_chains": causalOut.Chains}), contradictions, nil); err != nil {
		return nil, err
	}
	res.ExecutionID = res.Agents[producer.AgentContradiction].ExecutionID

	// Step 6: causal graph
	g, err := c.builder.Build(evidence, docs, causalOut, contradictions)
	if err != nil {
		return nil, fmt.Errorf("failed to build causal graph: %w", err)
	}

	// Step 7: multi-factor confidence
	res.Factors = confidence.Factors{
		EvidenceQuality:    confidence.EvidenceQuality(SourceCredibility, RecencyScore, SampleSizeScore),
		ReasoningCoherence: confidence.ReasoningCoherence(len(contradictions.Contradictions) > 0, len(causalOut.Chains) > 0, LogicalConsistency),
		LLMConfidence: mean(
			res.Agents[producer.AgentEvidence].Execution.Confidence,
			res.Agents[producer.AgentCausal].Execution.Confidence,
			res.Agents[producer.AgentContradiction].Execution.Confidence,
		),
		ContextMatch: res.Agents[producer.AgentContext].Execution.Confidence,
	}
	if res.Explanation, err = c.scorer.Explain(res.Factors); err != nil {
		return nil, fmt.Errorf("failed to score confidence: %w", err)
	}
	res.Confidence = res.Explanation.Overall
	res.Level = res.Explanation.Level
	res.Proceed = confidence.ShouldProceed(res.Confidence, c.cfg.Thresholds.Proceed)

	// Step 8: bias check against the original case metadata
	res.Bias = c.bias.CheckGraph(g, in.Metadata)

	// Step 9: trail, visualization and summary
	res.Trail = trail.Extract(g)
	res.Summary = trail.Summary(g, res.Trail)
	res.Graph = GraphResult{
		ID:            g.ID,
		Stats:         res.Trail.GraphStats,
		Document:      g.Document(),
		Visualization: trail.ExportForVisualization(g),
	}

	// Step 10: conclusion, risk flags and recommendations
	res.Conclusion = Conclusion(evidence, causalOut, contradictions)
	res.RiskFlags = c.riskFlags(res.Confidence, contradictions, docs, res.Bias, res.Graph.Stats)
	res.Recommendations = c.recommendations(res.RiskFlags, res.Confidence, res.Bias)

	// Step 11: governance
	subject := governance.Subject{
		Confidence:     res.Confidence,
		Conclusion:     res.Conclusion,
		Contradictions: len(contradictions.Contradictions),
		HighSeverity:   contradictions.CriticalCount(),
		RiskFlags:      res.RiskFlags,
		PHICount:       c.deid.Count(res.Conclusion + "\n" + strings.Join(res.Recommendations, "\n")),
	}
	if res.PolicyChecks, err = c.policy.Check(subject); err != nil {
		return nil, fmt.Errorf("failed to evaluate policies: %w", err)
	}
	res.Findings = []governance.Finding{}
	for _, chk := range res.PolicyChecks {
		if chk.Finding != nil {
			res.Findings = append(res.Findings, *chk.Finding)
		}
		if _, err := c.vault.LogPolicyCheck(ctx, policyRecord(res.ExecutionID, chk)); err != nil {
			return nil, fmt.Errorf("failed to log policy check: %w", err)
		}
	}

	// Step 12: final output
	res.OutputID, err = c.vault.LogOutput(ctx, vault.Output{
		ExecutionID:     res.ExecutionID,
		Conclusion:      res.Conclusion,
		Confidence:      res.Confidence,
		RiskFlags:       res.RiskFlags,
		Recommendations: res.Recommendations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to log output: %w", err)
	}

	res.DurationMS = float64(c.now().Sub(start)) / float64(time.Millisecond)
	span.SetAttributes(
		attribute.Float64("sevai.confidence", res.Confidence),
		attribute.Int64("sevai.execution_id", res.ExecutionID),
	)
	c.audit.Event(logging.AuditPipelineComplete,
		zap.String("run_id", runID),
		zap.Int64("execution_id", res.ExecutionID),
		zap.Int64("output_id", res.OutputID),
		zap.Float64("confidence", res.Confidence),
		zap.Strings("risk_flags", res.RiskFlags),
	)
	logger.Info("Pipeline complete",
		zap.Int64("execution_id", res.ExecutionID),
		zap.Float64("confidence", res.Confidence),
		zap.String("level", string(res.Level)),
		zap.Float64("duration_ms", res.DurationMS),
	)
	return res, nil
}

// record logs one agent execution and stores its result on res.
func (c *Coordinator) record(ctx context.Context, res *Result, exec producer.Execution, input string, output any, toolCalls []map[string]any) error {
	id, err := c.vault.LogAgentExecution(ctx, vault.AgentExecution{
		InputID:     res.InputID,
		AgentID:     exec.AgentID,
		AgentInput:  input,
		AgentOutput: encode(output),
		ToolCalls:   toolCalls,
		DurationMS:  exec.DurationMS(),
	})
	if err != nil {
		return fmt.Errorf("failed to log %s execution: %w", exec.AgentID, err)
	}
	res.Agents[exec.AgentID] = AgentResult{
		ExecutionID: id,
		Output:      output,
		Execution:   exec,
		DurationMS:  exec.DurationMS(),
	}
	res.TokenUsage = res.TokenUsage.Add(exec.TokenUsage)
	return nil
}

func (c *Coordinator) riskFlags(conf float64, contradictions producer.ContradictionPayload, docs []producer.ContextDocument, report bias.Report, stats causal.Stats) []string {
	flags := []string{}
	if conf < c.cfg.Thresholds.LowConfidence {
		flags = append(flags, FlagLowConfidence)
	}
	if len(contradictions.Contradictions) > 0 {
		flags = append(flags, FlagContradictions)
	}
	if len(docs) == 0 {
		flags = append(flags, FlagNoContext)
	}
	if report.HasBias {
		flags = append(flags, FlagBiasPrefix+strings.Join(report.DetectedTypes, ","))
	}
	if !stats.IsDAG {
		flags = append(flags, FlagGraphCycles)
	}
	if stats.NumNodes > 0 && !stats.IsConnected {
		flags = append(flags, FlagGraphDisconnect)
	}
	return flags
}

func (c *Coordinator) recommendations(flags []string, conf float64, report bias.Report) []string {
	recs := []string{}
	for _, f := range flags {
		switch {
		case f == FlagLowConfidence:
			recs = append(recs, "Human review recommended due to low confidence")
		case f == FlagContradictions:
			recs = append(recs, "Expert consultation advised to resolve contradictions")
		case f == FlagNoContext:
			recs = append(recs, "Consider gathering additional medical context")
		case f == FlagGraphCycles:
			recs = append(recs, "Review circular reasoning in the causal graph")
		case f == FlagGraphDisconnect:
			recs = append(recs, "Some findings are not linked to the main reasoning chain")
		case strings.HasPrefix(f, FlagBiasPrefix):
			recs = append(recs, report.Recommendations...)
		}
	}
	if conf < c.cfg.Thresholds.Critical {
		recs = append(recs, "CRITICAL: Confidence below threshold - do not proceed without review")
	}
	if len(recs) == 0 {
		recs = append(recs, "Analysis appears sound - proceed with clinical judgment")
	}
	return recs
}

// Conclusion summarizes what the agents established.
func Conclusion(evidence producer.EvidencePayload, causalOut producer.CausalPayload, contradictions producer.ContradictionPayload) string {
	var parts []string
	if len(evidence.Diagnoses) > 0 {
		parts = append(parts, "Identified diagnoses: "+strings.Join(evidence.Diagnoses, ", "))
	}
	if len(evidence.Symptoms) > 0 {
		symptoms := evidence.Symptoms
		if len(symptoms) > 3 {
			symptoms = symptoms[:3]
		}
		parts = append(parts, "Based on symptoms: "+strings.Join(symptoms, ", "))
	}
	if n := len(causalOut.Chains); n > 0 {
		parts = append(parts, fmt.Sprintf("Established %d causal relationships", n))
	}
	if n := len(contradictions.Contradictions); n > 0 {
		parts = append(parts, fmt.Sprintf("Note: %d contradictions found and %d resolutions proposed", n, len(contradictions.Resolutions)))
	}
	if len(parts) == 0 {
		parts = append(parts, "Insufficient information for conclusive analysis")
	}
	return strings.Join(parts, ". ") + "."
}

func policyRecord(executionID int64, chk governance.Check) vault.PolicyCheck {
	details := map[string]any{
		"description": chk.Rule.Description,
		"priority":    chk.Rule.Priority,
		"action":      string(chk.Rule.Action),
		"condition":   chk.Rule.Condition,
	}
	violations := []map[string]any{}
	if f := chk.Finding; f != nil {
		details["triggered"] = true
		violations = append(violations, map[string]any{
			"rule_id": f.RuleID,
			"action":  string(f.Action),
			"details": f.Details,
		})
	}
	return vault.PolicyCheck{
		ExecutionID: executionID,
		PolicyName:  chk.Rule.ID,
		Result:      chk.Result,
		Details:     details,
		Violations:  violations,
	}
}

func encode(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func mean(vs ...float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

const tracerName = "github.com/dyluth/sevai/internal/pipeline"
