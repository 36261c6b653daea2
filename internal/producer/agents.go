package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
)

// Agent identifiers as recorded in the vault.
const (
	AgentEvidence      = "evidence_ingestion"
	AgentContext       = "medical_context"
	AgentCausal        = "causal_inference"
	AgentContradiction = "contradiction_resolution"
)

// Context agent confidences.
const (
	ContextFoundConfidence   = 0.9
	ContextMissingConfidence = 0.3
	NoContradictionInput     = 1.0
)

// DefaultTopK is the number of documents the context agent requests.
const DefaultTopK = 5

// Execution describes one agent invocation for the audit trail.
type Execution struct {
	AgentID     string        `json:"agent_id"`
	Confidence  float64       `json:"confidence"`
	Duration    time.Duration `json:"duration"`
	TokenUsage  TokenUsage    `json:"token_usage"`
	Conclusions []string      `json:"conclusions"`
	// Parsed is false when the producer's answer fell back to the default payload.
	Parsed bool `json:"parsed"`
}

// DurationMS is the duration in fractional milliseconds.
func (e Execution) DurationMS() float64 {
	return float64(e.Duration) / float64(time.Millisecond)
}

// Retriever finds reference passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]ContextDocument, error)
}

// EvidenceAgent extracts structured medical entities from case text.
type EvidenceAgent struct {
	llm    *Manager
	logger *zap.Logger
}

// NewEvidenceAgent creates an evidence agent.
func NewEvidenceAgent(llm *Manager, logger *zap.Logger) *EvidenceAgent {
	return &EvidenceAgent{llm: llm, logger: logging.OrNop(logger).Named(AgentEvidence)}
}

const evidenceSystem = `You are a medical information extraction expert.
Extract structured medical information from the provided text.
Identify symptoms, diagnoses, treatments, medications, test results and outcomes.
Answer with a single JSON object.`

// Extract runs the evidence producer over text.
func (a *EvidenceAgent) Extract(ctx context.Context, text string) (EvidencePayload, Execution, error) {
	if strings.TrimSpace(text) == "" {
		return EvidencePayload{}, Execution{}, fmt.Errorf("input text cannot be empty")
	}

	start := time.Now()
	prompt := fmt.Sprintf(`Extract medical information from this text:

%s

Return a JSON object with this structure:
{
  "symptoms": ["..."],
  "diagnoses": ["..."],
  "treatments": ["..."],
  "medications": ["..."],
  "test_results": ["..."],
  "outcomes": ["..."],
  "temporal_info": "dates, durations"
}`, text)

	resp, err := a.llm.Generate(ctx, AgentEvidence, prompt, evidenceSystem, WithTemperature(0.3), WithJSONResponse())
	if err != nil {
		return EvidencePayload{}, Execution{}, err
	}

	payload, ok := ParseEvidence(resp.Text)
	if !ok {
		a.logger.Warn("Failed to parse evidence payload, using empty fallback")
	}

	exec := Execution{
		AgentID:     AgentEvidence,
		Confidence:  EvidenceFallbackConfidence,
		Duration:    time.Since(start),
		TokenUsage:  resp.TokenUsage,
		Conclusions: []string{fmt.Sprintf("Extracted %d medical entities", payload.EntityCount())},
		Parsed:      ok,
	}
	a.logger.Info("Evidence extracted",
		zap.Int("entities", payload.EntityCount()),
		zap.Duration("duration", exec.Duration))
	return payload, exec, nil
}

// ContextAgent retrieves reference passages for the extracted entities.
type ContextAgent struct {
	retriever Retriever
	topK      int
	logger    *zap.Logger
}

// NewContextAgent creates a context agent. A nil retriever yields no context.
func NewContextAgent(r Retriever, topK int, logger *zap.Logger) *ContextAgent {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &ContextAgent{retriever: r, topK: topK, logger: logging.OrNop(logger).Named(AgentContext)}
}

// ContextQuery joins symptoms, diagnoses and treatments into a retrieval query.
func ContextQuery(p EvidencePayload) string {
	var parts []string
	parts = append(parts, p.Symptoms...)
	parts = append(parts, p.Diagnoses...)
	parts = append(parts, p.Treatments...)
	return strings.Join(parts, " ")
}

// Retrieve looks up context for the evidence. Retrieval failure is not an
// error: it is logged and reported as missing context.
func (a *ContextAgent) Retrieve(ctx context.Context, evidence EvidencePayload) ([]ContextDocument, string, Execution) {
	start := time.Now()
	query := ContextQuery(evidence)
	exec := Execution{AgentID: AgentContext, Parsed: true}

	if query == "" {
		exec.Duration = time.Since(start)
		exec.Conclusions = []string{"No query provided"}
		return []ContextDocument{}, query, exec
	}

	var docs []ContextDocument
	if a.retriever != nil {
		var err error
		docs, err = a.retriever.Retrieve(ctx, query, a.topK)
		if err != nil {
			a.logger.Warn("Context retrieval failed, continuing without context", zap.Error(err))
			docs = nil
		}
	}
	if docs == nil {
		docs = []ContextDocument{}
	}

	exec.Confidence = ContextMissingConfidence
	if len(docs) > 0 {
		exec.Confidence = ContextFoundConfidence
	}
	exec.Duration = time.Since(start)
	exec.Conclusions = []string{fmt.Sprintf("Retrieved %d relevant documents", len(docs))}
	a.logger.Info("Context retrieved", zap.Int("documents", len(docs)))
	return docs, query, exec
}

// CausalAgent proposes cause-effect chains between extracted entities.
type CausalAgent struct {
	llm    *Manager
	logger *zap.Logger
}

// NewCausalAgent creates a causal agent.
func NewCausalAgent(llm *Manager, logger *zap.Logger) *CausalAgent {
	return &CausalAgent{llm: llm, logger: logging.OrNop(logger).Named(AgentCausal)}
}

const causalSystem = `You are a medical reasoning expert specialising in causal inference.
Build cause-effect chains showing how symptoms lead to diagnoses and how treatments affect outcomes.
Give each causal link a confidence between 0 and 1.`

// Infer runs the causal producer.
func (a *CausalAgent) Infer(ctx context.Context, evidence EvidencePayload, docs []ContextDocument) (CausalPayload, Execution, error) {
	start := time.Now()

	var contextText strings.Builder
	for i, d := range docs {
		if i == 3 {
			break
		}
		if i > 0 {
			contextText.WriteString("\n\n")
		}
		fmt.Fprintf(&contextText, "Document %d: %s...", i+1, truncate(d.Text, 200))
	}
	ctxBlock := contextText.String()
	if ctxBlock == "" {
		ctxBlock = "No additional context provided"
	}

	prompt := fmt.Sprintf(`Given this medical information:
Symptoms: %s
Diagnoses: %s
Treatments: %s
Outcomes: %s

And this contextual medical knowledge:
%s

Build causal chains showing the relationships. Return JSON:
{
  "causal_chains": [
    {"from": "cause", "to": "effect", "relationship": "leads to|caused by|treated by", "confidence": 0.0, "evidence": "supporting evidence"}
  ],
  "overall_confidence": 0.0,
  "uncertainties": ["..."]
}`,
		strings.Join(evidence.Symptoms, ", "),
		strings.Join(evidence.Diagnoses, ", "),
		strings.Join(evidence.Treatments, ", "),
		strings.Join(evidence.Outcomes, ", "),
		ctxBlock)

	resp, err := a.llm.Generate(ctx, AgentCausal, prompt, causalSystem, WithTemperature(0.4), WithJSONResponse())
	if err != nil {
		return CausalPayload{}, Execution{}, err
	}

	payload, ok := ParseCausal(resp.Text)
	if !ok {
		a.logger.Warn("Failed to parse causal payload, using fallback")
	}

	exec := Execution{
		AgentID:     AgentCausal,
		Confidence:  payload.OverallConfidence,
		Duration:    time.Since(start),
		TokenUsage:  resp.TokenUsage,
		Conclusions: []string{fmt.Sprintf("Identified %d causal relationships", len(payload.Chains))},
		Parsed:      ok,
	}
	a.logger.Info("Causal chains proposed", zap.Int("chains", len(payload.Chains)))
	return payload, exec, nil
}

// ContradictionAgent looks for conflicts among proposed chains.
type ContradictionAgent struct {
	llm    *Manager
	logger *zap.Logger
}

// NewContradictionAgent creates a contradiction agent.
func NewContradictionAgent(llm *Manager, logger *zap.Logger) *ContradictionAgent {
	return &ContradictionAgent{llm: llm, logger: logging.OrNop(logger).Named(AgentContradiction)}
}

const contradictionSystem = `You are a medical expert specialising in evidence analysis.
Identify contradictions or conflicts in medical reasoning.
Resolve conflicts by weighing evidence quality and confidence scores.`

// Resolve runs the contradiction producer. With no chains there is nothing
// to contradict, so the producer is not called.
func (a *ContradictionAgent) Resolve(ctx context.Context, chains []CausalChain) (ContradictionPayload, Execution, error) {
	start := time.Now()

	if len(chains) == 0 {
		return ContradictionPayload{
				Contradictions: []Contradiction{},
				Resolutions:    []Resolution{},
			}, Execution{
				AgentID:     AgentContradiction,
				Confidence:  NoContradictionInput,
				Duration:    time.Since(start),
				Conclusions: []string{"No contradictions found"},
				Parsed:      true,
			}, nil
	}

	var lines strings.Builder
	for i, c := range chains {
		fmt.Fprintf(&lines, "%d. %s → %s (confidence: %.2f)\n", i+1, c.From, c.To, c.Confidence)
	}

	prompt := fmt.Sprintf(`Analyse these causal relationships for contradictions:

%s
Identify any contradictions (e.g. conflicting diagnoses, incompatible treatments).
For each contradiction propose a resolution. Return JSON:
{
  "contradictions": [
    {"statement_1": "...", "statement_2": "...", "type": "diagnosis|treatment|outcome", "severity": "high|medium|low"}
  ],
  "resolutions": [
    {"contradiction_index": 0, "resolution": "...", "rationale": "...", "confidence": 0.0}
  ],
  "overall_confidence": 0.0
}`, lines.String())

	resp, err := a.llm.Generate(ctx, AgentContradiction, prompt, contradictionSystem, WithTemperature(0.3), WithJSONResponse())
	if err != nil {
		return ContradictionPayload{}, Execution{}, err
	}

	payload, ok := ParseContradiction(resp.Text)
	if !ok {
		a.logger.Warn("Failed to parse contradiction payload, using fallback")
	}

	exec := Execution{
		AgentID:    AgentContradiction,
		Confidence: payload.OverallConfidence,
		Duration:   time.Since(start),
		TokenUsage: resp.TokenUsage,
		Conclusions: []string{fmt.Sprintf("Found %d contradictions, resolved %d",
			len(payload.Contradictions), len(payload.Resolutions))},
		Parsed: ok,
	}
	return payload, exec, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
