package vault

import (
	"fmt"
	"math"
	"time"
)

// Kind names one record chain.
type Kind string

const (
	KindInput          Kind = "input"
	KindAgentExecution Kind = "agent_execution"
	KindCausalStep     Kind = "causal_step"
	KindPolicyCheck    Kind = "policy_check"
	KindOutput         Kind = "output"
)

// Kinds lists every record kind in pipeline order.
var Kinds = []Kind{KindInput, KindAgentExecution, KindCausalStep, KindPolicyCheck, KindOutput}

// ParseKind accepts a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown record kind %q", s)}
}

// Policy check results.
const (
	ResultPass = "pass"
	ResultWarn = "warn"
	ResultFail = "fail"
)

// DefaultReasoningType is used for causal steps that do not name one.
const DefaultReasoningType = "symbolic"

// Meta is the chain bookkeeping shared by every record.
type Meta struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Input is a raw case as it entered the system.
type Input struct {
	Source      string         `json:"source"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Metadata    map[string]any `json:"metadata"`
}

// AgentExecution records one agent invocation.
type AgentExecution struct {
	InputID     int64            `json:"input_id"`
	AgentID     string           `json:"agent_id"`
	AgentInput  string           `json:"agent_input"`
	AgentOutput string           `json:"agent_output"`
	ToolCalls   []map[string]any `json:"tool_calls"`
	DurationMS  float64          `json:"duration_ms"`
}

// CausalStep records one premise-to-conclusion inference.
type CausalStep struct {
	ExecutionID   int64    `json:"execution_id"`
	Premise       string   `json:"premise"`
	Conclusion    string   `json:"conclusion"`
	Confidence    float64  `json:"confidence"`
	EvidenceRefs  []string `json:"evidence_refs"`
	ReasoningType string   `json:"reasoning_type"`
}

// PolicyCheck records a governance rule evaluation.
type PolicyCheck struct {
	ExecutionID int64            `json:"execution_id"`
	PolicyName  string           `json:"policy_name"`
	Result      string           `json:"result"`
	Details     map[string]any   `json:"details"`
	Violations  []map[string]any `json:"violations"`
}

// Output records the final result of a run.
type Output struct {
	ExecutionID     int64    `json:"execution_id"`
	Conclusion      string   `json:"conclusion"`
	Confidence      float64  `json:"confidence"`
	RiskFlags       []string `json:"risk_flags"`
	Recommendations []string `json:"recommendations"`
}

// Stored records: payload plus chain bookkeeping.
type (
	InputRecord struct {
		Meta
		Input
	}
	AgentExecutionRecord struct {
		Meta
		AgentExecution
	}
	CausalStepRecord struct {
		Meta
		CausalStep
	}
	PolicyCheckRecord struct {
		Meta
		PolicyCheck
	}
	OutputRecord struct {
		Meta
		Output
	}
)

// ReasoningTrail joins an agent execution with everything logged against it.
type ReasoningTrail struct {
	Execution    AgentExecutionRecord `json:"execution"`
	CausalSteps  []CausalStepRecord   `json:"causal_steps"`
	PolicyChecks []PolicyCheckRecord  `json:"policy_checks"`
	Output       *OutputRecord        `json:"output"`
}

func (a *AgentExecution) normalize() error {
	if a.AgentID == "" {
		return &ValidationError{Field: "agent_id", Reason: "required"}
	}
	if a.DurationMS < 0 || math.IsNaN(a.DurationMS) {
		return &ValidationError{Field: "duration_ms", Reason: "must be a non-negative number"}
	}
	if a.ToolCalls == nil {
		a.ToolCalls = []map[string]any{}
	}
	return nil
}

func (c *CausalStep) normalize() error {
	if c.Premise == "" {
		return &ValidationError{Field: "premise", Reason: "required"}
	}
	if c.Conclusion == "" {
		return &ValidationError{Field: "conclusion", Reason: "required"}
	}
	if err := checkConfidence(c.Confidence); err != nil {
		return err
	}
	if c.EvidenceRefs == nil {
		c.EvidenceRefs = []string{}
	}
	if c.ReasoningType == "" {
		c.ReasoningType = DefaultReasoningType
	}
	return nil
}

func (p *PolicyCheck) normalize() error {
	if p.PolicyName == "" {
		return &ValidationError{Field: "policy_name", Reason: "required"}
	}
	switch p.Result {
	case ResultPass, ResultWarn, ResultFail:
	default:
		return &ValidationError{Field: "result", Reason: fmt.Sprintf("must be pass, warn or fail, got %q", p.Result)}
	}
	if p.Details == nil {
		p.Details = map[string]any{}
	}
	if p.Violations == nil {
		p.Violations = []map[string]any{}
	}
	return nil
}

func (o *Output) normalize() error {
	if o.Conclusion == "" {
		return &ValidationError{Field: "conclusion", Reason: "required"}
	}
	if err := checkConfidence(o.Confidence); err != nil {
		return err
	}
	if o.RiskFlags == nil {
		o.RiskFlags = []string{}
	}
	if o.Recommendations == nil {
		o.Recommendations = []string{}
	}
	return nil
}

func checkConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v is outside [0, 1]", c)}
	}
	return nil
}
