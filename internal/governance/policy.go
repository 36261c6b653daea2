package governance

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
)

// Action is what a triggered rule asks for.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionWarn     Action = "warn"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
)

// Built-in condition types. ConditionExpression evaluates Rule.Expression.
const (
	ConditionContainsPHI           = "contains_phi"
	ConditionConfidenceThreshold   = "confidence_threshold"
	ConditionCriticalContradiction = "critical_contradiction"
	ConditionExpression            = "expression"
)

// Policy check results stored in the vault.
const (
	ResultPass = "pass"
	ResultWarn = "warn"
	ResultFail = "fail"
)

// Rule is one governance rule. Higher priority is evaluated first.
type Rule struct {
	ID          string         `yaml:"id" json:"id"`
	Description string         `yaml:"description" json:"description"`
	Priority    int            `yaml:"priority" json:"priority"`
	Action      Action         `yaml:"action" json:"action"`
	Condition   string         `yaml:"condition" json:"condition"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	// Expression is an expr-lang boolean over the Subject fields, used when
	// Condition is "expression".
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// DefaultConfidenceThreshold is SAFETY-001's threshold.
const DefaultConfidenceThreshold = 0.7

// DefaultRules returns the HIPAA and safety rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "HIPAA-001",
			Description: "Prevent unmasked PHI in final output",
			Priority:    100,
			Action:      ActionBlock,
			Condition:   ConditionContainsPHI,
		},
		{
			ID:          "SAFETY-001",
			Description: "Minimum confidence for treatment suggestions",
			Priority:    90,
			Action:      ActionWarn,
			Condition:   ConditionConfidenceThreshold,
			Parameters:  map[string]any{"threshold": DefaultConfidenceThreshold},
		},
		{
			ID:          "SAFETY-002",
			Description: "Halt on critical contradictions in diagnosis",
			Priority:    95,
			Action:      ActionEscalate,
			Condition:   ConditionCriticalContradiction,
		},
	}
}

// Subject is what rules are evaluated against.
type Subject struct {
	Confidence     float64  `json:"confidence"`
	Conclusion     string   `json:"conclusion"`
	Contradictions int      `json:"contradictions"`
	HighSeverity   int      `json:"high_severity"`
	RiskFlags      []string `json:"risk_flags"`
	PHICount       int      `json:"phi_count"`
}

func (s Subject) env() map[string]any {
	flags := s.RiskFlags
	if flags == nil {
		flags = []string{}
	}
	return map[string]any{
		"confidence":     s.Confidence,
		"conclusion":     s.Conclusion,
		"contradictions": s.Contradictions,
		"high_severity":  s.HighSeverity,
		"risk_flags":     flags,
		"phi_count":      s.PHICount,
	}
}

// Finding is a triggered rule.
type Finding struct {
	RuleID      string         `json:"rule_id"`
	Description string         `json:"description"`
	Priority    int            `json:"priority"`
	Action      Action         `json:"action"`
	Details     map[string]any `json:"details"`
}

// Check is the outcome of one rule, triggered or not.
type Check struct {
	Rule    Rule     `json:"rule"`
	Result  string   `json:"result"`
	Finding *Finding `json:"finding,omitempty"`
}

// ResultFor maps a triggered action to a stored check result.
func ResultFor(a Action) string {
	switch a {
	case ActionBlock, ActionEscalate:
		return ResultFail
	case ActionWarn:
		return ResultWarn
	default:
		return ResultPass
	}
}

type compiledRule struct {
	Rule
	program *vm.Program
}

// Engine evaluates rules in descending priority. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	rules  []compiledRule
	logger *zap.Logger
}

// NewEngine validates and compiles rules. A nil slice uses DefaultRules.
func NewEngine(rules []Rule, logger *zap.Logger) (*Engine, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	e := &Engine{logger: logging.OrNop(logger).Named("policy")}
	seen := map[string]bool{}
	for _, r := range rules {
		cr, err := compile(r)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		e.rules = append(e.rules, cr)
	}
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority > e.rules[j].Priority })
	e.logger.Debug("Policy engine initialized", zap.Int("rules", len(e.rules)))
	return e, nil
}

func compile(r Rule) (compiledRule, error) {
	if r.ID == "" {
		return compiledRule{}, fmt.Errorf("id is required")
	}
	switch r.Action {
	case ActionAllow, ActionWarn, ActionBlock, ActionEscalate:
	default:
		return compiledRule{}, fmt.Errorf("unknown action %q", r.Action)
	}

	cr := compiledRule{Rule: r}
	switch r.Condition {
	case ConditionContainsPHI, ConditionCriticalContradiction:
	case ConditionConfidenceThreshold:
		if _, err := threshold(r); err != nil {
			return compiledRule{}, err
		}
	case ConditionExpression:
		if r.Expression == "" {
			return compiledRule{}, fmt.Errorf("expression is required")
		}
		program, err := expr.Compile(r.Expression, expr.Env(Subject{}.env()), expr.AsBool())
		if err != nil {
			return compiledRule{}, fmt.Errorf("invalid expression: %w", err)
		}
		cr.program = program
	default:
		return compiledRule{}, fmt.Errorf("unknown condition %q", r.Condition)
	}
	return cr, nil
}

func threshold(r Rule) (float64, error) {
	v, ok := r.Parameters["threshold"]
	if !ok {
		return DefaultConfidenceThreshold, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("threshold must be a number, got %T", v)
	}
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}

// Check evaluates every rule and reports each outcome in priority order.
func (e *Engine) Check(s Subject) ([]Check, error) {
	checks := make([]Check, 0, len(e.rules))
	for _, r := range e.rules {
		hit, details, err := e.triggered(r, s)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		c := Check{Rule: r.Rule, Result: ResultPass}
		if hit {
			c.Result = ResultFor(r.Action)
			c.Finding = &Finding{
				RuleID:      r.ID,
				Description: r.Description,
				Priority:    r.Priority,
				Action:      r.Action,
				Details:     details,
			}
			e.logger.Info("Policy rule triggered",
				zap.String("rule", r.ID),
				zap.String("action", string(r.Action)))
		}
		checks = append(checks, c)
	}
	return checks, nil
}

// Evaluate returns only the triggered rules, highest priority first.
func (e *Engine) Evaluate(s Subject) ([]Finding, error) {
	checks, err := e.Check(s)
	if err != nil {
		return nil, err
	}
	findings := []Finding{}
	for _, c := range checks {
		if c.Finding != nil {
			findings = append(findings, *c.Finding)
		}
	}
	return findings, nil
}

func (e *Engine) triggered(r compiledRule, s Subject) (bool, map[string]any, error) {
	switch r.Condition {
	case ConditionContainsPHI:
		return s.PHICount > 0, map[string]any{"phi_count": s.PHICount}, nil
	case ConditionCriticalContradiction:
		return s.HighSeverity > 0, map[string]any{"high_severity": s.HighSeverity}, nil
	case ConditionConfidenceThreshold:
		t, err := threshold(r.Rule)
		if err != nil {
			return false, nil, err
		}
		return s.Confidence < t, map[string]any{"confidence": s.Confidence, "threshold": t}, nil
	case ConditionExpression:
		out, err := expr.Run(r.program, s.env())
		if err != nil {
			return false, nil, err
		}
		hit, _ := out.(bool)
		return hit, map[string]any{"expression": r.Expression}, nil
	}
	return false, nil, nil
}
