package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
)

const instrumentationName = "github.com/dyluth/sevai/pkg/vault"

// Vault records reasoning runs into hash-chained stores.
// It is safe for concurrent use when its Store is.
type Vault struct {
	store   Store
	logger  *zap.Logger
	audit   *logging.AuditLogger
	tracer  trace.Tracer
	appends metric.Int64Counter
	now     func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) { v.logger = logging.OrNop(l).Named("vault") }
}

// WithAudit sets the audit logger.
func WithAudit(a *logging.AuditLogger) Option {
	return func(v *Vault) { v.audit = a }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a vault over store.
func New(store Store, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		logger: zap.NewNop(),
		audit:  logging.NopAudit(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	// A counter that fails to register leaves appends uncounted
	if c, err := otel.Meter(instrumentationName).Int64Counter("sevai.vault.appends",
		metric.WithDescription("Vault appends by kind and outcome")); err == nil {
		v.appends = c
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store returns the underlying store.
func (v *Vault) Store() Store { return v.store }

// Ping checks the store is reachable.
func (v *Vault) Ping(ctx context.Context) error {
	if err := v.store.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying store.
func (v *Vault) Close() error {
	return v.store.Close()
}

// LogInput records a raw case and returns its id.
func (v *Vault) LogInput(ctx context.Context, source, content string, metadata map[string]any) (int64, error) {
	if source == "" {
		return 0, &ValidationError{Field: "source", Reason: "required"}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	contentHash, err := ContentHash(map[string]string{"content": content})
	if err != nil {
		return 0, fmt.Errorf("failed to hash input content: %w", err)
	}
	in := Input{Source: source, Content: content, ContentHash: contentHash, Metadata: metadata}
	return v.append(ctx, KindInput, 0, in)
}

// LogAgentExecution records an agent invocation and returns its id.
func (v *Vault) LogAgentExecution(ctx context.Context, a AgentExecution) (int64, error) {
	if err := a.normalize(); err != nil {
		return 0, err
	}
	return v.append(ctx, KindAgentExecution, 0, a)
}

// LogCausalStep records an inference against an execution and returns its id.
func (v *Vault) LogCausalStep(ctx context.Context, c CausalStep) (int64, error) {
	if err := c.normalize(); err != nil {
		return 0, err
	}
	return v.append(ctx, KindCausalStep, c.ExecutionID, c)
}

// LogPolicyCheck records a governance result and returns its id.
func (v *Vault) LogPolicyCheck(ctx context.Context, p PolicyCheck) (int64, error) {
	if err := p.normalize(); err != nil {
		return 0, err
	}
	id, err := v.append(ctx, KindPolicyCheck, p.ExecutionID, p)
	if err != nil {
		return 0, err
	}
	if p.Result == ResultFail {
		v.audit.Event(logging.AuditPolicyFinding,
			zap.String("policy", p.PolicyName),
			zap.String("result", p.Result),
			zap.Int64("execution_id", p.ExecutionID),
			zap.Any("violations", p.Violations))
	}
	return id, nil
}

// LogOutput records the final result of a run and returns its id.
func (v *Vault) LogOutput(ctx context.Context, o Output) (int64, error) {
	if err := o.normalize(); err != nil {
		return 0, err
	}
	return v.append(ctx, KindOutput, o.ExecutionID, o)
}

func (v *Vault) append(ctx context.Context, kind Kind, executionID int64, payload any) (int64, error) {
	ctx, span := v.tracer.Start(ctx, "vault.append", trace.WithAttributes(
		attribute.String("vault.kind", string(kind)),
	))
	defer span.End()

	body, err := Canonical(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	entry, err := v.store.Append(ctx, kind, func(h Head) (Entry, error) {
		e := Entry{
			Kind:        kind,
			ID:          h.LastID + 1,
			Timestamp:   v.now().UTC(),
			PrevHash:    h.LastHash,
			ExecutionID: executionID,
			Payload:     body,
		}
		hash, err := ComputeHash(e)
		if err != nil {
			return Entry{}, err
		}
		e.Hash = hash
		return e, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		v.count(ctx, kind, "error")
		v.logger.Error("Failed to append record", zap.String("kind", string(kind)), zap.Error(err))
		return 0, asStorage("append", kind, err)
	}

	span.SetAttributes(attribute.Int64("vault.id", entry.ID))
	v.count(ctx, kind, "ok")
	v.logger.Debug("Record appended",
		zap.String("kind", string(kind)),
		zap.Int64("id", entry.ID),
		zap.String("hash", short(entry.Hash)))
	v.audit.Event(logging.AuditVaultAppend,
		zap.String("kind", string(kind)),
		zap.Int64("id", entry.ID),
		zap.String("hash", entry.Hash))
	return entry.ID, nil
}

func (v *Vault) count(ctx context.Context, kind Kind, outcome string) {
	if v.appends == nil {
		return
	}
	v.appends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("vault.kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}

// GetReasoningTrail joins an agent execution with its causal steps, policy
// checks and first output. An unknown id yields a NotFoundError.
func (v *Vault) GetReasoningTrail(ctx context.Context, executionID int64) (*ReasoningTrail, error) {
	ctx, span := v.tracer.Start(ctx, "vault.trail", trace.WithAttributes(
		attribute.Int64("vault.execution_id", executionID),
	))
	defer span.End()

	e, err := v.store.Get(ctx, KindAgentExecution, executionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: KindAgentExecution, ID: executionID}
		}
		return nil, asStorage("read", KindAgentExecution, err)
	}

	t := &ReasoningTrail{
		Execution:    AgentExecutionRecord{Meta: e.Meta()},
		CausalSteps:  []CausalStepRecord{},
		PolicyChecks: []PolicyCheckRecord{},
	}
	if err := e.Decode(&t.Execution.AgentExecution); err != nil {
		return nil, err
	}

	steps, err := v.store.ByExecution(ctx, KindCausalStep, executionID)
	if err != nil {
		return nil, asStorage("read", KindCausalStep, err)
	}
	for _, s := range steps {
		r := CausalStepRecord{Meta: s.Meta()}
		if err := s.Decode(&r.CausalStep); err != nil {
			return nil, err
		}
		t.CausalSteps = append(t.CausalSteps, r)
	}

	checks, err := v.store.ByExecution(ctx, KindPolicyCheck, executionID)
	if err != nil {
		return nil, asStorage("read", KindPolicyCheck, err)
	}
	for _, c := range checks {
		r := PolicyCheckRecord{Meta: c.Meta()}
		if err := c.Decode(&r.PolicyCheck); err != nil {
			return nil, err
		}
		t.PolicyChecks = append(t.PolicyChecks, r)
	}

	outputs, err := v.store.ByExecution(ctx, KindOutput, executionID)
	if err != nil {
		return nil, asStorage("read", KindOutput, err)
	}
	if len(outputs) > 0 {
		r := OutputRecord{Meta: outputs[0].Meta()}
		if err := outputs[0].Decode(&r.Output); err != nil {
			return nil, err
		}
		t.Output = &r
	}
	return t, nil
}

// GetInput returns one input record.
func (v *Vault) GetInput(ctx context.Context, id int64) (*InputRecord, error) {
	e, err := v.store.Get(ctx, KindInput, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Kind: KindInput, ID: id}
		}
		return nil, asStorage("read", KindInput, err)
	}
	r := &InputRecord{Meta: e.Meta()}
	if err := e.Decode(&r.Input); err != nil {
		return nil, err
	}
	return r, nil
}

// ListOptions filters List. Zero values disable a filter.
type ListOptions struct {
	AfterID int64
	Since   time.Time
	Until   time.Time
	// Limit keeps only the most recent matches.
	Limit int
}

func (o ListOptions) match(e Entry) bool {
	if e.ID <= o.AfterID {
		return false
	}
	if !o.Since.IsZero() && e.Timestamp.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && !e.Timestamp.Before(o.Until) {
		return false
	}
	return true
}

// List returns the entries of one kind in ascending id order.
func (v *Vault) List(ctx context.Context, kind Kind, opts ListOptions) ([]Entry, error) {
	out := []Entry{}
	err := v.store.Scan(ctx, kind, func(e Entry) error {
		if opts.match(e) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, asStorage("scan", kind, err)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func asStorage(op string, kind Kind, err error) error {
	var se *StorageError
	var ve *ValidationError
	if errors.As(err, &se) || errors.As(err, &ve) {
		return err
	}
	return &StorageError{Op: op, Kind: kind, Err: err}
}

func short(hash string) string {
	if len(hash) > 16 {
		return hash[:16]
	}
	return hash
}
