package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dyluth/sevai/internal/logging"
)

const instrumentationName = "github.com/dyluth/sevai/internal/producer"

// Defaults for ManagerConfig.
const (
	DefaultMaxAttempts     = 3
	DefaultRequestTimeout  = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// ManagerConfig controls retry and timeout behaviour.
type ManagerConfig struct {
	// MaxAttempts is the total number of calls made before giving up.
	MaxAttempts int
	// Timeout bounds each individual call.
	Timeout time.Duration
	// InitialInterval is the first backoff delay; it doubles on each retry.
	InitialInterval time.Duration
	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	return c
}

// Manager is the single entry point to a Generator. It applies per-call
// timeouts, retries transient failures with exponential backoff, and records
// token usage. Safe for concurrent use.
type Manager struct {
	gen     Generator
	cfg     ManagerConfig
	tracker *TokenTracker
	logger  *zap.Logger
	audit   *logging.AuditLogger

	tracer  trace.Tracer
	calls   metric.Int64Counter
	retries metric.Int64Counter
}

// NewManager wraps gen. A nil logger or audit logger disables that output.
func NewManager(gen Generator, cfg ManagerConfig, logger *zap.Logger, audit *logging.AuditLogger) (*Manager, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}

	meter := otel.Meter(instrumentationName)
	calls, err := meter.Int64Counter("sevai.producer.calls",
		metric.WithDescription("Producer calls by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}
	retries, err := meter.Int64Counter("sevai.producer.retries",
		metric.WithDescription("Producer call retries"))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	return &Manager{
		gen:     gen,
		cfg:     cfg.withDefaults(),
		tracker: NewTokenTracker(),
		logger:  logging.OrNop(logger).Named("producer"),
		audit:   audit,
		tracer:  otel.Tracer(instrumentationName),
		calls:   calls,
		retries: retries,
	}, nil
}

// Tracker exposes the manager's token accounting.
func (m *Manager) Tracker() *TokenTracker { return m.tracker }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return backoff.Permanent(err) }

// Generate calls the underlying generator on behalf of producer.
//
// Each attempt runs under its own Timeout. Failed attempts are retried with
// exponential backoff until MaxAttempts is reached, ctx is done, or the
// generator returns a Permanent error. Exhaustion is reported as a
// *ProducerError.
func (m *Manager) Generate(ctx context.Context, producer, prompt, system string, opts ...Option) (*Response, error) {
	ctx, span := m.tracer.Start(ctx, "producer.generate",
		trace.WithAttributes(attribute.String("sevai.producer", producer)))
	defer span.End()

	start := time.Now()
	attempts := 0
	var resp *Response

	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()

		r, err := m.gen.Generate(callCtx, prompt, system, opts...)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("call timed out after %s: %w", m.cfg.Timeout, err)
			}
			return err
		}
		if r == nil || r.Text == "" {
			return ErrEmptyResponse
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("sevai.producer", producer)))
		m.logger.Warn("Producer call failed, retrying",
			zap.String("producer", producer),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, m.backoff(ctx), notify); err != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("sevai.producer", producer), attribute.String("outcome", "failed")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Producer exhausted retries",
			zap.String("producer", producer),
			zap.Int("attempts", attempts),
			zap.Error(err))
		m.audit.Event(logging.AuditProducerFailure,
			zap.String("producer", producer),
			zap.Int("attempts", attempts),
			zap.String("error", err.Error()))
		return nil, &ProducerError{Producer: producer, Attempts: attempts, Err: err}
	}

	m.tracker.Add(producer, resp.TokenUsage)
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sevai.producer", producer), attribute.String("outcome", "ok")))
	span.SetAttributes(
		attribute.Int("sevai.attempts", attempts),
		attribute.Int("sevai.tokens.total", resp.TokenUsage.TotalTokens))
	m.audit.Event(logging.AuditProducerCall,
		zap.String("producer", producer),
		zap.String("model", resp.Model),
		zap.Int("attempts", attempts),
		zap.Int("total_tokens", resp.TokenUsage.TotalTokens),
		zap.Duration("duration", time.Since(start)))

	return resp, nil
}

func (m *Manager) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialInterval
	b.MaxInterval = m.cfg.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts-1)), ctx)
}
