// Package producer defines the contract between the reasoning engine and the
// external producers that turn free text into structured proposals, plus the
// four agents that drive them.
//
// Every producer is reached through one call:
//
//	Generate(ctx, prompt, system, opts...) -> {text, token usage}
//
// The Manager wraps a Generator with per-call timeouts, bounded retry with
// exponential backoff and token accounting. Agents parse the returned text
// into closed payload types (EvidencePayload, CausalPayload,
// ContradictionPayload); text that does not parse degrades to the documented
// fallback payload instead of failing the run.
package producer

import "context"

// Generator is anything that can answer a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, system string, opts ...Option) (*Response, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt, system string, opts ...Option) (*Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt, system string, opts ...Option) (*Response, error) {
	return f(ctx, prompt, system, opts...)
}

// Response is a producer's answer.
type Response struct {
	Text       string     `json:"text"`
	Model      string     `json:"model,omitempty"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// TokenUsage counts tokens consumed by one or more calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// Options are per-call generation settings.
type Options struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	JSONResponse bool     `json:"json_response,omitempty"`
}

// Option mutates Options.
type Option func(*Options)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithJSONResponse asks the producer to answer with a single JSON object.
func WithJSONResponse() Option {
	return func(o *Options) { o.JSONResponse = true }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
